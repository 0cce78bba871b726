package workspace

import (
	"context"
	"time"

	"github.com/hpungsan/canopy/internal/db"
	"github.com/hpungsan/canopy/internal/errors"
)

// SyncState describes where the live tree stands relative to the store.
type SyncState string

const (
	SyncIdle    SyncState = "idle"    // nothing changed since open
	SyncPending SyncState = "pending" // a save is scheduled
	SyncSaving  SyncState = "saving"
	SyncSaved   SyncState = "saved"
	SyncError   SyncState = "error"
)

// User-facing sync error messages.
const (
	ErrStorageOffline  = "storage offline"
	ErrWriteRestricted = "write restricted"
)

const backgroundSaveTimeout = 10 * time.Second

// SyncStatus is the persistence indicator shown by the surfaces.
type SyncStatus struct {
	State     SyncState `json:"state"`
	Error     string    `json:"error,omitempty"`
	LastSaved time.Time `json:"last_saved,omitzero"`
}

// SyncStatus returns the current persistence status.
func (s *Session) SyncStatus() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sync
}

// scheduleSave restarts the quiet-period timer. Caller holds s.mu.
func (s *Session) scheduleSave() {
	if s.store == nil || s.closed {
		return
	}
	if s.sync.State != SyncError {
		s.sync.State = SyncPending
	}
	s.debounced(s.backgroundSave)
}

func (s *Session) backgroundSave() {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundSaveTimeout)
	defer cancel()
	_ = s.save(ctx)
}

// save writes the live tree without holding s.mu during the store call.
// Saves are serialized, and each one reads the tree when it starts, so the
// newest tree is the last one written.
func (s *Session) save(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.loadFailed {
		s.mu.Unlock()
		s.log.Debug("save skipped: stored tree was not loaded")
		return nil
	}
	t := s.tree
	s.sync.State = SyncSaving
	s.mu.Unlock()

	err := s.store.SaveTree(ctx, t)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.sync.State = SyncError
		s.sync.Error = ErrWriteRestricted
		s.log.WithError(err).WithField("nodes", t.Len()).Warn("save tree failed")
		return errors.NewPersistence("save tree", err)
	}
	s.sync.Error = ""
	s.sync.LastSaved = time.Now()
	s.sync.State = SyncSaved
	if s.tree != t {
		// Changed while saving; the scheduled save will pick it up
		s.sync.State = SyncPending
	}
	s.log.WithField("nodes", t.Len()).Debug("tree saved")
	return nil
}

// Flush saves the live tree synchronously.
func (s *Session) Flush(ctx context.Context) error {
	return s.save(ctx)
}

// Close flushes pending changes, releases the preview artifact and stops
// further saves. The store itself is owned by the caller.
func (s *Session) Close(ctx context.Context) error {
	err := s.Flush(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.releasePreview()
	return err
}

// Settings returns the current user settings.
func (s *Session) Settings() db.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings validates and persists new settings. Empty fields keep
// their current values.
func (s *Session) UpdateSettings(ctx context.Context, st db.Settings) (db.Settings, error) {
	switch st.Theme {
	case "", "dark", "light":
	default:
		return db.Settings{}, errors.NewInvalidRequest("theme must be dark or light")
	}

	s.mu.Lock()
	s.settings = mergeSettings(s.settings, st)
	merged := s.settings
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveSettings(ctx, &merged); err != nil {
			s.log.WithError(err).Warn("save settings failed")
			return merged, err
		}
	}
	return merged, nil
}

func mergeSettings(base, over db.Settings) db.Settings {
	if over.Theme != "" {
		base.Theme = over.Theme
	}
	if over.Model != "" {
		base.Model = over.Model
	}
	return base
}
