// Package workspace owns the live state of one project: the tree, its
// undo history, open tabs, chat transcript, settings, persistence status
// and the current preview.
package workspace

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/bep/debounce"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/canopy/internal/agent"
	"github.com/hpungsan/canopy/internal/config"
	"github.com/hpungsan/canopy/internal/db"
	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/history"
	"github.com/hpungsan/canopy/internal/ops"
	"github.com/hpungsan/canopy/internal/tree"
)

// Store is the persistence backend. *db.Store implements it.
type Store interface {
	LoadTree(ctx context.Context) (*tree.Tree, error)
	SaveTree(ctx context.Context, t *tree.Tree) error
	LoadSettings(ctx context.Context) (*db.Settings, error)
	SaveSettings(ctx context.Context, st *db.Settings) error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger; the session adds a component field.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Session) { s.log = log }
}

// WithProducer sets the agent used by Ask.
func WithProducer(p agent.Producer) Option {
	return func(s *Session) { s.producer = p }
}

// WithPreviewDir sets where preview artifacts are written. Without it
// artifacts are kept in memory only.
func WithPreviewDir(dir string) Option {
	return func(s *Session) { s.previewDir = dir }
}

// Session is the explicitly constructed application context. Every
// mutating method runs as one locked step that installs a complete new
// tree; no caller ever observes a partially applied change.
type Session struct {
	cfg        *config.Config
	store      Store
	log        *logrus.Entry
	producer   agent.Producer
	previewDir string

	mu         sync.Mutex
	tree       *tree.Tree
	hist       *history.History
	tabs       []string
	active     string
	chat       []agent.Message
	settings   db.Settings
	generation uint64
	preview    *Artifact
	sync       SyncStatus
	closed     bool
	// loadFailed blocks saves until Restore so a stored project that could
	// not be read is never overwritten by the default one.
	loadFailed bool

	saveMu    sync.Mutex
	debounced func(func())
}

// Open loads the tree and settings from store (nil for an in-memory
// session) and returns a ready session. A store that fails to load leaves
// the built-in default project in place, reports the sync error and keeps
// the stored tree untouched until Restore.
func Open(ctx context.Context, store Store, cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Session{
		cfg:       cfg,
		store:     store,
		hist:      history.New(cfg.HistoryCapacity),
		debounced: debounce.New(cfg.SaveDebounce()),
		settings:  *db.DefaultSettings(cfg.AgentModel),
		sync:      SyncStatus{State: SyncIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = logrus.NewEntry(l)
	}
	s.log = s.log.WithField("component", "workspace")

	t := tree.Default()
	if store != nil {
		loaded, err := store.LoadTree(ctx)
		switch {
		case err != nil:
			s.log.WithError(err).Warn("load tree failed; using default project")
			s.sync = SyncStatus{State: SyncError, Error: ErrStorageOffline}
			s.loadFailed = true
		case loaded != nil:
			t = loaded
		}

		st, err := store.LoadSettings(ctx)
		if err != nil {
			s.log.WithError(err).Warn("load settings failed")
		} else if st != nil {
			s.settings = mergeSettings(s.settings, *st)
		}
	}

	s.tree = t
	s.hist.Reset(t)
	if files := t.Files(); len(files) > 0 {
		s.tabs = []string{files[0].ID}
		s.active = files[0].ID
	}
	return s, nil
}

// Snapshot returns the live tree. Trees are immutable, so the result stays
// valid after later mutations.
func (s *Session) Snapshot() *tree.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// HistoryState reports the undo cursor.
func (s *Session) HistoryState() history.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.State()
}

// Lookup resolves ref as a node id, then as the first file with that name,
// then as a slash path below the root.
func (s *Session) Lookup(ref string) (*tree.Node, error) {
	t := s.Snapshot()
	if n := t.Get(ref); n != nil {
		return n, nil
	}
	if n := t.FindFileByName(ref); n != nil {
		return n, nil
	}
	ref = strings.Trim(ref, "/")
	for _, n := range t.Nodes() {
		if n.ID != tree.RootID && t.Path(n.ID) == ref {
			return n, nil
		}
	}
	return nil, errors.NewNotFound(ref)
}

// commit installs next as the live tree. Structural changes are recorded
// in history; Record is swallowed while an undo or redo is being installed.
// Returns false when next is the live tree already.
func (s *Session) commit(next *tree.Tree, record bool) bool {
	if next == s.tree {
		return false
	}
	s.tree = next
	if record {
		s.hist.Record(next)
	}
	s.pruneTabs()
	s.scheduleSave()
	return true
}

// CreateFile adds an empty file under parentID ("" for root), opens it and
// makes it active.
func (s *Session) CreateFile(name, parentID string) (string, error) {
	return s.AddFile(name, "", parentID)
}

// AddFile is CreateFile with initial content, recorded as one step.
func (s *Session) AddFile(name, content, parentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, id := s.tree.AddFile(name, content, parentID)
	if id == "" {
		return "", errors.NewInvalidRequest("parent is not a folder: " + parentID)
	}
	s.commit(next, true)
	s.openTab(id)
	s.active = id
	return id, nil
}

// CreateFolder adds an empty expanded folder under parentID ("" for root).
func (s *Session) CreateFolder(name, parentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, id := s.tree.CreateFolder(name, parentID)
	if id == "" {
		return "", errors.NewInvalidRequest("parent is not a folder: " + parentID)
	}
	s.commit(next, true)
	return id, nil
}

// Edit replaces a file's content the way an editor buffer does: the change
// is persisted but not recorded in history. Use Checkpoint to make edits
// undoable as one step.
func (s *Session) Edit(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree.File(id) == nil {
		return errors.NewNotFound(id)
	}
	s.commit(s.tree.UpdateContent(id, content), false)
	return nil
}

// Write replaces a file's content as a recorded change.
func (s *Session) Write(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree.File(id) == nil {
		return errors.NewNotFound(id)
	}
	s.commit(s.tree.UpdateContent(id, content), true)
	return nil
}

// Rename changes a node's display name.
func (s *Session) Rename(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree.Get(id) == nil {
		return errors.NewNotFound(id)
	}
	if name == "" {
		return errors.NewInvalidRequest("name is required")
	}
	s.commit(s.tree.Rename(id, name), true)
	return nil
}

// Delete removes a node (and a folder's descendants) and closes any tabs
// showing removed files. It returns the removed ids.
func (s *Session) Delete(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == tree.RootID {
		return nil, errors.NewInvalidRequest("cannot delete the root folder")
	}
	if s.tree.Get(id) == nil {
		return nil, errors.NewNotFound(id)
	}
	next, removed := s.tree.Delete(id)
	s.commit(next, true)
	return removed, nil
}

// ToggleOpen flips a folder's expanded state. Not recorded in history.
func (s *Session) ToggleOpen(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tree.Get(id).IsFolder() {
		return errors.NewNotFound(id)
	}
	s.commit(s.tree.ToggleOpen(id), false)
	return nil
}

// Move re-parents a node under newParentID ("" for root).
func (s *Session) Move(id, newParentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree.Get(id) == nil {
		return errors.NewNotFound(id)
	}
	next := s.tree.Move(id, newParentID)
	if next == s.tree && s.tree.Get(id).Parent() != resolveParent(newParentID) {
		return errors.NewInvalidRequest("cannot move " + id + " into " + newParentID)
	}
	s.commit(next, true)
	return nil
}

func resolveParent(id string) string {
	if strings.TrimSpace(id) == "" {
		return tree.RootID
	}
	return id
}

// ApplyOperations applies a batch as one tree change and one history
// entry, opening every affected file as a tab. The active file is unchanged.
func (s *Session) ApplyOperations(batch []ops.FileOperation) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, affected := ops.ApplyOperations(s.tree, batch)
	s.commit(next, true)
	for _, id := range affected {
		s.openTab(id)
	}
	return affected
}

// Import adds files at the root as one history entry.
func (s *Session) Import(files []ops.ImportFile) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ids := ops.ImportFiles(s.tree, files)
	s.commit(next, true)
	return ids
}

// Restore replaces the whole tree, for example from a backup. The
// replacement is recorded, so it can be undone.
func (s *Session) Restore(t *tree.Tree) error {
	if err := tree.Validate(t); err != nil {
		return errors.NewInvalidRequest(err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadFailed {
		s.loadFailed = false
		s.sync = SyncStatus{State: SyncPending}
	}
	s.commit(t, true)
	if s.active == "" {
		if files := t.Files(); len(files) > 0 {
			s.openTab(files[0].ID)
			s.active = files[0].ID
		}
	}
	return nil
}

// Undo steps back one history entry. It reports false at the oldest entry.
func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.hist.Undo()
	if !ok {
		return false
	}
	defer s.hist.Release()
	s.commit(prev, true)
	return true
}

// Redo steps forward one history entry. It reports false at the newest entry.
func (s *Session) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := s.hist.Redo()
	if !ok {
		return false
	}
	defer s.hist.Release()
	s.commit(next, true)
	return true
}

// Checkpoint records the live tree when it differs from the history
// cursor, folding unrecorded edits into one undoable step.
func (s *Session) Checkpoint() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hist.Current() == s.tree {
		return false
	}
	return s.hist.Record(s.tree)
}

// Tabs returns open file ids in display order.
func (s *Session) Tabs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tabs)
}

// Active returns the active file id, or "".
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// OpenTab opens a file and makes it active.
func (s *Session) OpenTab(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree.File(id) == nil {
		return errors.NewNotFound(id)
	}
	s.openTab(id)
	s.active = id
	return nil
}

// Activate is OpenTab under the name the editor uses.
func (s *Session) Activate(id string) error { return s.OpenTab(id) }

// CloseTab closes a tab. Closing the active tab activates the last
// remaining one.
func (s *Session) CloseTab(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tabs = slices.DeleteFunc(s.tabs, func(t string) bool { return t == id })
	if s.active == id {
		s.active = ""
		if n := len(s.tabs); n > 0 {
			s.active = s.tabs[n-1]
		}
	}
}

func (s *Session) openTab(id string) {
	if !slices.Contains(s.tabs, id) {
		s.tabs = append(s.tabs, id)
	}
}

// pruneTabs drops tabs and the active id that no longer name a file.
func (s *Session) pruneTabs() {
	s.tabs = slices.DeleteFunc(s.tabs, func(id string) bool { return s.tree.File(id) == nil })
	if s.active != "" && s.tree.File(s.active) == nil {
		s.active = ""
	}
}
