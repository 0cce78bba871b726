package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/ops"
	"github.com/hpungsan/canopy/internal/tree"
)

// Artifact is the live preview. At most one exists per session.
type Artifact struct {
	*ops.Preview
	Path      string    `json:"path,omitempty"` // empty for in-memory artifacts
	CreatedAt time.Time `json:"created_at"`
}

// BuildPreview composes a preview from the live tree and active file and
// installs it, releasing the previous artifact first. The tree is not
// modified. If composition fails the previous artifact is kept.
func (s *Session) BuildPreview() (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := ops.ComposePreview(s.tree, s.active)
	if err != nil {
		return nil, err
	}

	a := &Artifact{Preview: p, CreatedAt: time.Now()}
	s.releasePreview()
	if s.previewDir != "" {
		path := filepath.Join(s.previewDir, fmt.Sprintf("preview-%s.html", tree.NewID()))
		if err := os.WriteFile(path, []byte(p.Document), 0600); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("failed to write preview: %w", err))
		}
		a.Path = path
	}
	s.preview = a
	s.log.WithField("entry", p.EntryName).Debug("preview built")
	return a, nil
}

// Preview returns the live artifact, or nil.
func (s *Session) Preview() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// releasePreview drops the live artifact and removes its file. Caller holds s.mu.
func (s *Session) releasePreview() {
	if s.preview == nil {
		return
	}
	if s.preview.Path != "" {
		if err := os.Remove(s.preview.Path); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).Warn("remove preview artifact")
		}
	}
	s.preview = nil
}
