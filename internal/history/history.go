// Package history keeps a bounded linear undo/redo log of whole-tree snapshots.
package history

import "github.com/hpungsan/canopy/internal/tree"

// DefaultCapacity is the number of snapshots kept when none is configured.
const DefaultCapacity = 50

// History is a bounded sequence of tree snapshots plus a cursor. The
// snapshot at the cursor is the displayed tree. History is not safe for
// concurrent use; the owning session serializes access.
type History struct {
	snapshots  []*tree.Tree
	cursor     int
	capacity   int
	suppressed bool
}

// State summarizes the log for status displays.
type State struct {
	Cursor  int  `json:"cursor"`
	Len     int  `json:"len"`
	CanUndo bool `json:"can_undo"`
	CanRedo bool `json:"can_redo"`
}

// New returns an empty history. capacity <= 0 means DefaultCapacity.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{capacity: capacity, cursor: -1}
}

// Reset discards every snapshot and seeds the log with t.
func (h *History) Reset(t *tree.Tree) {
	h.snapshots = []*tree.Tree{t}
	h.cursor = 0
	h.suppressed = false
}

// Record appends t after the cursor, discarding any redo branch and
// evicting the oldest snapshot when over capacity. It reports whether a
// snapshot was appended; nothing is recorded while suppressed.
func (h *History) Record(t *tree.Tree) bool {
	if h.suppressed || t == nil {
		return false
	}
	h.snapshots = append(h.snapshots[:h.cursor+1], t)
	if len(h.snapshots) > h.capacity {
		drop := len(h.snapshots) - h.capacity
		clear(h.snapshots[:drop])
		h.snapshots = h.snapshots[drop:]
	}
	h.cursor = len(h.snapshots) - 1
	return true
}

// Undo moves the cursor back one step and returns that snapshot. It sets
// the suppression flag so that installing the returned tree does not
// record it again; the caller clears it with Release once installed.
func (h *History) Undo() (*tree.Tree, bool) {
	if !h.CanUndo() {
		return nil, false
	}
	h.suppressed = true
	h.cursor--
	return h.snapshots[h.cursor], true
}

// Redo moves the cursor forward one step. Suppression works as in Undo.
func (h *History) Redo() (*tree.Tree, bool) {
	if !h.CanRedo() {
		return nil, false
	}
	h.suppressed = true
	h.cursor++
	return h.snapshots[h.cursor], true
}

// Release clears the suppression flag set by Undo or Redo.
func (h *History) Release() { h.suppressed = false }

// Suppressed reports whether Record is currently swallowed.
func (h *History) Suppressed() bool { return h.suppressed }

func (h *History) CanUndo() bool { return h.cursor > 0 }

func (h *History) CanRedo() bool { return h.cursor >= 0 && h.cursor < len(h.snapshots)-1 }

func (h *History) Len() int { return len(h.snapshots) }

func (h *History) Cursor() int { return h.cursor }

func (h *History) Capacity() int { return h.capacity }

// Current returns the snapshot at the cursor, or nil when empty.
func (h *History) Current() *tree.Tree {
	if h.cursor < 0 || h.cursor >= len(h.snapshots) {
		return nil
	}
	return h.snapshots[h.cursor]
}

// State returns the cursor position and undo/redo availability.
func (h *History) State() State {
	return State{Cursor: h.cursor, Len: len(h.snapshots), CanUndo: h.CanUndo(), CanRedo: h.CanRedo()}
}
