// Package ops implements multi-file operations over a workspace tree:
// applying agent proposals, composing previews, and moving trees and files
// in and out of the local filesystem.
package ops

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/tree"
)

// Action is the producer's stated intent for an operation. It is advisory:
// ApplyOperations decides create vs update by name lookup.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// FileOperation is one proposed change to a file, addressed by name.
type FileOperation struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Action  Action `json:"action"`
}

// MaxOperations caps a single batch.
const MaxOperations = 100

// ApplyOperations applies ops in order to t and returns the new tree plus
// the ids touched, in first-touch order without duplicates.
//
// Each operation targets the first file (iteration order) whose name equals
// Path exactly; a match has its content replaced, otherwise a new file is
// created under the root. Path is matched against names only, never against
// folder paths, so "src/a.js" creates a root-level file literally named
// "src/a.js". The input tree is never modified.
func ApplyOperations(t *tree.Tree, ops []FileOperation) (*tree.Tree, []string) {
	var affected []string
	for _, op := range ops {
		var id string
		if n := t.FindFileByName(op.Path); n != nil {
			id = n.ID
			t = t.UpdateContent(id, op.Content)
		} else {
			t, id = t.AddFile(op.Path, op.Content, tree.RootID)
		}
		if id != "" && !slices.Contains(affected, id) {
			affected = append(affected, id)
		}
	}
	return t, affected
}

// ValidateOperations rejects batches the surfaces should not forward:
// too many operations, empty paths, or unknown actions.
func ValidateOperations(ops []FileOperation) error {
	if len(ops) > MaxOperations {
		return errors.NewInvalidRequest(fmt.Sprintf("too many operations: %d (max %d)", len(ops), MaxOperations))
	}
	for i, op := range ops {
		if strings.TrimSpace(op.Path) == "" {
			return errors.NewInvalidRequest(fmt.Sprintf("operation %d: path is required", i))
		}
		switch op.Action {
		case "", ActionCreate, ActionUpdate:
		default:
			return errors.NewInvalidRequest(fmt.Sprintf("operation %d: action must be create or update", i))
		}
	}
	return nil
}

// DecodeOperations parses a batch from JSON. Both a bare array and an
// object with an "operations" field are accepted.
func DecodeOperations(data []byte) ([]FileOperation, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.NewInvalidRequest("no operations provided")
	}

	var ops []FileOperation
	if data[0] == '[' {
		if err := json.Unmarshal(data, &ops); err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid operations JSON: %v", err))
		}
	} else {
		var wrapped struct {
			Operations []FileOperation `json:"operations"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid operations JSON: %v", err))
		}
		ops = wrapped.Operations
	}

	if err := ValidateOperations(ops); err != nil {
		return nil, err
	}
	return ops, nil
}
