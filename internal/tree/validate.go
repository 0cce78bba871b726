package tree

import (
	"errors"
	"fmt"
)

// ErrInvalidTree is wrapped by every structural validation failure.
var ErrInvalidTree = errors.New("invalid tree")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTree, fmt.Sprintf(format, args...))
}

// Validate checks the structural invariants: a single parentless root
// folder, parent/children links that agree in both directions, and every
// node reachable from the root.
func Validate(t *Tree) error {
	if t == nil {
		return invalid("nil tree")
	}
	if len(t.nodes) != len(t.order) {
		return invalid("order has %d ids for %d nodes", len(t.order), len(t.nodes))
	}

	root := t.nodes[RootID]
	switch {
	case root == nil:
		return invalid("missing root")
	case !root.IsFolder():
		return invalid("root is not a folder")
	case root.ParentID != nil:
		return invalid("root has a parent")
	}

	for _, id := range t.order {
		n := t.nodes[id]
		if n == nil {
			return invalid("order lists unknown id %q", id)
		}
		if n.ID != id {
			return invalid("node keyed %q has id %q", id, n.ID)
		}
		if n.Type != KindFile && n.Type != KindFolder {
			return invalid("node %q has unknown type %q", id, n.Type)
		}
		if n.IsFile() && len(n.Children) > 0 {
			return invalid("file %q has children", id)
		}
		if id == RootID {
			continue
		}
		if n.ParentID == nil {
			return invalid("node %q has no parent", id)
		}
		parent := t.nodes[*n.ParentID]
		if !parent.IsFolder() {
			return invalid("parent of %q is not a folder", id)
		}
		if count(parent.Children, id) != 1 {
			return invalid("folder %q lists %q %d times", parent.ID, id, count(parent.Children, id))
		}
	}

	for _, id := range t.order {
		n := t.nodes[id]
		for _, c := range n.Children {
			child := t.nodes[c]
			if child == nil {
				return invalid("folder %q lists unknown child %q", id, c)
			}
			if child.Parent() != id {
				return invalid("folder %q lists %q whose parent is %q", id, c, child.Parent())
			}
		}
	}

	// Back-references agree, so reaching every node from the root rules out cycles.
	seen := map[string]bool{RootID: true}
	queue := []string{RootID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range t.nodes[cur].Children {
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	if len(seen) != len(t.nodes) {
		return invalid("%d nodes unreachable from root", len(t.nodes)-len(seen))
	}
	return nil
}

func count(ids []string, id string) int {
	n := 0
	for _, x := range ids {
		if x == id {
			n++
		}
	}
	return n
}
