package tree

import (
	"slices"
	"strings"
)

// RootID is the identifier of the single root folder.
const RootID = "root"

// Kind distinguishes files from folders.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Node is a file or folder entry in a Tree.
// Nodes held by a Tree are never modified; mutations replace them.
type Node struct {
	// ID is the stable identifier; never reused after deletion
	ID string `json:"id"`

	// Name is the display name, used for type inference and name matching
	Name string `json:"name"`

	Type Kind `json:"type"`

	// Content is the full text buffer (files only)
	Content string `json:"content,omitempty"`

	// ParentID is nil only for the root folder
	ParentID *string `json:"parentId"`

	// Children lists child ids in display order (folders only)
	Children []string `json:"children,omitempty"`

	// IsOpen is expand/collapse UI state (folders only)
	IsOpen bool `json:"isOpen,omitempty"`
}

// IsFile reports whether n is a file node.
func (n *Node) IsFile() bool { return n != nil && n.Type == KindFile }

// IsFolder reports whether n is a folder node.
func (n *Node) IsFolder() bool { return n != nil && n.Type == KindFolder }

// Parent returns the parent id or "" for the root.
func (n *Node) Parent() string {
	if n == nil || n.ParentID == nil {
		return ""
	}
	return *n.ParentID
}

// clone returns a copy of n that does not share the children slice.
func (n *Node) clone() *Node {
	c := *n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	if n.Children != nil {
		c.Children = slices.Clone(n.Children)
	}
	return &c
}

// Tree maps node ids to nodes. A Tree is an immutable value: every
// mutation returns a new Tree that shares unchanged nodes with the old one.
type Tree struct {
	nodes map[string]*Node
	order []string
}

// Entry is one row of the structural listing sent as agent context.
type Entry struct {
	ID   string `json:"id"`
	Type Kind   `json:"type"`
	Name string `json:"name"`
}

// New returns a tree containing only the root folder.
func New() *Tree {
	root := &Node{ID: RootID, Name: "Canopy Project", Type: KindFolder, Children: []string{}, IsOpen: true}
	return &Tree{
		nodes: map[string]*Node{RootID: root},
		order: []string{RootID},
	}
}

// Get returns the node with the given id, or nil.
func (t *Tree) Get(id string) *Node {
	if t == nil {
		return nil
	}
	return t.nodes[id]
}

// File returns the file node with the given id, or nil if id is absent or a folder.
func (t *Tree) File(id string) *Node {
	if n := t.Get(id); n.IsFile() {
		return n
	}
	return nil
}

// Root returns the root folder.
func (t *Tree) Root() *Node { return t.Get(RootID) }

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// IDs returns node ids in iteration order.
func (t *Tree) IDs() []string {
	if t == nil {
		return nil
	}
	return slices.Clone(t.order)
}

// Nodes returns all nodes in iteration order.
func (t *Tree) Nodes() []*Node {
	if t == nil {
		return nil
	}
	out := make([]*Node, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id])
	}
	return out
}

// Files returns file nodes in iteration order.
func (t *Tree) Files() []*Node {
	var out []*Node
	for _, n := range t.Nodes() {
		if n.IsFile() {
			out = append(out, n)
		}
	}
	return out
}

// FindFileByName returns the first file (iteration order) whose name equals name.
func (t *Tree) FindFileByName(name string) *Node {
	for _, n := range t.Nodes() {
		if n.IsFile() && n.Name == name {
			return n
		}
	}
	return nil
}

// Search returns files whose name contains term, case-insensitively.
// An empty term matches every file.
func (t *Tree) Search(term string) []*Node {
	term = strings.ToLower(strings.TrimSpace(term))
	var out []*Node
	for _, n := range t.Files() {
		if term == "" || strings.Contains(strings.ToLower(n.Name), term) {
			out = append(out, n)
		}
	}
	return out
}

// Path returns the slash-joined names from below the root down to id.
func (t *Tree) Path(id string) string {
	var parts []string
	seen := make(map[string]bool)
	for n := t.Get(id); n != nil && n.ID != RootID && !seen[n.ID]; n = t.Get(n.Parent()) {
		seen[n.ID] = true
		parts = append(parts, n.Name)
	}
	slices.Reverse(parts)
	return strings.Join(parts, "/")
}

// Listing returns id, type and name for every node in iteration order.
func (t *Tree) Listing() []Entry {
	nodes := t.Nodes()
	out := make([]Entry, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Entry{ID: n.ID, Type: n.Type, Name: n.Name})
	}
	return out
}

// Descendants returns the ids below id in depth-first display order.
func (t *Tree) Descendants(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	var walk func(string)
	walk = func(cur string) {
		n := t.Get(cur)
		if !n.IsFolder() {
			return
		}
		for _, c := range n.Children {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out
}

// Equal reports whether a and b hold structurally equal nodes in the same order.
func Equal(a, b *Tree) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i, id := range a.order {
		if b.order[i] != id {
			return false
		}
		if !nodeEqual(a.nodes[id], b.nodes[id]) {
			return false
		}
	}
	return true
}

func nodeEqual(x, y *Node) bool {
	if x == y {
		return true
	}
	if x == nil || y == nil {
		return false
	}
	return x.ID == y.ID &&
		x.Name == y.Name &&
		x.Type == y.Type &&
		x.Content == y.Content &&
		x.Parent() == y.Parent() &&
		(x.ParentID == nil) == (y.ParentID == nil) &&
		slices.Equal(x.Children, y.Children) &&
		x.IsOpen == y.IsOpen
}
