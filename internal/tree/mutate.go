package tree

import (
	"slices"
	"strings"
)

// builder is a copy-on-write working copy of a Tree. Node pointers are
// shared with the source until replaced via put.
type builder struct {
	nodes map[string]*Node
	order []string
}

func (t *Tree) edit() *builder {
	nodes := make(map[string]*Node, len(t.nodes)+1)
	for id, n := range t.nodes {
		nodes[id] = n
	}
	return &builder{nodes: nodes, order: slices.Clone(t.order)}
}

// put installs n, keeping its slot if the id already exists.
func (b *builder) put(n *Node) {
	if _, ok := b.nodes[n.ID]; !ok {
		b.order = append(b.order, n.ID)
	}
	b.nodes[n.ID] = n
}

func (b *builder) remove(ids ...string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := b.nodes[id]; ok {
			drop[id] = true
			delete(b.nodes, id)
		}
	}
	b.order = slices.DeleteFunc(b.order, func(id string) bool { return drop[id] })
}

func (b *builder) build() *Tree {
	return &Tree{nodes: b.nodes, order: b.order}
}

func resolveParent(parentID string) string {
	if strings.TrimSpace(parentID) == "" {
		return RootID
	}
	return parentID
}

// CreateFile adds an empty file under parentID ("" means root) and returns
// the new tree and the file id. If the parent is not a folder the input
// tree is returned with an empty id.
func (t *Tree) CreateFile(name, parentID string) (*Tree, string) {
	return t.AddFile(name, "", parentID)
}

// AddFile adds a file with the given content under parentID ("" means root).
func (t *Tree) AddFile(name, content, parentID string) (*Tree, string) {
	parentID = resolveParent(parentID)
	if !t.Get(parentID).IsFolder() {
		return t, ""
	}
	id := NewID()
	b := t.edit()
	b.put(&Node{ID: id, Name: name, Type: KindFile, Content: content, ParentID: &parentID})
	b.appendChild(parentID, id)
	return b.build(), id
}

// CreateFolder adds an empty, expanded folder under parentID ("" means root).
func (t *Tree) CreateFolder(name, parentID string) (*Tree, string) {
	parentID = resolveParent(parentID)
	if !t.Get(parentID).IsFolder() {
		return t, ""
	}
	id := NewID()
	b := t.edit()
	b.put(&Node{ID: id, Name: name, Type: KindFolder, ParentID: &parentID, Children: []string{}, IsOpen: true})
	b.appendChild(parentID, id)
	return b.build(), id
}

func (b *builder) appendChild(parentID, id string) {
	p := b.nodes[parentID].clone()
	p.Children = append(p.Children, id)
	b.put(p)
}

// UpdateContent replaces a file's content. Folders and unknown ids are no-ops.
func (t *Tree) UpdateContent(id, content string) *Tree {
	n := t.File(id)
	if n == nil {
		return t
	}
	if n.Content == content {
		return t
	}
	c := n.clone()
	c.Content = content
	b := t.edit()
	b.put(c)
	return b.build()
}

// Rename replaces a node's name in place. Empty names and unknown ids are no-ops.
func (t *Tree) Rename(id, name string) *Tree {
	n := t.Get(id)
	if n == nil || name == "" || n.Name == name {
		return t
	}
	c := n.clone()
	c.Name = name
	b := t.edit()
	b.put(c)
	return b.build()
}

// Delete removes a node and, for folders, every descendant. It returns the
// new tree and the removed ids. Deleting the root or an unknown id is a no-op.
func (t *Tree) Delete(id string) (*Tree, []string) {
	n := t.Get(id)
	if n == nil || id == RootID {
		return t, nil
	}
	removed := append([]string{id}, t.Descendants(id)...)

	b := t.edit()
	if p := b.nodes[n.Parent()]; p != nil {
		c := p.clone()
		c.Children = slices.DeleteFunc(c.Children, func(cid string) bool { return cid == id })
		b.put(c)
	}
	b.remove(removed...)
	return b.build(), removed
}

// ToggleOpen flips a folder's expanded state. Files are no-ops.
func (t *Tree) ToggleOpen(id string) *Tree {
	n := t.Get(id)
	if !n.IsFolder() {
		return t
	}
	c := n.clone()
	c.IsOpen = !c.IsOpen
	b := t.edit()
	b.put(c)
	return b.build()
}

// Move re-parents a node under newParentID ("" means root), appending it
// to the new parent's children. Moving the root, moving into a file, or
// moving a folder into its own subtree is a no-op.
func (t *Tree) Move(id, newParentID string) *Tree {
	newParentID = resolveParent(newParentID)
	n := t.Get(id)
	if n == nil || id == RootID || !t.Get(newParentID).IsFolder() {
		return t
	}
	if newParentID == id || slices.Contains(t.Descendants(id), newParentID) {
		return t
	}
	if n.Parent() == newParentID {
		return t
	}

	b := t.edit()
	if old := b.nodes[n.Parent()]; old != nil {
		c := old.clone()
		c.Children = slices.DeleteFunc(c.Children, func(cid string) bool { return cid == id })
		b.put(c)
	}
	moved := n.clone()
	moved.ParentID = &newParentID
	b.put(moved)
	b.appendChild(newParentID, id)
	return b.build()
}
