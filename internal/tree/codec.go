package tree

import (
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Encode serializes the tree as a JSON object mapping id to node, keys in
// iteration order. This is the durable and backup representation.
func Encode(t *Tree) ([]byte, error) {
	om := orderedmap.New[string, *Node]()
	for _, n := range t.Nodes() {
		om.Set(n.ID, n)
	}
	return json.MarshalIndent(om, "", "  ")
}

// Decode parses a tree produced by Encode. Key order becomes iteration
// order. Nodes that cannot be reached from the root through children lists
// (left behind by older clients that deleted folders without their
// contents) are dropped. The result is validated.
func Decode(data []byte) (*Tree, error) {
	om := orderedmap.New[string, *Node]()
	if err := json.Unmarshal(data, om); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}

	nodes := make([]*Node, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		n := pair.Value
		if n == nil {
			return nil, invalid("null node %q", pair.Key)
		}
		if n.ID == "" {
			n.ID = pair.Key
		}
		if n.ID != pair.Key {
			return nil, invalid("node keyed %q has id %q", pair.Key, n.ID)
		}
		nodes = append(nodes, n)
	}
	return FromNodes(reachable(nodes))
}

// reachable keeps the nodes listed under the root, directly or through
// descendant folders, in their original order. Without a root node the
// input is returned unchanged for Validate to reject.
func reachable(nodes []*Node) []*Node {
	byID := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.ID]; !dup {
			byID[n.ID] = n
		}
	}
	if byID[RootID] == nil {
		return nodes
	}

	seen := map[string]bool{RootID: true}
	queue := []string{RootID}
	for len(queue) > 0 {
		cur := byID[queue[0]]
		queue = queue[1:]
		for _, c := range cur.Children {
			if byID[c] != nil && !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	if len(seen) == len(nodes) {
		return nodes
	}

	out := make([]*Node, 0, len(seen))
	for _, n := range nodes {
		if seen[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// FromNodes builds a validated tree from nodes in iteration order.
func FromNodes(nodes []*Node) (*Tree, error) {
	t := &Tree{nodes: make(map[string]*Node, len(nodes)), order: make([]string, 0, len(nodes))}
	for _, n := range nodes {
		if _, dup := t.nodes[n.ID]; dup {
			return nil, invalid("duplicate id %q", n.ID)
		}
		t.nodes[n.ID] = n.clone()
		t.order = append(t.order, n.ID)
	}
	if err := Validate(t); err != nil {
		return nil, err
	}
	return t, nil
}
