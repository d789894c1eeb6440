package metadata

import (
	"fmt"
	"sort"
	"strings"
)

// Node is one metadata element: an object, field, attribute, validator, key
// or the root. Nodes are created by the registry factories and owned by the
// Tree they are attached to.
type Node struct {
	tree   *Tree
	id     NodeID
	parent NodeID

	typ      string
	subType  string
	name     string
	dataType DataType
	value    any

	children []NodeID
	index    map[string]NodeID
}

func newNode(typ, subType, name string, dt DataType) *Node {
	return &Node{
		id:       NoParent,
		parent:   NoParent,
		typ:      typ,
		subType:  subType,
		name:     name,
		dataType: dt,
		index:    make(map[string]NodeID),
	}
}

func childKey(typ, name string) string {
	return strings.ToLower(typ) + ":" + name
}

func (n *Node) ID() NodeID         { return n.id }
func (n *Node) Type() string       { return n.typ }
func (n *Node) SubType() string    { return n.subType }
func (n *Node) Name() string       { return n.name }
func (n *Node) DataType() DataType { return n.dataType }
func (n *Node) Tree() *Tree        { return n.tree }

// Value returns the node's value. Attributes carry their configured value.
func (n *Node) Value() any {
	return n.value
}

// SetValue sets the node's value, converted to the node's data type. It is
// only valid while the tree is loading.
func (n *Node) SetValue(v any) error {
	if n.tree == nil {
		return ErrForeignNode
	}
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()

	if n.tree.State() != Loading {
		return &StateError{Op: "set value", State: n.tree.State()}
	}
	coerced, err := n.dataType.Coerce(v)
	if err != nil {
		return fmt.Errorf("%s: %w", n.pathLocked(), err)
	}
	n.value = coerced
	return nil
}

// AddChild adds child under n. See Tree.AddChild.
func (n *Node) AddChild(child *Node) error {
	return n.tree.AddChild(n, child)
}

// Parent returns the owning node, if attached.
func (n *Node) Parent() (*Node, bool) {
	if n.tree == nil || n.parent == NoParent {
		return nil, false
	}
	unlock := n.tree.readLock()
	defer unlock()

	p := n.tree.node(n.parent)
	return p, p != nil
}

// Children returns the children of the given type in insertion order. An
// empty kind returns every child.
func (n *Node) Children(kind string) []*Node {
	if n.tree == nil {
		return nil
	}
	unlock := n.tree.readLock()
	defer unlock()
	return n.childrenLocked(kind)
}

func (n *Node) childrenLocked(kind string) []*Node {
	kind = strings.ToLower(kind)
	out := make([]*Node, 0, len(n.children))
	for _, id := range n.children {
		c := n.tree.node(id)
		if c == nil {
			continue
		}
		if kind == "" || strings.ToLower(c.typ) == kind {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the named child of the given type. A miss returns a
// NotFoundError listing the available names of that type.
func (n *Node) Child(name, kind string) (*Node, error) {
	if n.tree == nil {
		return nil, ErrForeignNode
	}
	unlock := n.tree.readLock()
	defer unlock()

	if n.tree.State() == Destroyed {
		return nil, &StateError{Op: "read", State: Destroyed}
	}

	if kind != "" {
		if id, ok := n.index[childKey(kind, name)]; ok {
			return n.tree.node(id), nil
		}
	} else {
		for _, c := range n.childrenLocked("") {
			if c.name == name {
				return c, nil
			}
		}
	}

	var available []string
	for _, c := range n.childrenLocked(kind) {
		available = append(available, c.name)
	}
	sort.Strings(available)
	return nil, &NotFoundError{
		ParentPath: n.pathLocked(),
		Kind:       kind,
		Name:       name,
		Available:  available,
	}
}

// HasChild reports whether a child of the given type and name exists.
func (n *Node) HasChild(name, kind string) bool {
	c, err := n.Child(name, kind)
	return err == nil && c != nil
}

// Path renders the location of the node, e.g. "root/object:Person/field:id".
func (n *Node) Path() string {
	if n.tree == nil {
		return n.label()
	}
	unlock := n.tree.readLock()
	defer unlock()
	return n.pathLocked()
}

func (n *Node) pathLocked() string {
	var parts []string
	seen := make(map[NodeID]bool)
	for cur := n; cur != nil && !seen[cur.id]; {
		seen[cur.id] = true
		parts = append(parts, cur.label())
		if cur.parent == NoParent || cur.tree == nil {
			break
		}
		cur = cur.tree.node(cur.parent)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

func (n *Node) label() string {
	if n.typ == TypeRoot {
		return n.name
	}
	return n.typ + ":" + n.name
}

func (n *Node) String() string {
	return fmt.Sprintf("%s.%s '%s'", n.typ, n.subType, n.name)
}
