// Package metadata holds the loaded metadata tree: objects, fields,
// attributes, validators and keys, validated against the type registry as
// they are added.
package metadata

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/metaobjects/metaobjects/internal/meta/registry"
)

// State is the loading state of a Tree.
type State int32

const (
	Unloaded State = iota
	Loading
	Loaded
	Destroyed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "UNLOADED"
	case Loading:
		return "LOADING"
	case Loaded:
		return "LOADED"
	case Destroyed:
		return "DESTROYED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// NodeID addresses a node inside its tree.
type NodeID int

// NoParent marks a node that is not attached.
const NoParent NodeID = -1

// Tree owns every node of a metadata graph. Parents own their children through
// the arena; children refer back to their parent by NodeID only.
//
// Mutations are only allowed while Loading. Once CompleteLoading has been
// called the tree is immutable and reads share the lock with each other,
// excluding only Destroy.
type Tree struct {
	registry *registry.Registry
	state    atomic.Int32

	mu    sync.RWMutex
	nodes []*Node
	root  NodeID
}

// NewTree creates an unloaded tree whose nodes are validated against reg.
// A nil registry uses registry.Default().
func NewTree(reg *registry.Registry) (*Tree, error) {
	if reg == nil {
		reg = registry.Default()
	}
	t := &Tree{registry: reg}

	root, err := t.instantiate(TypeRoot, SubTypeRoot, "root")
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata root: %w", err)
	}
	t.root = t.attach(root)
	return t, nil
}

// Registry returns the registry the tree validates against.
func (t *Tree) Registry() *registry.Registry {
	return t.registry
}

// State returns the current loading state.
func (t *Tree) State() State {
	return State(t.state.Load())
}

// BeginLoading moves an unloaded tree into the loading state.
func (t *Tree) BeginLoading() error {
	if !t.state.CompareAndSwap(int32(Unloaded), int32(Loading)) {
		return &StateError{Op: "begin loading", State: t.State()}
	}
	return nil
}

// CompleteLoading freezes the tree.
func (t *Tree) CompleteLoading() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.CompareAndSwap(int32(Loading), int32(Loaded)) {
		return &StateError{Op: "complete loading", State: t.State()}
	}
	return nil
}

// Destroy releases the nodes. Any later read fails.
func (t *Tree) Destroy() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == Destroyed {
		return &StateError{Op: "destroy", State: Destroyed}
	}
	t.state.Store(int32(Destroyed))
	t.nodes = nil
	return nil
}

// Root returns the root node, or nil once the tree is destroyed.
func (t *Tree) Root() *Node {
	unlock := t.readLock()
	defer unlock()
	return t.node(t.root)
}

// NewNode creates a detached node through the registry factory bound to the
// (type, subType) pair.
func (t *Tree) NewNode(typ, subType, name string) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() != Loading {
		return nil, &StateError{Op: "create node", State: t.State()}
	}

	n, err := t.instantiate(typ, subType, name)
	if err != nil {
		return nil, err
	}
	t.attach(n)
	return n, nil
}

func (t *Tree) instantiate(typ, subType, name string) (*Node, error) {
	v, err := t.registry.CreateInstance(typ, subType, name)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*Node)
	if !ok {
		return nil, fmt.Errorf("factory for %s.%s returned %T, not a metadata node", typ, subType, v)
	}
	return n, nil
}

func (t *Tree) attach(n *Node) NodeID {
	n.tree = t
	n.id = NodeID(len(t.nodes))
	n.parent = NoParent
	t.nodes = append(t.nodes, n)
	return n.id
}

// AddChild links child under parent after checking the registry accepts the
// child's shape.
func (t *Tree) AddChild(parent, child *Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() != Loading {
		return &StateError{Op: "add child", State: t.State()}
	}
	if parent.tree != t || child.tree != t {
		return ErrForeignNode
	}
	if child.parent != NoParent {
		return fmt.Errorf("%w: %s", ErrAlreadyAttached, child.pathLocked())
	}
	for cur := parent; cur != nil; cur = t.node(cur.parent) {
		if cur.id == child.id {
			return fmt.Errorf("%w: %s cannot contain its ancestor %s", ErrAlreadyAttached, parent.pathLocked(), child.pathLocked())
		}
	}

	if !t.registry.AcceptsChild(parent.typ, parent.subType, child.typ, child.subType, child.name) {
		return &InvalidChildError{
			ParentPath:   parent.pathLocked(),
			ChildName:    child.name,
			ChildType:    child.typ,
			ChildSubType: child.subType,
			Supported:    t.registry.SupportedChildrenDescription(parent.typ, parent.subType),
		}
	}

	key := childKey(child.typ, child.name)
	if _, exists := parent.index[key]; exists {
		return fmt.Errorf("%w: %s '%s' already exists in %s", ErrDuplicateChild, child.typ, child.name, parent.pathLocked())
	}

	child.parent = parent.id
	parent.children = append(parent.children, child.id)
	parent.index[key] = child.id
	return nil
}

// NewChild creates a node and adds it under parent.
func (t *Tree) NewChild(parent *Node, typ, subType, name string) (*Node, error) {
	n, err := t.NewNode(typ, subType, name)
	if err != nil {
		return nil, err
	}
	if err := t.AddChild(parent, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Object returns the top-level object with the given name.
func (t *Tree) Object(name string) (*Node, error) {
	root := t.Root()
	if root == nil {
		return nil, &StateError{Op: "read", State: t.State()}
	}
	return root.Child(name, TypeObject)
}

// Objects returns every top-level object in declaration order.
func (t *Tree) Objects() []*Node {
	root := t.Root()
	if root == nil {
		return nil
	}
	return root.Children(TypeObject)
}

// Len returns the number of nodes in the arena, attached or not.
func (t *Tree) Len() int {
	unlock := t.readLock()
	defer unlock()
	return len(t.nodes)
}

// readLock takes the mutation lock while the tree can still change. Loaded
// trees are read under the shared lock so Destroy waits for readers.
func (t *Tree) readLock() func() {
	if t.State() == Loaded {
		t.mu.RLock()
		return t.mu.RUnlock
	}
	t.mu.Lock()
	return t.mu.Unlock
}

func (t *Tree) node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}
