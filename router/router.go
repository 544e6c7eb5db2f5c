// Package router provides the hierarchical topic tree used to locate the
// ledger backing each stream in ssereplay.
//
// Topics are slash-delimited paths such as "/events" or
// "/notifications/user123". Each node of the tree holds at most one value.
// A Node is not safe for concurrent use; callers provide their own locking.
package router

import (
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned by Find when no node exists at the namespace.
var ErrNotFound = errors.New("router: namespace not found")

// Namespace is a topic path split into its segments.
type Namespace []string

// NS converts a slash-delimited string into a Namespace.
func NS(s string) Namespace {
	trimmed := strings.Trim(s, "/ ")
	if trimmed == "" {
		return Namespace{}
	}
	return Namespace(strings.Split(trimmed, "/"))
}

func (ns Namespace) String() string {
	return "/" + strings.Join(ns, "/")
}

// Join returns a new Namespace with segs appended, leaving ns untouched.
func (ns Namespace) Join(segs ...string) Namespace {
	out := make(Namespace, 0, len(ns)+len(segs))
	out = append(out, ns...)
	return append(out, segs...)
}

// A Node is one segment in the tree, optionally holding a value.
type Node[V any] struct {
	parent   *Node[V]
	children map[string]*Node[V]
	key      string
	value    V
	set      bool
}

// New returns a new root Node (without a parent).
func New[V any]() *Node[V] {
	return newNode[V](nil, "")
}

func newNode[V any](parent *Node[V], key string) *Node[V] {
	return &Node[V]{
		key:      key,
		parent:   parent,
		children: make(map[string]*Node[V]),
	}
}

// Find returns the child Node at relative namespace ns.
func (n *Node[V]) Find(ns Namespace) (*Node[V], error) {
	if len(ns) == 0 {
		return n, nil
	}
	target, rest := ns[0], ns[1:]
	if c, ok := n.children[target]; ok {
		return c.Find(rest)
	}
	return nil, ErrNotFound
}

// FindOrCreate returns the child Node at relative namespace ns, creating it
// and any missing ancestors.
func (n *Node[V]) FindOrCreate(ns Namespace) *Node[V] {
	if len(ns) == 0 {
		return n
	}
	target, rest := ns[0], ns[1:]
	c, exists := n.children[target]
	if !exists {
		c = newNode(n, target)
		n.children[target] = c
	}
	return c.FindOrCreate(rest)
}

/****************************************************************************
  Dealing with values
****************************************************************************/

// Value returns the value held by the Node and whether one was set.
func (n *Node[V]) Value() (V, bool) {
	return n.value, n.set
}

// Set stores v on the Node, replacing any previous value.
func (n *Node[V]) Set(v V) {
	n.value, n.set = v, true
}

// Clear removes the value from the Node.
func (n *Node[V]) Clear() {
	var zero V
	n.value, n.set = zero, false
}

// LoadOrStore returns the value at namespace ns relative to n. If none is set,
// mk is called and its result stored. The boolean reports whether the value
// already existed.
func (n *Node[V]) LoadOrStore(ns Namespace, mk func() V) (V, bool) {
	dst := n.FindOrCreate(ns)
	if v, ok := dst.Value(); ok {
		return v, true
	}
	v := mk()
	dst.Set(v)
	return v, false
}

/****************************************************************************
  Graph traversal and relationships
****************************************************************************/

// TraverseDown visits the node and each descendent node in key order.
func (n *Node[V]) TraverseDown(traverseFn func(*Node[V])) {
	traverseFn(n)
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n.children[k].TraverseDown(traverseFn)
	}
}

// Parent returns the parent of a Node, nil for the root.
func (n *Node[V]) Parent() *Node[V] {
	return n.parent
}

// RemoveChild detaches c from n. It is a no-op if c is not a child of n.
func (n *Node[V]) RemoveChild(c *Node[V]) {
	if n.children[c.key] == c {
		delete(n.children, c.key)
	}
}

// Children returns the direct children of a Node only.
func (n *Node[V]) Children() []*Node[V] {
	childs := make([]*Node[V], 0, len(n.children))
	for _, c := range n.children {
		childs = append(childs, c)
	}
	return childs
}

// Descendents returns all children of the Node, and their children, and their
// children...
func (n *Node[V]) Descendents() []*Node[V] {
	var descNodes []*Node[V]
	n.TraverseDown(func(d *Node[V]) {
		descNodes = append(descNodes, d)
	})
	return descNodes[1:]
}

// Values returns every value set on the Node or its descendents, in key order.
func (n *Node[V]) Values() []V {
	var vs []V
	n.TraverseDown(func(d *Node[V]) {
		if d.set {
			vs = append(vs, d.value)
		}
	})
	return vs
}

// Namespace returns the fully-qualified namespace for a Node by walking up the
// tree.
func (n *Node[V]) Namespace() Namespace {
	var keys Namespace
	for p := n; p != nil && p.parent != nil; p = p.parent {
		keys = append(Namespace{p.key}, keys...)
	}
	if keys == nil {
		return Namespace{}
	}
	return keys
}
