package treemodel

import (
	"golang.org/x/exp/slices"

	"github.com/nodalsys/usbtrace/capture"
)

// Listener receives items_changed notifications: position is where the
// change starts, removed/added are row counts.
type Listener func(position, removed, added int)

// Model is the mutable tree-model adapter over a capture.Store: a root
// Node whose child_count always equals the store's top-level transfer
// count, plus whatever subset of the tree the caller has expanded.
type Model struct {
	store *capture.Store
	root  *Node

	listeners []Listener
}

// New builds a Model over store, with every row collapsed.
func New(store *capture.Store) (*Model, error) {
	count, err := store.ItemCount(nil)
	if err != nil {
		return nil, err
	}
	return &Model{store: store, root: &Node{childCount: count}}, nil
}

// NItems returns the root's child_count: the current length of the
// flattened, virtualised list.
func (m *Model) NItems() uint64 { return m.root.childCount }

// OnItemsChanged registers l to be called once per state transition
// (Model.SetExpanded call that actually changes something).
func (m *Model) OnItemsChanged(l Listener) { m.listeners = append(m.listeners, l) }

func (m *Model) emit(position, removed, added uint64) {
	for _, l := range m.listeners {
		l(int(position), int(removed), int(added))
	}
}

// Get returns the node at the given flattened-list position, descending
// through expanded nodes and materialising a fresh, single-use Node for
// any position that falls on a not-yet-expanded child.
func (m *Model) Get(position uint64) (*Node, error) {
	return m.descend(m.root, position)
}

func (m *Model) descend(node *Node, relPos uint64) (*Node, error) {
	var i uint64
	for _, child := range node.children {
		gap := child.itemIndex - i
		if relPos < gap {
			return m.materialize(node, i+relPos)
		}
		relPos -= gap
		i = child.itemIndex

		if relPos == 0 {
			return child, nil
		}
		relPos--

		if relPos < child.childCount {
			return m.descend(child, relPos)
		}
		relPos -= child.childCount
		i = child.itemIndex + 1
	}
	return m.materialize(node, i+relPos)
}

func (m *Model) materialize(parent *Node, index uint64) (*Node, error) {
	item, err := directChild(m.store, parent, index)
	if err != nil {
		return nil, err
	}
	return &Node{item: &item, parent: parent, itemIndex: index}, nil
}

// SetExpanded expands or collapses node, a no-op if it is already in that
// state. Expanding fetches node's direct children from the store and
// reports items_changed(position+1, 0, child_count); collapsing frees
// node's descendants immediately and reports items_changed(position+1,
// child_count, 0). Both walk every ancestor up to the root adjusting its
// child_count by the same delta.
func (m *Model) SetExpanded(node *Node, expand bool) error {
	if node.expanded == expand {
		return nil
	}
	if expand {
		return m.expand(node)
	}
	return m.collapse(node)
}

func (m *Model) expand(node *Node) error {
	direct, err := directChildCount(m.store, node)
	if err != nil {
		return err
	}
	pos := absolutePosition(node)

	node.childCount = direct
	node.expanded = true
	node.children = nil
	insertChild(node.parent, node)
	adjustAncestors(node.parent, int64(direct))

	m.emit(pos+1, 0, direct)
	return nil
}

func (m *Model) collapse(node *Node) error {
	pos := absolutePosition(node)
	removed := node.childCount

	removeChild(node.parent, node)
	adjustAncestors(node.parent, -int64(removed))
	node.childCount = 0
	node.expanded = false
	node.children = nil

	m.emit(pos+1, removed, 0)
	return nil
}

func adjustAncestors(from *Node, delta int64) {
	for a := from; a != nil; a = a.parent {
		a.childCount = uint64(int64(a.childCount) + delta)
	}
}

func compareItemIndex(c *Node, key uint64) int {
	switch {
	case c.itemIndex < key:
		return -1
	case c.itemIndex > key:
		return 1
	default:
		return 0
	}
}

func insertChild(parent *Node, child *Node) {
	idx, _ := slices.BinarySearchFunc(parent.children, child.itemIndex, compareItemIndex)
	parent.children = slices.Insert(parent.children, idx, child)
}

func removeChild(parent *Node, child *Node) {
	idx, found := slices.BinarySearchFunc(parent.children, child.itemIndex, compareItemIndex)
	if found {
		parent.children = slices.Delete(parent.children, idx, idx+1)
	}
}
