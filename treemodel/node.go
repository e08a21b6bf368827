// Package treemodel adapts a built capture.Store into a mutable,
// virtualised flat list: a tree of Nodes where only expanded rows retain
// their descendants, and n_items()/Get(position) describe the
// currently-visible projection rather than the whole capture.
package treemodel

import (
	"github.com/nodalsys/usbtrace/capture"
	"github.com/nodalsys/usbtrace/summary"
)

// Node is one row of the flattened list: either the root (item == nil) or
// a materialised capture.Item. childCount is the number of currently
// visible descendants — zero unless the node is expanded, in which case it
// is direct_child_count plus every expanded child's own child_count.
// Unexpanded nodes returned by Model.Get are single-use: nothing about the
// tree is anchored to them, and they may be discarded once read.
type Node struct {
	item   *capture.Item
	parent *Node

	itemIndex  uint64
	childCount uint64
	expanded   bool

	// children holds this node's expanded descendants, sorted by
	// itemIndex ascending — the "sorted slice as ordered map" the
	// descent and splice logic below both rely on.
	children []*Node
}

// Item returns the node's underlying capture.Item and true, or the zero
// Item and false for the root.
func (n *Node) Item() (capture.Item, bool) {
	if n.item == nil {
		return capture.Item{}, false
	}
	return *n.item, true
}

// ItemIndex returns the node's position among its parent's direct
// children. Meaningless (always 0) for the root.
func (n *Node) ItemIndex() uint64 { return n.itemIndex }

// ChildCount returns the number of currently visible descendants.
func (n *Node) ChildCount() uint64 { return n.childCount }

// IsExpanded reports whether the node currently retains its descendants.
func (n *Node) IsExpanded() bool { return n.expanded }

// IsRoot reports whether n is the model's root node.
func (n *Node) IsRoot() bool { return n.item == nil }

// Depth returns the number of non-root ancestors between n and the root:
// 0 for a top-level row, 1 for its children, and so on.
func (n *Node) Depth() int {
	d := 0
	for p := n.parent; p != nil && p.parent != nil; p = p.parent {
		d++
	}
	return d
}

// Text renders the node's one-line summary. Panics if called on the root,
// which has no summary of its own.
func (n *Node) Text(store *capture.Store) (string, error) {
	item, ok := n.Item()
	if !ok {
		panic("treemodel: root node has no summary text")
	}
	return summary.Summarize(store, item)
}

// Connectors renders the node's ladder glyph column. Panics if called on
// the root.
func (n *Node) Connectors(store *capture.Store) (string, error) {
	item, ok := n.Item()
	if !ok {
		panic("treemodel: root node has no connector column")
	}
	return summary.Connectors(store, item)
}

// directChildCount is the capture tree's own child count for n, ignoring
// expansion state entirely.
func directChildCount(store *capture.Store, n *Node) (uint64, error) {
	return store.ItemCount(n.item)
}

// directChild is the index'th direct child of n in the underlying capture
// tree, regardless of whether it happens to be expanded.
func directChild(store *capture.Store, n *Node, index uint64) (capture.Item, error) {
	return store.GetItem(n.item, index)
}

// relativePosition is item_index plus the child_count of every expanded
// sibling that sorts before it — its offset within its parent's flattened
// subtree, not counting the parent's own row.
func relativePosition(n *Node) uint64 {
	var offset uint64
	for _, c := range n.parent.children {
		if c.itemIndex >= n.itemIndex {
			break
		}
		offset += c.childCount
	}
	return n.itemIndex + offset
}

// absolutePosition is n's row position in the fully flattened list. The
// root has no row of its own and must never be passed here.
func absolutePosition(n *Node) uint64 {
	rel := relativePosition(n)
	if n.parent.parent == nil {
		return rel
	}
	return absolutePosition(n.parent) + 1 + rel
}
