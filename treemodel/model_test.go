package treemodel_test

import (
	"testing"

	"github.com/nodalsys/usbtrace/capture"
	"github.com/nodalsys/usbtrace/treemodel"
)

// buildTwoTransferStore builds a store with two top-level transfers on the
// same endpoint (5.1): the first with three transactions, the second with
// two, each transaction a single packet for simplicity.
func buildTwoTransferStore(t *testing.T) (*capture.Store, []uint64) {
	t.Helper()
	s, err := capture.New(nil)
	if err != nil {
		t.Fatalf("capture.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	dev, err := s.NewDevice(5)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	ep, err := s.EnsureEndpoint(dev, 5, 1)
	if err != nil {
		t.Fatalf("EnsureEndpoint: %v", err)
	}

	idle := capture.EndpointIdle
	counts := []int{3, 2}
	for _, n := range counts {
		startStates := []capture.EndpointState{idle, idle, capture.EndpointStarting}
		_, transferID, err := s.OpenTransfer(ep, startStates)
		if err != nil {
			t.Fatalf("OpenTransfer: %v", err)
		}
		for i := 0; i < n; i++ {
			pid, err := s.AppendPacket([]byte{0x69, 0x00, 0x00})
			if err != nil {
				t.Fatalf("AppendPacket: %v", err)
			}
			txnID, err := s.AppendTransaction(pid)
			if err != nil {
				t.Fatalf("AppendTransaction: %v", err)
			}
			if err := s.AppendEndpointTransaction(ep, txnID); err != nil {
				t.Fatalf("AppendEndpointTransaction: %v", err)
			}
		}
		endStates := []capture.EndpointState{idle, idle, capture.EndpointEnding}
		if _, err := s.CloseTransfer(ep, transferID, endStates); err != nil {
			t.Fatalf("CloseTransfer: %v", err)
		}
	}

	return s, []uint64{3, 2}
}

func TestNItemsMatchesTopLevelTransferCount(t *testing.T) {
	store, _ := buildTwoTransferStore(t)
	model, err := treemodel.New(store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	count, err := store.ItemCount(nil)
	if err != nil {
		t.Fatalf("ItemCount(nil): %v", err)
	}
	if model.NItems() != count {
		t.Fatalf("NItems() = %d, want %d", model.NItems(), count)
	}
}

func TestGetCollapsedReturnsTopLevelTransfers(t *testing.T) {
	store, _ := buildTwoTransferStore(t)
	model, err := treemodel.New(store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for pos := uint64(0); pos < model.NItems(); pos++ {
		node, err := model.Get(pos)
		if err != nil {
			t.Fatalf("Get(%d): %v", pos, err)
		}
		item, ok := node.Item()
		if !ok {
			t.Fatalf("Get(%d) returned the root node", pos)
		}
		if !item.IsTransfer() {
			t.Fatalf("Get(%d) item kind = %v, want a transfer", pos, item)
		}
		if item.TransferIndexID() != pos {
			t.Fatalf("Get(%d) transfer index id = %d, want %d", pos, item.TransferIndexID(), pos)
		}
	}
}

func TestExpandCollapseRestoresNItems(t *testing.T) {
	store, childCounts := buildTwoTransferStore(t)
	model, err := treemodel.New(store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := model.NItems()

	var events [][3]int
	model.OnItemsChanged(func(position, removed, added int) {
		events = append(events, [3]int{position, removed, added})
	})

	first, err := model.Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if err := model.SetExpanded(first, true); err != nil {
		t.Fatalf("SetExpanded(true): %v", err)
	}
	if model.NItems() != before+childCounts[0] {
		t.Fatalf("NItems() after expand = %d, want %d", model.NItems(), before+childCounts[0])
	}
	if len(events) != 1 || events[0] != [3]int{1, 0, int(childCounts[0])} {
		t.Fatalf("events after expand = %v, want [{1 0 %d}]", events, childCounts[0])
	}

	for i := uint64(0); i < childCounts[0]; i++ {
		node, err := model.Get(1 + i)
		if err != nil {
			t.Fatalf("Get(%d): %v", 1+i, err)
		}
		item, ok := node.Item()
		if !ok || !item.IsTransaction() {
			t.Fatalf("Get(%d) = %v, want a transaction child of the expanded transfer", 1+i, node)
		}
	}

	if err := model.SetExpanded(first, false); err != nil {
		t.Fatalf("SetExpanded(false): %v", err)
	}
	if model.NItems() != before {
		t.Fatalf("NItems() after collapse = %d, want %d", model.NItems(), before)
	}
	if len(events) != 2 || events[1] != [3]int{1, int(childCounts[0]), 0} {
		t.Fatalf("events after collapse = %v, want second entry [{1 %d 0}]", events, childCounts[0])
	}
}

func TestSetExpandedNoopWhenAlreadyInState(t *testing.T) {
	store, _ := buildTwoTransferStore(t)
	model, err := treemodel.New(store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	node, err := model.Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}

	calls := 0
	model.OnItemsChanged(func(position, removed, added int) { calls++ })

	if err := model.SetExpanded(node, false); err != nil {
		t.Fatalf("SetExpanded(false) on already-collapsed node: %v", err)
	}
	if calls != 0 {
		t.Fatalf("SetExpanded no-op fired %d events, want 0", calls)
	}
}
