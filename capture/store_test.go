package capture

import (
	"testing"

	"github.com/nodalsys/usbtrace/wire"
)

func mustStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSyntheticEndpointsPreallocated(t *testing.T) {
	s := mustStore(t)
	if got := s.EndpointCount(); got != 2 {
		t.Fatalf("EndpointCount() = %d, want 2 (Invalid, Framing)", got)
	}
}

// buildSetupTransaction appends a SETUP token, a DATA0 packet carrying an
// 8-byte setup stage, and an ACK handshake, then registers the resulting
// transaction on ep. It returns the transaction id.
func buildSetupTransaction(t *testing.T, s *Store, ep EndpointID, setup [8]byte) uint64 {
	t.Helper()
	tokenPacket := []byte{byte(wire.PIDSetup) | 0x20, 0x00, 0x00}
	dataPacket := append([]byte{byte(wire.PIDData0) | 0xB0}, setup[:]...)
	dataPacket = append(dataPacket, 0x00, 0x00) // CRC16 placeholder
	ackPacket := []byte{byte(wire.PIDAck) | 0xD0}

	p0, err := s.AppendPacket(tokenPacket)
	if err != nil {
		t.Fatalf("AppendPacket token: %v", err)
	}
	if _, err := s.AppendPacket(dataPacket); err != nil {
		t.Fatalf("AppendPacket data: %v", err)
	}
	if _, err := s.AppendPacket(ackPacket); err != nil {
		t.Fatalf("AppendPacket ack: %v", err)
	}
	txID, err := s.AppendTransaction(p0)
	if err != nil {
		t.Fatalf("AppendTransaction: %v", err)
	}
	if err := s.AppendEndpointTransaction(ep, txID); err != nil {
		t.Fatalf("AppendEndpointTransaction: %v", err)
	}
	return txID
}

func TestControlTransferRoundTrip(t *testing.T) {
	s := mustStore(t)
	devID, err := s.NewDevice(5)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	ep, err := s.EnsureEndpoint(devID, 5, 0)
	if err != nil {
		t.Fatalf("EnsureEndpoint: %v", err)
	}

	idleStates := []EndpointState{EndpointIdle, EndpointIdle, EndpointStarting}
	transferIndexID, transferID, err := s.OpenTransfer(ep, idleStates)
	if err != nil {
		t.Fatalf("OpenTransfer: %v", err)
	}

	setup := [8]byte{0x80, wire.ReqGetDescriptor, 0x00, wire.DescTypeDevice, 0x00, 0x00, 18, 0x00}
	txID := buildSetupTransaction(t, s, ep, setup)

	endStates := []EndpointState{EndpointIdle, EndpointIdle, EndpointEnding}
	if _, err := s.CloseTransfer(ep, transferID, endStates); err != nil {
		t.Fatalf("CloseTransfer: %v", err)
	}

	count, err := s.ItemCount(nil)
	if err != nil {
		t.Fatalf("ItemCount(nil): %v", err)
	}
	if count != 2 {
		t.Fatalf("ItemCount(nil) = %d, want 2 (start+end transfer rows)", count)
	}

	start := TransferItem(transferIndexID)
	children, err := s.ItemCount(&start)
	if err != nil {
		t.Fatalf("ItemCount(start): %v", err)
	}
	if children != 1 {
		t.Fatalf("ItemCount(start) = %d, want 1 transaction", children)
	}

	child, err := s.GetItem(&start, 0)
	if err != nil {
		t.Fatalf("GetItem(start, 0): %v", err)
	}
	if !child.IsTransaction() || child.TransactionID() != txID {
		t.Fatalf("GetItem(start, 0) = %v, want Transaction(_, %d)", child, txID)
	}

	txn, err := s.GetTransaction(txID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if txn.PID != wire.PIDSetup {
		t.Fatalf("Transaction PID = %v, want SETUP", txn.PID)
	}
	if txn.PacketCount() != 3 {
		t.Fatalf("PacketCount() = %d, want 3", txn.PacketCount())
	}
	size, ok := txn.PayloadSize()
	if ok || size != 0 {
		t.Fatalf("PayloadSize() = (%d, %v), want (0, false) for a SETUP transaction", size, ok)
	}

	ctrl, err := s.GetControlTransfer(5, ep, transferID)
	if err != nil {
		t.Fatalf("GetControlTransfer: %v", err)
	}
	if ctrl.Setup.Request != wire.ReqGetDescriptor {
		t.Fatalf("Setup.Request = %#x, want GET_DESCRIPTOR", ctrl.Setup.Request)
	}
	if ctrl.Setup.DescriptorType() != wire.DescTypeDevice {
		t.Fatalf("Setup.DescriptorType() = %#x, want DEVICE", ctrl.Setup.DescriptorType())
	}
}

func TestEnsureEndpointIsIdempotent(t *testing.T) {
	s := mustStore(t)
	dev, _ := s.NewDevice(3)
	a, err := s.EnsureEndpoint(dev, 3, 1)
	if err != nil {
		t.Fatalf("EnsureEndpoint: %v", err)
	}
	b, err := s.EnsureEndpoint(dev, 3, 1)
	if err != nil {
		t.Fatalf("EnsureEndpoint: %v", err)
	}
	if a != b {
		t.Fatalf("EnsureEndpoint returned different ids for the same triple: %d != %d", a, b)
	}
	other, err := s.EnsureEndpoint(dev, 3, 2)
	if err != nil {
		t.Fatalf("EnsureEndpoint: %v", err)
	}
	if other == a {
		t.Fatal("EnsureEndpoint returned the same id for a different endpoint number")
	}
}

func TestDeviceTreeImplicitDeviceHidden(t *testing.T) {
	s := mustStore(t)
	count, err := s.DeviceItemCount(nil)
	if err != nil {
		t.Fatalf("DeviceItemCount(nil): %v", err)
	}
	if count != 0 {
		t.Fatalf("DeviceItemCount(nil) = %d, want 0 (only the implicit device exists)", count)
	}
	if _, err := s.NewDevice(9); err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	count, err = s.DeviceItemCount(nil)
	if err != nil {
		t.Fatalf("DeviceItemCount(nil): %v", err)
	}
	if count != 1 {
		t.Fatalf("DeviceItemCount(nil) = %d, want 1", count)
	}
	item, err := s.GetDeviceItem(nil, 0)
	if err != nil {
		t.Fatalf("GetDeviceItem(nil, 0): %v", err)
	}
	summary, err := s.GetDeviceSummary(item)
	if err != nil {
		t.Fatalf("GetDeviceSummary: %v", err)
	}
	if summary != "Device 9: Unknown" {
		t.Fatalf("GetDeviceSummary = %q, want %q", summary, "Device 9: Unknown")
	}
}
