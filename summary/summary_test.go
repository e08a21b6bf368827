package summary_test

import (
	"strings"
	"testing"

	"github.com/nodalsys/usbtrace/capture"
	"github.com/nodalsys/usbtrace/summary"
	"github.com/nodalsys/usbtrace/wire"
)

func buildControlTransfer(t *testing.T, s *capture.Store) (capture.Item, capture.Item) {
	t.Helper()
	dev, err := s.NewDevice(7)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	ep, err := s.EnsureEndpoint(dev, 7, 0)
	if err != nil {
		t.Fatalf("EnsureEndpoint: %v", err)
	}

	states := []capture.EndpointState{capture.EndpointIdle, capture.EndpointIdle, capture.EndpointStarting}
	transferIndexID, transferID, err := s.OpenTransfer(ep, states)
	if err != nil {
		t.Fatalf("OpenTransfer: %v", err)
	}

	tokenPacket := []byte{byte(wire.PIDSetup) | 0x20, 0x00, 0x00}
	setup := [8]byte{0x80, wire.ReqGetDescriptor, 0x00, wire.DescTypeDevice, 0x00, 0x00, 18, 0x00}
	dataPacket := append([]byte{byte(wire.PIDData0) | 0xB0}, setup[:]...)
	dataPacket = append(dataPacket, 0x00, 0x00)
	ackPacket := []byte{byte(wire.PIDAck) | 0xD0}

	p0, err := s.AppendPacket(tokenPacket)
	if err != nil {
		t.Fatalf("AppendPacket: %v", err)
	}
	if _, err := s.AppendPacket(dataPacket); err != nil {
		t.Fatalf("AppendPacket: %v", err)
	}
	if _, err := s.AppendPacket(ackPacket); err != nil {
		t.Fatalf("AppendPacket: %v", err)
	}
	txID, err := s.AppendTransaction(p0)
	if err != nil {
		t.Fatalf("AppendTransaction: %v", err)
	}
	if err := s.AppendEndpointTransaction(ep, txID); err != nil {
		t.Fatalf("AppendEndpointTransaction: %v", err)
	}

	endStates := []capture.EndpointState{capture.EndpointIdle, capture.EndpointIdle, capture.EndpointEnding}
	if _, err := s.CloseTransfer(ep, transferID, endStates); err != nil {
		t.Fatalf("CloseTransfer: %v", err)
	}

	return capture.TransferItem(transferIndexID), capture.TransactionItem(transferIndexID, txID)
}

func TestSummarizeControlTransfer(t *testing.T) {
	s, err := capture.New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	transfer, _ := buildControlTransfer(t, s)

	got, err := summary.Summarize(s, transfer)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(got, "Getting device descriptor") {
		t.Fatalf("Summarize(transfer) = %q, want it to mention getting the device descriptor", got)
	}
	if !strings.Contains(got, "returned 0 bytes") {
		t.Fatalf("Summarize(transfer) = %q, want it to report 0 bytes returned (no data stage captured)", got)
	}
}

func TestSummarizeTransaction(t *testing.T) {
	s, err := capture.New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	_, txn := buildControlTransfer(t, s)

	got, err := summary.Summarize(s, txn)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(got, "SETUP transaction") {
		t.Fatalf("Summarize(transaction) = %q, want it to name the SETUP PID", got)
	}
	if !strings.Contains(got, "3 packets") {
		t.Fatalf("Summarize(transaction) = %q, want 3 packets", got)
	}
}

func TestConnectorsTransferStartHasTrailingDash(t *testing.T) {
	s, err := capture.New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	transfer, _ := buildControlTransfer(t, s)
	got, err := summary.Connectors(s, transfer)
	if err != nil {
		t.Fatalf("Connectors: %v", err)
	}
	if !strings.HasSuffix(got, "─") {
		t.Fatalf("Connectors(transfer start) = %q, want a trailing ─", got)
	}
}
