package decode

import (
	"github.com/nodalsys/usbtrace/capture"
	"github.com/nodalsys/usbtrace/wire"
)

// endpointRuntime is the per-endpoint transfer-assembly state the decoder
// keeps across transactions: whether a transfer is currently open on this
// endpoint, its endpoint-local transfer id (needed to close it), the
// direction of the last transaction routed to it (for bulk/interrupt/
// isochronous continuation), and the control-transfer data/status-stage
// bookkeeping (for control endpoints only).
type endpointRuntime struct {
	transferOpen bool
	transferID   uint64
	lastDirection wire.Direction

	controlAwaitingStatusOnly bool
	controlDataDirection      *wire.Direction
	controlDeviceID           capture.DeviceID
}

func (d *Decoder) runtimeFor(ep capture.EndpointID) *endpointRuntime {
	rt, ok := d.runtimes[ep]
	if !ok {
		rt = &endpointRuntime{}
		d.runtimes[ep] = rt
	}
	return rt
}

// finalizeTransaction appends the assembled transaction to the store and
// routes it into the SOF/Invalid group trackers or the addressed endpoint's
// transfer assembly, per spec.md's transfer-assembly rules.
func (d *Decoder) finalizeTransaction(p *pendingTransaction) error {
	txnID, err := d.store.AppendTransaction(p.firstPacketID)
	if err != nil {
		return err
	}

	switch categorize(p) {
	case categorySOF:
		return d.routeSOF(txnID)
	case categoryToken:
		return d.routeToken(txnID, p)
	default:
		return d.routeInvalid(txnID)
	}
}

func (d *Decoder) routeSOF(txnID uint64) error {
	if d.invalidGroupOpen {
		if _, err := d.closeTransfer(invalidEndpoint, d.invalidTransferID); err != nil {
			return err
		}
		d.invalidGroupOpen = false
	}
	if !d.sofGroupOpen {
		_, transferID, err := d.openTransfer(framingEndpoint)
		if err != nil {
			return err
		}
		d.sofTransferID = transferID
		d.sofGroupOpen = true
	}
	return d.store.AppendEndpointTransaction(framingEndpoint, txnID)
}

func (d *Decoder) routeInvalid(txnID uint64) error {
	if d.sofGroupOpen {
		if _, err := d.closeTransfer(framingEndpoint, d.sofTransferID); err != nil {
			return err
		}
		d.sofGroupOpen = false
	}
	if !d.invalidGroupOpen {
		_, transferID, err := d.openTransfer(invalidEndpoint)
		if err != nil {
			return err
		}
		d.invalidTransferID = transferID
		d.invalidGroupOpen = true
	}
	return d.store.AppendEndpointTransaction(invalidEndpoint, txnID)
}

func (d *Decoder) routeToken(txnID uint64, p *pendingTransaction) error {
	if d.sofGroupOpen {
		if _, err := d.closeTransfer(framingEndpoint, d.sofTransferID); err != nil {
			return err
		}
		d.sofGroupOpen = false
	}
	if d.invalidGroupOpen {
		if _, err := d.closeTransfer(invalidEndpoint, d.invalidTransferID); err != nil {
			return err
		}
		d.invalidGroupOpen = false
	}

	deviceID, err := d.resolveDevice(p.tokenFields.DeviceAddress)
	if err != nil {
		return err
	}
	ep, err := d.store.EnsureEndpoint(deviceID, p.tokenFields.DeviceAddress, p.tokenFields.EndpointNumber)
	if err != nil {
		return err
	}
	epType := d.store.DeviceData(deviceID).EndpointType(p.tokenFields.EndpointNumber)
	rt := d.runtimeFor(ep)
	rt.controlDeviceID = deviceID

	if epType == capture.EndpointTypeControl {
		return d.routeControl(ep, rt, txnID, p)
	}
	return d.routeGeneric(ep, rt, txnID, p)
}

// routeGeneric implements the bulk/interrupt/isochronous continuation rule:
// a NAK does not extend the transfer, a STALL closes it, and a direction
// change closes it; anything else keeps the current transfer open.
func (d *Decoder) routeGeneric(ep capture.EndpointID, rt *endpointRuntime, txnID uint64, p *pendingTransaction) error {
	direction := txnDirection(p.openerPID)
	// NAK/STALL are boundaries (NAK opens a fresh, still-open transfer;
	// STALL opens one and immediately closes it); any other transaction in
	// the same direction extends the open transfer.
	extends := rt.transferOpen && direction == rt.lastDirection &&
		p.lastPID != wire.PIDNak && p.lastPID != wire.PIDStall

	if !extends {
		if rt.transferOpen {
			if _, err := d.closeTransfer(ep, rt.transferID); err != nil {
				return err
			}
			rt.transferOpen = false
		}
		_, transferID, err := d.openTransfer(ep)
		if err != nil {
			return err
		}
		rt.transferID = transferID
		rt.transferOpen = true
	}
	rt.lastDirection = direction

	if err := d.store.AppendEndpointTransaction(ep, txnID); err != nil {
		return err
	}

	if p.lastPID == wire.PIDStall {
		if _, err := d.closeTransfer(ep, rt.transferID); err != nil {
			return err
		}
		rt.transferOpen = false
	}
	return nil
}

// routeControl implements the control-transfer state machine: SETUP opens a
// fresh transfer (closing any stale one first) and records the data-stage
// direction implied by its setup fields (or marks a no-data transfer as
// awaiting its status stage directly); the first subsequent transaction
// whose direction differs from the data-stage direction is the status
// stage, which closes the transfer once appended.
func (d *Decoder) routeControl(ep capture.EndpointID, rt *endpointRuntime, txnID uint64, p *pendingTransaction) error {
	if p.openerPID == wire.PIDSetup {
		if rt.transferOpen {
			if _, err := d.closeTransfer(ep, rt.transferID); err != nil {
				return err
			}
			rt.transferOpen = false
		}
		_, transferID, err := d.openTransfer(ep)
		if err != nil {
			return err
		}
		rt.transferID = transferID
		rt.transferOpen = true
		rt.controlAwaitingStatusOnly = false
		rt.controlDataDirection = nil

		if err := d.store.AppendEndpointTransaction(ep, txnID); err != nil {
			return err
		}

		setup, err := d.readSetupFields(txnID)
		if err != nil {
			return err
		}
		if setup.Length == 0 {
			rt.controlAwaitingStatusOnly = true
		} else {
			dir := setup.Direction()
			rt.controlDataDirection = &dir
		}
		return nil
	}

	if !rt.transferOpen {
		// No SETUP was seen for this endpoint; best-effort: treat this
		// transaction as opening its own transfer rather than dropping it.
		_, transferID, err := d.openTransfer(ep)
		if err != nil {
			return err
		}
		rt.transferID = transferID
		rt.transferOpen = true
	}
	if err := d.store.AppendEndpointTransaction(ep, txnID); err != nil {
		return err
	}

	direction := txnDirection(p.openerPID)
	isStatus := rt.controlAwaitingStatusOnly ||
		(rt.controlDataDirection != nil && direction != *rt.controlDataDirection)
	if !isStatus {
		return nil
	}

	transferID := rt.transferID
	if _, err := d.closeTransfer(ep, transferID); err != nil {
		return err
	}
	rt.transferOpen = false
	rt.controlAwaitingStatusOnly = false
	rt.controlDataDirection = nil

	addr, err := d.store.DeviceAddress(rt.controlDeviceID)
	if err != nil {
		return err
	}
	ctrl, err := d.store.GetControlTransfer(addr, ep, transferID)
	if err != nil {
		return err
	}
	return d.applyControlTransfer(rt.controlDeviceID, ctrl)
}

// readSetupFields parses the 8-byte setup stage out of a just-appended
// SETUP transaction's DATA0 packet.
func (d *Decoder) readSetupFields(txnID uint64) (wire.SetupFields, error) {
	txn, err := d.store.GetTransaction(txnID)
	if err != nil {
		return wire.SetupFields{}, err
	}
	if txn.PacketCount() < 2 {
		return wire.SetupFields{}, nil
	}
	raw, err := d.store.GetPacket(txn.PacketIDStart + 1)
	if err != nil {
		return wire.SetupFields{}, err
	}
	if len(raw) >= 3 {
		raw = raw[1 : len(raw)-2]
	} else {
		raw = nil
	}
	return wire.FromDataPacket(raw), nil
}
