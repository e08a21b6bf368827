package decode

import "github.com/nodalsys/usbtrace/capture"

// ensureStateSlot grows restState so index ep is addressable, defaulting
// newly-visible endpoints to Idle.
func (d *Decoder) ensureStateSlot(ep capture.EndpointID) {
	for len(d.restState) <= int(ep) {
		d.restState = append(d.restState, capture.EndpointIdle)
	}
}

// snapshotFor builds the endpoint-state row for a transfer_index event on
// ep: every other endpoint keeps its resting state (Idle or Ongoing),
// ep itself reports transient (Starting or Ending).
func (d *Decoder) snapshotFor(ep capture.EndpointID, transient capture.EndpointState) []capture.EndpointState {
	d.ensureStateSlot(ep)
	states := make([]capture.EndpointState, len(d.restState))
	copy(states, d.restState)
	states[ep] = transient
	return states
}

func (d *Decoder) openTransfer(ep capture.EndpointID) (transferIndexID, transferID uint64, err error) {
	states := d.snapshotFor(ep, capture.EndpointStarting)
	transferIndexID, transferID, err = d.store.OpenTransfer(ep, states)
	if err != nil {
		return 0, 0, err
	}
	d.restState[ep] = capture.EndpointOngoing
	return transferIndexID, transferID, nil
}

func (d *Decoder) closeTransfer(ep capture.EndpointID, transferID uint64) (uint64, error) {
	states := d.snapshotFor(ep, capture.EndpointEnding)
	transferIndexID, err := d.store.CloseTransfer(ep, transferID, states)
	if err != nil {
		return 0, err
	}
	d.restState[ep] = capture.EndpointIdle
	return transferIndexID, nil
}

// resolveDevice maps a token's device address to its DeviceID, allocating a
// fresh device the first time an address is seen.
func (d *Decoder) resolveDevice(address uint8) (capture.DeviceID, error) {
	if id, ok := d.devicesByAddress[address]; ok {
		return id, nil
	}
	id, err := d.store.NewDevice(address)
	if err != nil {
		return 0, err
	}
	d.devicesByAddress[address] = id
	return id, nil
}
