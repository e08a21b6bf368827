package capture

import (
	"fmt"

	"github.com/nodalsys/usbtrace/wire"
)

// itemRange returns the half-open range of child indices an Item spans in
// its owning sequence (transfer -> transaction ids, transaction -> packet
// ids, packet -> byte offsets), grounded on get_index_range/item_range in
// the original Rust capture model: the end of an as-yet-unclosed run is
// always "however far that sequence has grown so far", not a fixed value.
func (s *Store) itemRange(item Item) (lo, hi uint64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch item.kind {
	case itemTransfer:
		entry, err := s.transferIndex.Get(item.transferIndexID)
		if err != nil {
			return 0, 0, ioErr("get transfer index entry", err)
		}
		traf := s.endpointTraffic[entry.EndpointID()]
		return getIndexRange(traf.TransferIndex, traf.TransactionIDs.Len(), entry.TransferID())
	case itemTransaction:
		return getIndexRange(s.transactionIndex, s.packetIndex.Len(), item.transactionID)
	default: // itemPacket
		return getIndexRange(s.packetIndex, s.packetData.Len(), item.packetID)
	}
}

// getIndexRange mirrors the Rust helper of the same name: the id'th entry
// of index starts a run whose end is either the next entry (if one
// exists) or `length` — the current size of the sequence this index
// addresses — when the run is still open.
func getIndexRange(index interface {
	Len() uint64
	Get(uint64) (uint64, error)
	GetRange(uint64, uint64) ([]uint64, error)
}, length, id uint64) (lo, hi uint64, err error) {
	if id+2 > index.Len() {
		start, err := index.Get(id)
		if err != nil {
			return 0, 0, ioErr("get index", err)
		}
		return start, length, nil
	}
	vals, err := index.GetRange(id, id+2)
	if err != nil {
		return 0, 0, ioErr("get index range", err)
	}
	return vals[0], vals[1], nil
}

// ItemCount returns the number of children of parent, or the number of
// top-level transfers when parent is nil.
func (s *Store) ItemCount(parent *Item) (uint64, error) {
	if parent == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.transferIndex.Len(), nil
	}
	return s.childCount(*parent)
}

func (s *Store) childCount(item Item) (uint64, error) {
	switch item.kind {
	case itemTransfer:
		s.mu.RLock()
		entry, err := s.transferIndex.Get(item.transferIndexID)
		s.mu.RUnlock()
		if err != nil {
			return 0, ioErr("get transfer index entry", err)
		}
		if !entry.IsStart() {
			return 0, nil
		}
		lo, hi, err := s.itemRange(item)
		if err != nil {
			return 0, err
		}
		return hi - lo, nil
	case itemTransaction:
		lo, hi, err := s.itemRange(item)
		if err != nil {
			return 0, err
		}
		return hi - lo, nil
	default: // itemPacket
		return 0, nil
	}
}

// GetItem returns the index'th top-level transfer when parent is nil, or
// the index'th child of parent otherwise.
func (s *Store) GetItem(parent *Item, index uint64) (Item, error) {
	if parent == nil {
		return TransferItem(index), nil
	}
	return s.getChild(*parent, index)
}

func (s *Store) getChild(parent Item, index uint64) (Item, error) {
	switch parent.kind {
	case itemTransfer:
		s.mu.RLock()
		entry, err := s.transferIndex.Get(parent.transferIndexID)
		s.mu.RUnlock()
		if err != nil {
			return Item{}, ioErr("get transfer index entry", err)
		}
		s.mu.RLock()
		traf := s.endpointTraffic[entry.EndpointID()]
		offset, err := traf.TransferIndex.Get(entry.TransferID())
		if err != nil {
			s.mu.RUnlock()
			return Item{}, ioErr("get endpoint transfer offset", err)
		}
		transactionID, err := traf.TransactionIDs.Get(offset + index)
		s.mu.RUnlock()
		if err != nil {
			return Item{}, ioErr("get endpoint transaction id", err)
		}
		return TransactionItem(parent.transferIndexID, transactionID), nil
	case itemTransaction:
		s.mu.RLock()
		firstPacketID, err := s.transactionIndex.Get(parent.transactionID)
		s.mu.RUnlock()
		if err != nil {
			return Item{}, ioErr("get transaction first packet", err)
		}
		return PacketItem(parent.transferIndexID, parent.transactionID, firstPacketID+index), nil
	default:
		panic("capture: packets do not have children")
	}
}

// TransactionInfo is the decoded shape of a single transaction: its token
// PID, the packet id range it spans, and (for IN/OUT transactions with a
// DATAx stage) the byte range of its payload within packetData.
type TransactionInfo struct {
	PID              wire.PID
	PacketIDStart    uint64
	PacketIDEnd      uint64
	HasPayload       bool
	PayloadByteStart uint64
	PayloadByteEnd   uint64
}

func (t TransactionInfo) PacketCount() uint64 { return t.PacketIDEnd - t.PacketIDStart }

func (t TransactionInfo) PayloadSize() (uint64, bool) {
	if !t.HasPayload {
		return 0, false
	}
	return t.PayloadByteEnd - t.PayloadByteStart, true
}

// GetPacket returns the raw bytes of packet id.
func (s *Store) GetPacket(id uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo, hi, err := getIndexRange(s.packetIndex, s.packetData.Len(), id)
	if err != nil {
		return nil, err
	}
	b, err := s.packetData.GetRange(lo, hi)
	if err != nil {
		return nil, ioErr("get packet bytes", err)
	}
	return b, nil
}

// GetPacketPID returns only the PID byte of packet id, without copying the
// full packet.
func (s *Store) GetPacketPID(id uint64) (wire.PID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offset, err := s.packetIndex.Get(id)
	if err != nil {
		return 0, ioErr("get packet offset", err)
	}
	b, err := s.packetData.Get(offset)
	if err != nil {
		return 0, ioErr("get packet pid byte", err)
	}
	return wire.PIDFromByte(b), nil
}

// GetTransaction reassembles transaction id's token PID, packet range and
// (if present) DATAx payload range.
func (s *Store) GetTransaction(id uint64) (TransactionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo, hi, err := getIndexRange(s.transactionIndex, s.packetIndex.Len(), id)
	if err != nil {
		return TransactionInfo{}, err
	}
	info := TransactionInfo{PacketIDStart: lo, PacketIDEnd: hi}
	pidOffset, err := s.packetIndex.Get(lo)
	if err != nil {
		return TransactionInfo{}, ioErr("get packet offset", err)
	}
	pidByte, err := s.packetData.Get(pidOffset)
	if err != nil {
		return TransactionInfo{}, ioErr("get packet pid byte", err)
	}
	info.PID = wire.PIDFromByte(pidByte)

	if (info.PID == wire.PIDIn || info.PID == wire.PIDOut) && info.PacketCount() >= 2 {
		dataPacketID := lo + 1
		dlo, dhi, err := getIndexRange(s.packetIndex, s.packetData.Len(), dataPacketID)
		if err != nil {
			return TransactionInfo{}, err
		}
		dataPIDByte, err := s.packetData.Get(dlo)
		if err != nil {
			return TransactionInfo{}, ioErr("get data packet pid byte", err)
		}
		switch wire.PIDFromByte(dataPIDByte) {
		case wire.PIDData0, wire.PIDData1:
			if dhi >= dlo+3 {
				info.HasPayload = true
				info.PayloadByteStart = dlo + 1
				info.PayloadByteEnd = dhi - 2
			}
		}
	}
	return info, nil
}

// TransferEntry returns the parsed TransferIndexEntry at transferIndexID.
func (s *Store) TransferEntry(transferIndexID uint64) (TransferIndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.transferIndex.Get(transferIndexID)
	if err != nil {
		return TransferIndexEntry{}, ioErr("get transfer index entry", err)
	}
	return e, nil
}

// Endpoint returns the parsed EndpointKey for id.
func (s *Store) Endpoint(id EndpointID) (EndpointKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, err := s.endpoints.Get(uint64(id))
	if err != nil {
		return EndpointKey{}, ioErr("get endpoint", err)
	}
	return k, nil
}

// EndpointType resolves the traffic type of an endpoint id: the two
// synthetic endpoints (EndpointInvalid, EndpointFraming) are fixed
// regardless of device state, since no DeviceData record could ever carry
// Invalid/Framing as one of its per-number endpoint types; every other
// endpoint id delegates to its owning device's learned configuration.
func (s *Store) EndpointType(id EndpointID) (EndpointType, error) {
	switch id {
	case EndpointInvalid:
		return EndpointTypeInvalid, nil
	case EndpointFraming:
		return EndpointTypeFraming, nil
	}
	ep, err := s.Endpoint(id)
	if err != nil {
		return 0, err
	}
	return s.DeviceData(ep.DeviceID()).EndpointType(ep.Number()), nil
}

// ItemTransferRange returns the child count range (lo, hi) of a transfer or
// transaction item; it is itemRange exposed for package summary.
func (s *Store) ItemTransferRange(item Item) (uint64, uint64, error) {
	return s.itemRange(item)
}

// EndpointStateSnapshot returns the per-endpoint state bytes recorded at
// the transfer_index event transferIndexID.
func (s *Store) EndpointStateSnapshot(transferIndexID uint64) ([]EndpointState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo, hi, err := getIndexRange(s.endpointStateIndex, s.endpointStates.Len(), transferIndexID)
	if err != nil {
		return nil, err
	}
	raw, err := s.endpointStates.GetRange(lo, hi)
	if err != nil {
		return nil, ioErr("get endpoint state range", err)
	}
	out := make([]EndpointState, len(raw))
	for i, b := range raw {
		out[i] = EndpointState(b)
	}
	return out, nil
}

// TransferExtended reports whether the transfer on endpoint that is open
// at transferIndexID remains Ongoing at the very next transfer_index event
// (i.e. whether another endpoint's activity intervenes before this
// transfer's matching end entry).
func (s *Store) TransferExtended(endpoint EndpointID, transferIndexID uint64) (bool, error) {
	s.mu.RLock()
	count := s.transferIndex.Len()
	s.mu.RUnlock()
	if transferIndexID+1 >= count {
		return false, nil
	}
	states, err := s.EndpointStateSnapshot(transferIndexID + 1)
	if err != nil {
		return false, err
	}
	if int(endpoint) >= len(states) {
		return false, nil
	}
	return states[endpoint] == EndpointOngoing, nil
}

// EndpointTransactionRange returns the transaction ids belonging to the
// transfer_id'th transfer on endpoint ep.
func (s *Store) EndpointTransactionRange(ep EndpointID, transferID uint64) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	traf := s.endpointTraffic[ep]
	lo, hi, err := getIndexRange(traf.TransferIndex, traf.TransactionIDs.Len(), transferID)
	if err != nil {
		return nil, err
	}
	ids, err := traf.TransactionIDs.GetRange(lo, hi)
	if err != nil {
		return nil, ioErr("get endpoint transaction ids", err)
	}
	return ids, nil
}

// ControlTransferData is the reassembled setup stage plus the concatenated
// IN/OUT data-stage payload of a control transfer.
type ControlTransferData struct {
	DeviceAddress uint8
	Setup         wire.SetupFields
	Data          []byte
}

// GetControlTransfer reassembles the setup packet and data-stage payload
// of a control transfer spanning the given endpoint transaction-id range.
func (s *Store) GetControlTransfer(deviceAddress uint8, ep EndpointID, transferID uint64) (ControlTransferData, error) {
	ids, err := s.EndpointTransactionRange(ep, transferID)
	if err != nil {
		return ControlTransferData{}, err
	}
	if len(ids) == 0 {
		return ControlTransferData{}, fmt.Errorf("capture: control transfer has no transactions")
	}
	setupTxn, err := s.GetTransaction(ids[0])
	if err != nil {
		return ControlTransferData{}, err
	}
	setupPacket, err := s.GetPacket(setupTxn.PacketIDStart + 1)
	if err != nil {
		return ControlTransferData{}, err
	}
	if len(setupPacket) >= 3 {
		setupPacket = setupPacket[1 : len(setupPacket)-2]
	} else {
		setupPacket = nil
	}
	fields := wire.FromDataPacket(setupPacket)
	direction := fields.Direction()

	var data []byte
	for _, id := range ids {
		txn, err := s.GetTransaction(id)
		if err != nil {
			return ControlTransferData{}, err
		}
		if !txn.HasPayload {
			continue
		}
		if (direction == wire.DirectionIn && txn.PID == wire.PIDIn) ||
			(direction == wire.DirectionOut && txn.PID == wire.PIDOut) {
			s.mu.RLock()
			b, err := s.packetData.GetRange(txn.PayloadByteStart, txn.PayloadByteEnd)
			s.mu.RUnlock()
			if err != nil {
				return ControlTransferData{}, ioErr("get payload range", err)
			}
			data = append(data, b...)
		}
	}
	return ControlTransferData{DeviceAddress: deviceAddress, Setup: fields, Data: data}, nil
}
