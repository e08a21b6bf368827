// Package capture implements the hierarchical, disk-backed USB capture
// store: packets grouped into transactions, transactions grouped into
// endpoint transfers, plus the per-endpoint activity snapshots the
// connector column is drawn from. It is built once by package decode and
// is read-only thereafter.
package capture

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nodalsys/usbtrace/hybridindex"
	"github.com/nodalsys/usbtrace/pagedvec"
	"github.com/nodalsys/usbtrace/wire"
)

// Synthetic endpoint ids that always exist, allocated before any traffic is
// seen.
const (
	EndpointInvalid = 0 // captures malformed/unrecognised packet groups
	EndpointFraming = 1 // captures SOF runs
)

// EndpointID indexes capture.endpoints / endpointTraffic.
type EndpointID uint16

// DeviceID indexes capture.devices / deviceData. Device id 0 is the
// implicit default device at bus address 0, always present even before any
// SET_ADDRESS is seen (see DESIGN.md).
type DeviceID uint64

// Item is a node in the transfer/transaction/packet tree. The zero value is
// not a valid Item; use the constructors below.
type Item struct {
	kind            itemKind
	transferIndexID uint64
	transactionID   uint64
	packetID        uint64
}

type itemKind uint8

const (
	itemTransfer itemKind = iota
	itemTransaction
	itemPacket
)

// TransferItem builds an Item referring to a top-level transfer-index row.
func TransferItem(transferIndexID uint64) Item {
	return Item{kind: itemTransfer, transferIndexID: transferIndexID}
}

// TransactionItem builds an Item referring to a transaction within a
// transfer.
func TransactionItem(transferIndexID, transactionID uint64) Item {
	return Item{kind: itemTransaction, transferIndexID: transferIndexID, transactionID: transactionID}
}

// PacketItem builds an Item referring to a packet within a transaction.
func PacketItem(transferIndexID, transactionID, packetID uint64) Item {
	return Item{kind: itemPacket, transferIndexID: transferIndexID, transactionID: transactionID, packetID: packetID}
}

// IsTransfer, IsTransaction, IsPacket report the Item's kind.
func (it Item) IsTransfer() bool    { return it.kind == itemTransfer }
func (it Item) IsTransaction() bool { return it.kind == itemTransaction }
func (it Item) IsPacket() bool      { return it.kind == itemPacket }

// TransferIndexID returns the owning transfer-index row for any Item kind.
func (it Item) TransferIndexID() uint64 { return it.transferIndexID }

// TransactionID returns the transaction id; valid for Transaction and
// Packet items only.
func (it Item) TransactionID() uint64 { return it.transactionID }

// PacketID returns the packet id; valid for Packet items only.
func (it Item) PacketID() uint64 { return it.packetID }

func (it Item) String() string {
	switch it.kind {
	case itemTransfer:
		return fmt.Sprintf("Transfer(%d)", it.transferIndexID)
	case itemTransaction:
		return fmt.Sprintf("Transaction(%d,%d)", it.transferIndexID, it.transactionID)
	default:
		return fmt.Sprintf("Packet(%d,%d,%d)", it.transferIndexID, it.transactionID, it.packetID)
	}
}

// TransferIndexEntry is the fixed-size (8-byte) record appended to the
// global transfer index every time an endpoint starts or ends a transfer.
// Bit layout (little-endian u64): transfer_id[0:52] | endpoint_id[52:63] |
// is_start[63:64].
type TransferIndexEntry struct {
	packed uint64
}

// PackTransferIndexEntry builds a TransferIndexEntry from its logical
// fields, masking each to its bit width (52-bit transfer id, 11-bit
// endpoint id); out-of-range bits are dropped, not reported.
func PackTransferIndexEntry(transferID uint64, endpointID EndpointID, isStart bool) TransferIndexEntry {
	var v uint64
	v |= transferID & ((1 << 52) - 1)
	v |= uint64(endpointID&0x7FF) << 52
	if isStart {
		v |= 1 << 63
	}
	return TransferIndexEntry{packed: v}
}

func (e TransferIndexEntry) TransferID() uint64     { return e.packed & ((1 << 52) - 1) }
func (e TransferIndexEntry) EndpointID() EndpointID { return EndpointID((e.packed >> 52) & 0x7FF) }
func (e TransferIndexEntry) IsStart() bool          { return e.packed&(1<<63) != 0 }

// EndpointKey is the fixed-size (8-byte) record identifying an endpoint.
// Bit layout: device_id[0:52] | device_address[52:59] | number[59:64].
type EndpointKey struct {
	packed uint64
}

// PackEndpointKey builds an EndpointKey from its logical fields.
func PackEndpointKey(deviceID DeviceID, deviceAddress uint8, number uint8) EndpointKey {
	var v uint64
	v |= uint64(deviceID) & ((1 << 52) - 1)
	v |= uint64(deviceAddress&0x7F) << 52
	v |= uint64(number&0x1F) << 59
	return EndpointKey{packed: v}
}

func (k EndpointKey) DeviceID() DeviceID      { return DeviceID(k.packed & ((1 << 52) - 1)) }
func (k EndpointKey) DeviceAddress() uint8    { return uint8((k.packed >> 52) & 0x7F) }
func (k EndpointKey) Number() uint8           { return uint8((k.packed >> 59) & 0x1F) }

// DeviceRecord is the fixed-size (1-byte, padded for paged-vector storage)
// on-disk record of a device's bus address.
type DeviceRecord struct {
	Address uint8
	_       [7]byte
}

// EndpointState is the per-endpoint activity state recorded in the
// endpoint_states snapshot after every transfer_index append.
type EndpointState uint8

const (
	EndpointIdle EndpointState = iota
	EndpointStarting
	EndpointOngoing
	EndpointEnding
)

func (s EndpointState) String() string {
	switch s {
	case EndpointIdle:
		return "Idle"
	case EndpointStarting:
		return "Starting"
	case EndpointOngoing:
		return "Ongoing"
	case EndpointEnding:
		return "Ending"
	default:
		return "Unknown"
	}
}

// EndpointType classifies the traffic an endpoint carries, either derived
// from the device's active configuration (Control/Isochronous/Bulk/
// Interrupt) or fixed for the two synthetic endpoints.
type EndpointType uint8

const (
	EndpointTypeControl      EndpointType = 0x00
	EndpointTypeIsochronous  EndpointType = 0x01
	EndpointTypeBulk         EndpointType = 0x02
	EndpointTypeInterrupt    EndpointType = 0x03
	EndpointTypeUnidentified EndpointType = 0x04
	EndpointTypeFraming      EndpointType = 0x10
	EndpointTypeInvalid      EndpointType = 0x11
)

func (t EndpointType) String() string {
	switch t {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	case EndpointTypeInterrupt:
		return "Interrupt"
	case EndpointTypeFraming:
		return "Framing"
	case EndpointTypeInvalid:
		return "Invalid"
	default:
		return "Unidentified"
	}
}

// EndpointTraffic holds the two per-endpoint sequences: the packed list of
// transaction ids belonging to the endpoint, and the offsets into that list
// marking transfer boundaries.
type EndpointTraffic struct {
	TransactionIDs *hybridindex.Index
	TransferIndex  *hybridindex.Index
}

func newEndpointTraffic() (*EndpointTraffic, error) {
	txIDs, err := hybridindex.New(8)
	if err != nil {
		return nil, err
	}
	xferIdx, err := hybridindex.New(4)
	if err != nil {
		return nil, err
	}
	return &EndpointTraffic{TransactionIDs: txIDs, TransferIndex: xferIdx}, nil
}

// DeviceData is the RAM-resident record of everything learned about a
// device from its descriptors: not packet-count-sized, so it does not need
// paged-vector backing.
type DeviceData struct {
	DeviceDescriptor *wire.DeviceDescriptor
	Configurations   map[uint8]*wire.Configuration
	ConfigurationID  *uint8
	EndpointTypes    [16]EndpointType
	Strings          map[uint8]string
}

func newDeviceData() *DeviceData {
	d := &DeviceData{
		Configurations: make(map[uint8]*wire.Configuration),
		Strings:        make(map[uint8]string),
	}
	for i := range d.EndpointTypes {
		d.EndpointTypes[i] = EndpointTypeUnidentified
	}
	return d
}

// EndpointType resolves the traffic type of endpoint `number` on this
// device: endpoint 0 is always Control, and types for other endpoints are
// whatever the active configuration's endpoint descriptors last said
// (Unidentified until a configuration is selected).
func (d *DeviceData) EndpointType(number uint8) EndpointType {
	if number == 0 {
		return EndpointTypeControl
	}
	if int(number) < len(d.EndpointTypes) {
		return d.EndpointTypes[number]
	}
	return EndpointTypeUnidentified
}

// UpdateEndpointTypes recomputes EndpointTypes from the currently selected
// configuration's interface/endpoint descriptors. Called after
// SET_CONFIGURATION and whenever a new configuration descriptor is learned
// while already selected.
func (d *DeviceData) UpdateEndpointTypes() {
	if d.ConfigurationID == nil {
		return
	}
	cfg, ok := d.Configurations[*d.ConfigurationID]
	if !ok || cfg == nil {
		return
	}
	for _, iface := range cfg.Interfaces {
		for _, ep := range iface.Endpoints {
			d.EndpointTypes[ep.Number()] = EndpointType(ep.TransferType())
		}
	}
}

// defaultLogger is the package-wide fallback structured logger, used when
// New is given a nil log.
var defaultLogger logrus.FieldLogger = logrus.StandardLogger()

var _ pagedvec.Logger = (*logrus.Entry)(nil)
