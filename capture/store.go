package capture

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nodalsys/usbtrace/hybridindex"
	"github.com/nodalsys/usbtrace/pagedvec"
)

// IoError wraps a paged-vector or hybrid-index I/O failure crossing the
// store's public boundary. It is the only recoverable error kind this
// package raises; everything else (out-of-range navigation, a Packet item
// asked for its children) is a programmer error and panics, per spec.md §7.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("capture: %s: %v", e.Op, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Op: op, Err: err}
}

// RangeError describes a logical count beyond the UI's u32 row-addressing
// limit. No operation in this package returns it: counts are reported as
// uint64 and are not checked against that limit.
type RangeError struct {
	msg string
}

func (e *RangeError) Error() string { return "capture: " + e.msg }

const maxAddressableRows = 1<<32 - 1

// syntheticEndpointNumberInvalid/Framing key the two synthetic endpoints
// under device 0 (the implicit default device) using endpoint numbers a
// real token can never carry: wire.FromPacket masks EndpointNumber to 4
// bits (0-15), so 16/17 can never collide with the default control pipe's
// own (device 0, address 0, endpoint 0) lookup key. A sentinel address
// would not work here: EndpointKey packs device_address into 7 bits, so
// any out-of-range byte (e.g. 0xFF) truncates down to a real, addressable
// value instead of standing outside the range.
const (
	syntheticEndpointNumberInvalid = 16
	syntheticEndpointNumberFraming = 17
)

// Store is the disk-backed USB capture model: packets, transactions,
// transfers, endpoints, devices, and the per-endpoint activity snapshots.
// It is built once by package decode (single writer) and is safe for
// concurrent read-only queries thereafter, each guarded by a short-lived
// lock (spec.md §5).
type Store struct {
	mu sync.RWMutex

	log logrus.FieldLogger

	packetData  *pagedvec.PagedVector[byte]
	packetIndex *hybridindex.Index

	transactionIndex *hybridindex.Index

	transferIndex *pagedvec.PagedVector[TransferIndexEntry]

	endpoints       *pagedvec.PagedVector[EndpointKey]
	endpointTraffic []*EndpointTraffic
	endpointLookup  map[uint64]EndpointID

	endpointStates     *pagedvec.PagedVector[byte]
	endpointStateIndex *hybridindex.Index

	devices           *pagedvec.PagedVector[DeviceRecord]
	deviceData        []*DeviceData
	addressOverrides  map[DeviceID]uint8
}

// New creates an empty Store with the two synthetic endpoints (Invalid,
// Framing) pre-allocated, per spec.md §3.
func New(log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = defaultLogger
	}
	packetData, err := pagedvec.New[byte]("packet-data")
	if err != nil {
		return nil, err
	}
	packetData.SetLogger(log)
	packetIndex, err := hybridindex.New(8)
	if err != nil {
		return nil, err
	}
	transactionIndex, err := hybridindex.New(1)
	if err != nil {
		return nil, err
	}
	transferIndex, err := pagedvec.New[TransferIndexEntry]("transfer-index")
	if err != nil {
		return nil, err
	}
	transferIndex.SetLogger(log)
	endpoints, err := pagedvec.New[EndpointKey]("endpoints")
	if err != nil {
		return nil, err
	}
	endpointStates, err := pagedvec.New[byte]("endpoint-states")
	if err != nil {
		return nil, err
	}
	endpointStateIndex, err := hybridindex.New(1)
	if err != nil {
		return nil, err
	}
	devices, err := pagedvec.New[DeviceRecord]("devices")
	if err != nil {
		return nil, err
	}

	s := &Store{
		log:                log,
		packetData:         packetData,
		packetIndex:        packetIndex,
		transactionIndex:   transactionIndex,
		transferIndex:      transferIndex,
		endpoints:          endpoints,
		endpointStates:     endpointStates,
		endpointStateIndex: endpointStateIndex,
		devices:            devices,
		endpointLookup:     make(map[uint64]EndpointID),
	}

	// Device 0 is the implicit default device at bus address 0, always
	// present so enumeration traffic before SET_ADDRESS has somewhere to
	// attach (see DESIGN.md section D).
	if _, err := s.newDeviceLocked(0); err != nil {
		return nil, err
	}
	// The two synthetic endpoints live on device 0 at endpoint numbers no
	// real token can ever address, so they can never collide with the
	// real default control pipe at (device 0, address 0, endpoint 0).
	if _, err := s.ensureEndpointLocked(0, 0, syntheticEndpointNumberInvalid); err != nil { // EndpointInvalid
		return nil, err
	}
	if _, err := s.ensureEndpointLocked(0, 0, syntheticEndpointNumberFraming); err != nil { // EndpointFraming
		return nil, err
	}
	return s, nil
}

// Close releases all backing temporary files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	closers := []func() error{s.packetData.Close, s.transferIndex.Close, s.endpoints.Close, s.endpointStates.Close, s.devices.Close}
	for _, c := range closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ---- write-side API, used only by package decode during the build phase ----

// AppendPacket stores a raw packet's bytes and returns its packet id.
func (s *Store) AppendPacket(data []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.packetIndex.Len()
	offset := s.packetData.Len()
	if err := s.packetIndex.Push(offset); err != nil {
		return 0, ioErr("append packet index", err)
	}
	for _, b := range data {
		if err := s.packetData.Push(b); err != nil {
			return 0, ioErr("append packet data", err)
		}
	}
	return id, nil
}

// AppendTransaction records the first packet id of a new transaction and
// returns its transaction id.
func (s *Store) AppendTransaction(firstPacketID uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.transactionIndex.Len()
	if err := s.transactionIndex.Push(firstPacketID); err != nil {
		return 0, ioErr("append transaction index", err)
	}
	return id, nil
}

// EnsureEndpoint returns the EndpointID for (deviceID, deviceAddress,
// number), allocating a new endpoint record the first time this triple is
// seen.
func (s *Store) EnsureEndpoint(deviceID DeviceID, deviceAddress uint8, number uint8) (EndpointID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureEndpointLocked(deviceID, deviceAddress, number)
}

func (s *Store) ensureEndpointLocked(deviceID DeviceID, deviceAddress uint8, number uint8) (EndpointID, error) {
	key := endpointLookupKey(deviceID, deviceAddress, number)
	if id, ok := s.endpointLookup[key]; ok {
		return id, nil
	}
	id := EndpointID(s.endpoints.Len())
	if err := s.endpoints.Push(PackEndpointKey(deviceID, deviceAddress, number)); err != nil {
		return 0, ioErr("append endpoint", err)
	}
	traf, err := newEndpointTraffic()
	if err != nil {
		return 0, err
	}
	s.endpointTraffic = append(s.endpointTraffic, traf)
	s.endpointLookup[key] = id
	s.log.WithFields(logrus.Fields{"endpoint_id": id, "device_address": deviceAddress, "number": number}).Debug("capture: allocated endpoint")
	return id, nil
}

func endpointLookupKey(deviceID DeviceID, deviceAddress, number uint8) uint64 {
	return uint64(deviceID)<<16 | uint64(deviceAddress)<<8 | uint64(number)
}

// AppendEndpointTransaction records that transactionID belongs to ep, in
// order, as part of whichever transfer is currently open on it.
func (s *Store) AppendEndpointTransaction(ep EndpointID, transactionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	traf := s.endpointTraffic[ep]
	if err := traf.TransactionIDs.Push(transactionID); err != nil {
		return ioErr("append endpoint transaction", err)
	}
	return nil
}

// OpenTransfer opens a new transfer on ep: it records the current length of
// ep's transaction-id sequence as the transfer's start offset, appends a
// start TransferIndexEntry to the global transfer index, and records states
// (one per known endpoint, as computed by the caller) as the endpoint state
// snapshot for this row. It returns the (transferIndexID, transferID) pair
// the caller needs to later close the transfer.
func (s *Store) OpenTransfer(ep EndpointID, states []EndpointState) (transferIndexID, transferID uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	traf := s.endpointTraffic[ep]
	transferID = traf.TransferIndex.Len()
	if err = traf.TransferIndex.Push(traf.TransactionIDs.Len()); err != nil {
		return 0, 0, ioErr("append endpoint transfer index", err)
	}
	transferIndexID = s.transferIndex.Len()
	if err = s.transferIndex.Push(PackTransferIndexEntry(transferID, ep, true)); err != nil {
		return 0, 0, ioErr("append transfer index", err)
	}
	if err = s.appendEndpointStateSnapshotLocked(states); err != nil {
		return 0, 0, err
	}
	return transferIndexID, transferID, nil
}

// CloseTransfer appends the matching end TransferIndexEntry for (ep,
// transferID) and records the caller-supplied states as the endpoint state
// snapshot for this row.
func (s *Store) CloseTransfer(ep EndpointID, transferID uint64, states []EndpointState) (transferIndexID uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transferIndexID = s.transferIndex.Len()
	if err = s.transferIndex.Push(PackTransferIndexEntry(transferID, ep, false)); err != nil {
		return 0, ioErr("append transfer index", err)
	}
	if err = s.appendEndpointStateSnapshotLocked(states); err != nil {
		return 0, err
	}
	return transferIndexID, nil
}

func (s *Store) appendEndpointStateSnapshotLocked(states []EndpointState) error {
	offset := s.endpointStates.Len()
	if err := s.endpointStateIndex.Push(offset); err != nil {
		return ioErr("append endpoint state index", err)
	}
	for _, st := range states {
		if err := s.endpointStates.Push(byte(st)); err != nil {
			return ioErr("append endpoint state", err)
		}
	}
	return nil
}

// EndpointCount returns the number of endpoints allocated so far,
// including the two synthetic ones.
func (s *Store) EndpointCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.endpointTraffic)
}

// NewDevice allocates a new device record and returns its id.
func (s *Store) NewDevice(address uint8) (DeviceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newDeviceLocked(address)
}

func (s *Store) newDeviceLocked(address uint8) (DeviceID, error) {
	id := DeviceID(s.devices.Len())
	if err := s.devices.Push(DeviceRecord{Address: address}); err != nil {
		return 0, ioErr("append device", err)
	}
	s.deviceData = append(s.deviceData, newDeviceData())
	return id, nil
}

// DeviceData returns the mutable per-device learned state (descriptors,
// configuration, endpoint types, strings) for in-place updates by the
// decoder.
func (s *Store) DeviceData(id DeviceID) *DeviceData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceData[id]
}

// DeviceAddress returns the bus address recorded for device id.
func (s *Store) DeviceAddress(id DeviceID) (uint8, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if addr, ok := s.addressOverrides[id]; ok {
		return addr, nil
	}
	rec, err := s.devices.Get(uint64(id))
	if err != nil {
		return 0, ioErr("get device", err)
	}
	return rec.Address, nil
}

// SetDeviceAddress updates the bus address recorded for device id (used by
// SET_ADDRESS handling, which moves a device from address 0 without
// allocating a new device record).
func (s *Store) SetDeviceAddress(id DeviceID, address uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// DeviceRecord storage is append-only, so the stored record keeps its
	// original address; the new address is kept in a RAM override map that
	// DeviceAddress consults first.
	if s.addressOverrides == nil {
		s.addressOverrides = make(map[DeviceID]uint8)
	}
	s.addressOverrides[id] = address
	return nil
}
