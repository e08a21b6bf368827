// Package decode turns a stream of raw USB packets into a built
// capture.Store: it assembles packets into transactions, transactions into
// per-endpoint transfers, and learns device descriptors and addressing from
// completed control transfers along the way. It is the single writer of a
// capture.Store; once Run returns, the store is read-only.
package decode

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nodalsys/usbtrace/capture"
	"github.com/nodalsys/usbtrace/wire"
)

// PacketSource yields raw packets in capture order. Next returns ok=false
// once the source is exhausted; a non-nil error always ends decoding.
type PacketSource interface {
	Next() (packet []byte, ok bool, err error)
}

// Decoder holds all per-stream assembly state: the in-progress transaction,
// per-endpoint transfer runtimes, the SOF/Invalid group trackers, and the
// address-to-device mapping used to resolve token packets to devices.
type Decoder struct {
	src   PacketSource
	store *capture.Store
	log   logrus.FieldLogger

	pending *pendingTransaction

	restState []capture.EndpointState

	sofGroupOpen      bool
	sofTransferID     uint64
	invalidGroupOpen  bool
	invalidTransferID uint64

	devicesByAddress map[uint8]capture.DeviceID
	runtimes         map[capture.EndpointID]*endpointRuntime
}

var (
	invalidEndpoint = capture.EndpointID(capture.EndpointInvalid)
	framingEndpoint = capture.EndpointID(capture.EndpointFraming)
)

// New builds a Decoder writing into store, reading packets from src. store
// must be freshly created (capture.New) since its synthetic endpoints and
// implicit default device anchor the address-resolution bookkeeping below.
func New(src PacketSource, store *capture.Store, log logrus.FieldLogger) *Decoder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Decoder{
		src:              src,
		store:            store,
		log:              log,
		devicesByAddress: map[uint8]capture.DeviceID{0: 0},
		runtimes:         make(map[capture.EndpointID]*endpointRuntime),
	}
}

// Run decodes every packet src yields into store, returning when the source
// is exhausted, ctx is cancelled, or a store I/O error occurs. It threads
// ctx through the single blocking loop the decoder has, same as the
// teacher's AsyncTransferManager threads a context through its event wait.
func (d *Decoder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, ok, err := d.src.Next()
		if err != nil {
			return fmt.Errorf("decode: read packet: %w", err)
		}
		if !ok {
			break
		}
		if err := d.handlePacket(raw); err != nil {
			return err
		}
	}
	if d.pending != nil {
		if err := d.finalizeTransaction(d.pending); err != nil {
			return err
		}
		d.pending = nil
	}
	return nil
}

func (d *Decoder) handlePacket(raw []byte) error {
	id, err := d.store.AppendPacket(raw)
	if err != nil {
		return err
	}
	pid := wire.PID(0)
	if len(raw) > 0 {
		pid = wire.PIDFromByte(raw[0])
	}

	if d.pending == nil {
		d.pending = newPendingTransaction(pid, id, raw)
		return nil
	}
	if canExtend(d.pending, pid) {
		d.pending.extend(pid, id)
		return nil
	}
	if err := d.finalizeTransaction(d.pending); err != nil {
		return err
	}
	d.pending = newPendingTransaction(pid, id, raw)
	return nil
}
