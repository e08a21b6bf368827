package decode

import "github.com/nodalsys/usbtrace/wire"

// pendingTransaction is the transaction currently being assembled: the
// packet-id range seen so far, the opener PID that decides which
// continuations are acceptable, and (for a token opener) the address/
// endpoint the transaction is addressed to.
type pendingTransaction struct {
	openerPID     wire.PID
	firstPacketID uint64
	packetCount   int
	lastPID       wire.PID
	tokenFields   wire.PacketFields
}

func newPendingTransaction(pid wire.PID, packetID uint64, raw []byte) *pendingTransaction {
	p := &pendingTransaction{
		openerPID:     pid,
		firstPacketID: packetID,
		packetCount:   1,
		lastPID:       pid,
	}
	if isTokenOpener(pid) {
		p.tokenFields = wire.FromPacket(raw)
	}
	return p
}

func (p *pendingTransaction) extend(pid wire.PID, packetID uint64) {
	p.packetCount++
	p.lastPID = pid
}

func isTokenOpener(pid wire.PID) bool {
	switch pid {
	case wire.PIDSetup, wire.PIDIn, wire.PIDOut, wire.PIDPing:
		return true
	default:
		return false
	}
}

// canExtend reports whether next can follow the packets already gathered
// into p, per the acceptable 2-/3-packet sequences: SOF alone; SETUP ->
// DATA0 -> ACK; IN -> DATA0|DATA1 -> ACK|NAK|STALL (or directly NAK|STALL);
// OUT -> DATA0|DATA1 -> ACK|NAK|STALL; PING -> ACK|NAK|STALL. Anything else
// (including SPLIT, which this decoder does not model beyond classifying it
// Invalid, see DESIGN.md) never extends.
func canExtend(p *pendingTransaction, next wire.PID) bool {
	switch p.openerPID {
	case wire.PIDSOF:
		return false
	case wire.PIDSetup:
		switch p.packetCount {
		case 1:
			return next == wire.PIDData0
		case 2:
			return next == wire.PIDAck
		}
		return false
	case wire.PIDIn, wire.PIDOut:
		switch p.packetCount {
		case 1:
			return next == wire.PIDData0 || next == wire.PIDData1 || isHandshakeClose(next)
		case 2:
			if p.lastPID == wire.PIDData0 || p.lastPID == wire.PIDData1 {
				return isHandshakeClose(next)
			}
		}
		return false
	case wire.PIDPing:
		if p.packetCount == 1 {
			return isHandshakeClose(next)
		}
		return false
	default:
		return false
	}
}

func isHandshakeClose(pid wire.PID) bool {
	return pid == wire.PIDAck || pid == wire.PIDNak || pid == wire.PIDStall
}

// transactionCategory classifies a finalized transaction for transfer
// routing purposes.
type transactionCategory uint8

const (
	categoryInvalid transactionCategory = iota
	categorySOF
	categoryToken
)

func categorize(p *pendingTransaction) transactionCategory {
	switch p.openerPID {
	case wire.PIDSOF:
		return categorySOF
	case wire.PIDSetup, wire.PIDIn, wire.PIDOut, wire.PIDPing:
		return categoryToken
	default:
		// includes SPLIT: split-transaction support is only partial per
		// spec's open question, so unrecognised wrapped sequences land on
		// the Invalid endpoint like any other unclassifiable traffic.
		return categoryInvalid
	}
}

func txnDirection(pid wire.PID) wire.Direction {
	if pid == wire.PIDIn {
		return wire.DirectionIn
	}
	return wire.DirectionOut
}
