package summary

import (
	"strings"

	"github.com/nodalsys/usbtrace/capture"
)

// Connectors renders the fixed-width "ladder" glyph column for item: one
// column per known endpoint showing whether that endpoint is idle,
// starting, ongoing or ending a transfer at this row, plus a trailing
// branch glyph that varies by item kind. Glyph choices mirror the
// original capture viewer's connector table exactly.
func Connectors(store *capture.Store, item capture.Item) (string, error) {
	endpointCount := store.EndpointCount()

	entry, err := store.TransferEntry(item.TransferIndexID())
	if err != nil {
		return "", err
	}
	endpointID := entry.EndpointID()

	states, err := store.EndpointStateSnapshot(item.TransferIndexID())
	if err != nil {
		return "", err
	}
	extended, err := store.TransferExtended(endpointID, item.TransferIndexID())
	if err != nil {
		return "", err
	}

	lastTransaction := false
	if item.IsTransaction() || item.IsPacket() {
		ids, err := store.EndpointTransactionRange(endpointID, entry.TransferID())
		if err != nil {
			return "", err
		}
		if len(ids) > 0 {
			lastTransaction = item.TransactionID() == ids[len(ids)-1]
		}
	}

	lastPacket := false
	if item.IsPacket() {
		_, hi, err := store.ItemTransferRange(capture.TransactionItem(item.TransferIndexID(), item.TransactionID()))
		if err != nil {
			return "", err
		}
		lastPacket = item.PacketID() == hi-1
	}

	last := lastTransaction && !extended

	var b strings.Builder
	b.Grow(4 + endpointCount)

	thru := false
	for i, state := range states {
		active := state != capture.EndpointIdle
		onEndpoint := uint16(i) == uint16(endpointID)

		switch {
		case item.IsTransfer() && (state == capture.EndpointStarting || state == capture.EndpointEnding):
			thru = true
		case (item.IsTransaction() || item.IsPacket()) && onEndpoint:
			thru = true
		}

		b.WriteRune(glyphFor(item, state, onEndpoint, active, thru, last))
	}
	for i := len(states); i < endpointCount; i++ {
		if item.IsPacket() {
			b.WriteRune(' ')
		} else {
			b.WriteRune('─')
		}
	}

	switch {
	case item.IsTransfer() && entry.IsStart():
		b.WriteRune('─')
	case item.IsTransfer():
		b.WriteString("──□ ")
	case item.IsTransaction():
		b.WriteString("───")
	case lastPacket:
		b.WriteString("    └──")
	default:
		b.WriteString("    ├──")
	}

	return b.String(), nil
}

func glyphFor(item capture.Item, state capture.EndpointState, onEndpoint, active, thru, last bool) rune {
	switch {
	case item.IsTransfer():
		switch {
		case state == capture.EndpointIdle:
			return ' '
		case state == capture.EndpointStarting:
			return '○'
		case state == capture.EndpointOngoing && !thru:
			return '│'
		case state == capture.EndpointOngoing && thru:
			return '┼'
		default: // Ending
			return '└'
		}
	case item.IsTransaction():
		switch {
		case !onEndpoint && !active && !thru:
			return ' '
		case !onEndpoint && !active && thru:
			return '─'
		case !onEndpoint && active && !thru:
			return '│'
		case !onEndpoint && active && thru:
			return '┼'
		case onEndpoint && !last:
			return '├'
		default: // onEndpoint && last
			return '└'
		}
	default: // Packet
		switch {
		case !onEndpoint && !active:
			return ' '
		case !onEndpoint && active:
			return '│'
		case onEndpoint && !last:
			return '│'
		default:
			return ' '
		}
	}
}
