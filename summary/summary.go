// Package summary renders one-line human summaries and the "ladder"
// connector glyph column for capture tree nodes. It depends on package
// capture for read access to a built Store; capture itself never imports
// summary, which is what keeps dependency order F-after-D acyclic.
package summary

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/nodalsys/usbtrace/capture"
	"github.com/nodalsys/usbtrace/wire"
)

// Summarize renders the one-line summary text for a Transfer, Transaction
// or Packet item.
func Summarize(store *capture.Store, item capture.Item) (string, error) {
	switch {
	case item.IsPacket():
		return summarizePacket(store, item)
	case item.IsTransaction():
		return summarizeTransaction(store, item)
	default:
		return summarizeTransfer(store, item)
	}
}

func summarizePacket(store *capture.Store, item capture.Item) (string, error) {
	raw, err := store.GetPacket(item.PacketID())
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", nil
	}
	pid := wire.PIDFromByte(raw[0])
	fields := wire.FromPacket(raw)
	var trailer string
	switch fields.Kind {
	case wire.FieldsSOF:
		trailer = fmt.Sprintf(" with frame number %d, CRC %02X", fields.FrameNumber, fields.SOFCRC)
	case wire.FieldsToken:
		trailer = fmt.Sprintf(" on %d.%d, CRC %02X", fields.DeviceAddress, fields.EndpointNumber, fields.TokenCRC)
	case wire.FieldsData:
		trailer = fmt.Sprintf(" with %d data bytes and CRC %04X", len(raw)-3, fields.DataCRC)
	}
	return fmt.Sprintf("%s packet%s: %s", pid, trailer, hexBytes(raw)), nil
}

func hexBytes(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func summarizeTransaction(store *capture.Store, item capture.Item) (string, error) {
	txn, err := store.GetTransaction(item.TransactionID())
	if err != nil {
		return "", err
	}
	count := txn.PacketCount()
	if txn.PID == wire.PIDSOF {
		return fmt.Sprintf("%s SOF packets", humanize.Comma(int64(count))), nil
	}
	if size, ok := txn.PayloadSize(); ok {
		return fmt.Sprintf("%s transaction, %s packets with %s data bytes",
			txn.PID, humanize.Comma(int64(count)), humanize.Comma(int64(size))), nil
	}
	return fmt.Sprintf("%s transaction, %s packets", txn.PID, humanize.Comma(int64(count))), nil
}

func summarizeTransfer(store *capture.Store, item capture.Item) (string, error) {
	entry, err := store.TransferEntry(item.TransferIndexID())
	if err != nil {
		return "", err
	}
	endpoint, err := store.Endpoint(entry.EndpointID())
	if err != nil {
		return "", err
	}
	epType, err := store.EndpointType(entry.EndpointID())
	if err != nil {
		return "", err
	}

	if !entry.IsStart() {
		switch epType {
		case capture.EndpointTypeInvalid:
			return "End of invalid groups", nil
		case capture.EndpointTypeFraming:
			return "End of SOF groups", nil
		default:
			return fmt.Sprintf("%s transfer ending on endpoint %d.%d", epType, endpoint.DeviceAddress(), endpoint.Number()), nil
		}
	}

	lo, hi, err := store.ItemTransferRange(item)
	if err != nil {
		return "", err
	}
	count := hi - lo

	switch epType {
	case capture.EndpointTypeInvalid:
		return fmt.Sprintf("%s invalid groups", humanize.Comma(int64(count))), nil
	case capture.EndpointTypeFraming:
		return fmt.Sprintf("%s SOF groups", humanize.Comma(int64(count))), nil
	case capture.EndpointTypeControl:
		ctrl, err := store.GetControlTransfer(endpoint.DeviceAddress(), entry.EndpointID(), entry.TransferID())
		if err != nil {
			return "", err
		}
		return controlTransferSummary(ctrl), nil
	default:
		return fmt.Sprintf("%s transfer with %s transactions on endpoint %d.%d",
			epType, humanize.Comma(int64(count)), endpoint.DeviceAddress(), endpoint.Number()), nil
	}
}

// controlTransferSummary renders a completed control transfer's setup
// stage in human terms, naming the standard request where recognised and
// reporting how many data-stage bytes were actually captured.
func controlTransferSummary(ctrl capture.ControlTransferData) string {
	s := ctrl.Setup
	n := len(ctrl.Data)
	if !s.IsStandard() {
		return fmt.Sprintf("Vendor/class request %#02x to device %d, %d bytes transferred",
			s.Request, ctrl.DeviceAddress, n)
	}
	switch s.Request {
	case wire.ReqGetDescriptor:
		return fmt.Sprintf("Getting %s, returned %d bytes", descriptorName(s.DescriptorType(), s.DescriptorIndex()), n)
	case wire.ReqSetDescriptor:
		return fmt.Sprintf("Setting %s, %d bytes sent", descriptorName(s.DescriptorType(), s.DescriptorIndex()), n)
	case wire.ReqSetAddress:
		return fmt.Sprintf("Setting address to %d", s.Value)
	case wire.ReqSetConfiguration:
		return fmt.Sprintf("Setting configuration %d", s.Value)
	case wire.ReqGetConfiguration:
		return fmt.Sprintf("Getting configuration, returned %d bytes", n)
	case wire.ReqGetStatus:
		return fmt.Sprintf("Getting status of %s, returned %d bytes", recipientName(s.Recipient()), n)
	case wire.ReqClearFeature:
		return fmt.Sprintf("Clearing feature %s on %s", featureName(uint8(s.Value)), recipientName(s.Recipient()))
	case wire.ReqSetFeature:
		return fmt.Sprintf("Setting feature %s on %s", featureName(uint8(s.Value)), recipientName(s.Recipient()))
	case wire.ReqSetInterface:
		return fmt.Sprintf("Setting interface %d alternate setting %d", s.Index, s.Value)
	case wire.ReqGetInterface:
		return fmt.Sprintf("Getting interface %d alternate setting, returned %d bytes", s.Index, n)
	case wire.ReqSynchFrame:
		return fmt.Sprintf("Synchronizing frame for endpoint %d", s.Index)
	default:
		return fmt.Sprintf("Control request %#02x to device %d, %d bytes transferred",
			s.Request, ctrl.DeviceAddress, n)
	}
}

func descriptorName(descType, index uint8) string {
	switch descType {
	case wire.DescTypeDevice:
		return "device descriptor"
	case wire.DescTypeConfig:
		return "configuration descriptor"
	case wire.DescTypeString:
		return fmt.Sprintf("string descriptor %d", index)
	case wire.DescTypeInterface:
		return "interface descriptor"
	case wire.DescTypeEndpoint:
		return "endpoint descriptor"
	default:
		return fmt.Sprintf("descriptor type %#02x", descType)
	}
}

func recipientName(recipient uint8) string {
	switch recipient {
	case wire.RecipientDevice:
		return "device"
	case wire.RecipientInterface:
		return "interface"
	case wire.RecipientEndpoint:
		return "endpoint"
	default:
		return "other"
	}
}

func featureName(sel uint8) string {
	switch sel {
	case wire.FeatureEndpointHalt:
		return "ENDPOINT_HALT"
	case wire.FeatureDeviceRemoteWakeup:
		return "DEVICE_REMOTE_WAKEUP"
	case wire.FeatureTestMode:
		return "TEST_MODE"
	default:
		return fmt.Sprintf("%#02x", sel)
	}
}
