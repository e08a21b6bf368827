package capture

import (
	"fmt"

	"github.com/nodalsys/usbtrace/usbids"
	"github.com/nodalsys/usbtrace/wire"
)

func fmtDeviceHeader(address uint8, ident string) string {
	return fmt.Sprintf("Device %d: %s", address, ident)
}

func fmtVendorProduct(vendorID, productID uint16) string {
	if name := usbids.Default.ProductName(vendorID, productID); name != "" {
		return fmt.Sprintf("%04X:%04X (%s)", vendorID, productID, name)
	}
	if name := usbids.Default.VendorName(vendorID); name != "" {
		return fmt.Sprintf("%04X:%04X (%s)", vendorID, productID, name)
	}
	return fmt.Sprintf("%04X:%04X", vendorID, productID)
}

func fmtConfiguration(conf uint8) string {
	return fmt.Sprintf("Configuration %d", conf)
}

func fmtInterface(iface uint8) string {
	return fmt.Sprintf("Interface %d", iface)
}

func fmtEndpointHeader(ep interface {
	Number() uint8
	In() bool
}) string {
	dir := "OUT"
	if ep.In() {
		dir = "IN"
	}
	return fmt.Sprintf("Endpoint %d %s", ep.Number(), dir)
}

// named suffixes a hex field with its looked-up name in parentheses, or
// returns "" when the database has no entry for it.
func named(name string) string {
	if name == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", name)
}

func stringOrIndex(strings map[uint8]string, index uint8) string {
	if index == 0 {
		return "(none)"
	}
	if s, ok := strings[index]; ok {
		return fmt.Sprintf("%d %q", index, s)
	}
	return fmt.Sprintf("%d", index)
}

// deviceDescriptorFieldText renders the field-th line of the 13-field
// device descriptor leaf list.
func deviceDescriptorFieldText(d wire.DeviceDescriptor, strings map[uint8]string, field uint8) string {
	switch field {
	case 0:
		return "bDescriptorType: 0x01 (DEVICE)"
	case 1:
		return fmt.Sprintf("bcdUSB: %d.%02d", d.USBVersion>>8, d.USBVersion&0xFF)
	case 2:
		return fmt.Sprintf("bDeviceClass: 0x%02X%s", d.DeviceClass, named(usbids.Default.ClassName(d.DeviceClass)))
	case 3:
		return fmt.Sprintf("bDeviceSubClass: 0x%02X", d.DeviceSubClass)
	case 4:
		return fmt.Sprintf("bDeviceProtocol: 0x%02X", d.DeviceProtocol)
	case 5:
		return fmt.Sprintf("bMaxPacketSize0: %d", d.MaxPacketSize0)
	case 6:
		return fmt.Sprintf("idVendor: 0x%04X%s", d.VendorID, named(usbids.Default.VendorName(d.VendorID)))
	case 7:
		return fmt.Sprintf("idProduct: 0x%04X%s", d.ProductID, named(usbids.Default.ProductName(d.VendorID, d.ProductID)))
	case 8:
		return fmt.Sprintf("bcdDevice: %d.%02d", d.DeviceVersion>>8, d.DeviceVersion&0xFF)
	case 9:
		return "iManufacturer: " + stringOrIndex(strings, d.ManufacturerIndex)
	case 10:
		return "iProduct: " + stringOrIndex(strings, d.ProductIndex)
	case 11:
		return "iSerialNumber: " + stringOrIndex(strings, d.SerialNumberIndex)
	case 12:
		return fmt.Sprintf("bNumConfigurations: %d", d.NumConfigurations)
	default:
		return ""
	}
}

// configDescriptorFieldText renders the field-th line of the 7-line
// configuration descriptor leaf list (wTotalLength is not shown).
func configDescriptorFieldText(c *wire.Configuration, strings map[uint8]string, field uint8) string {
	switch field {
	case 0:
		return "bLength: 9"
	case 1:
		return "bDescriptorType: 0x02 (CONFIGURATION)"
	case 2:
		return fmt.Sprintf("bNumInterfaces: %d", len(c.Interfaces))
	case 3:
		return fmt.Sprintf("bConfigurationValue: %d", c.ConfigurationValue)
	case 4:
		return "iConfiguration: (none)"
	case 5:
		return fmt.Sprintf("bmAttributes: 0x%02X", c.Attributes)
	case 6:
		return fmt.Sprintf("bMaxPower: %dmA", int(c.MaxPower)*2)
	default:
		return ""
	}
}

// interfaceDescriptorFieldText renders the field-th line of the 9-field
// interface descriptor leaf list.
func interfaceDescriptorFieldText(iface *wire.InterfaceDescriptor, strings map[uint8]string, field uint8) string {
	switch field {
	case 0:
		return "bLength: 9"
	case 1:
		return "bDescriptorType: 0x04 (INTERFACE)"
	case 2:
		return fmt.Sprintf("bInterfaceNumber: %d", iface.InterfaceNumber)
	case 3:
		return fmt.Sprintf("bAlternateSetting: %d", iface.AlternateSetting)
	case 4:
		return fmt.Sprintf("bNumEndpoints: %d", len(iface.Endpoints))
	case 5:
		return fmt.Sprintf("bInterfaceClass: 0x%02X", iface.InterfaceClass)
	case 6:
		return fmt.Sprintf("bInterfaceSubClass: 0x%02X", iface.InterfaceSubClass)
	case 7:
		return fmt.Sprintf("bInterfaceProtocol: 0x%02X", iface.InterfaceProtocol)
	case 8:
		return "iInterface: " + stringOrIndex(strings, iface.InterfaceIndex)
	default:
		return ""
	}
}

// endpointDescriptorFieldText renders the field-th line of the 6-field
// endpoint descriptor leaf list.
func endpointDescriptorFieldText(ep *wire.EndpointDescriptor, field uint8) string {
	switch field {
	case 0:
		return "bLength: 7"
	case 1:
		return "bDescriptorType: 0x05 (ENDPOINT)"
	case 2:
		dir := "OUT"
		if ep.In() {
			dir = "IN"
		}
		return fmt.Sprintf("bEndpointAddress: %d %s", ep.Number(), dir)
	case 3:
		return fmt.Sprintf("bmAttributes: 0x%02X (%s)", ep.Attributes, endpointTypeLabel(ep.TransferType()))
	case 4:
		return fmt.Sprintf("wMaxPacketSize: %d", ep.MaxPacketSize)
	case 5:
		return fmt.Sprintf("bInterval: %d", ep.Interval)
	default:
		return ""
	}
}

func endpointTypeLabel(transferType uint8) string {
	switch transferType {
	case 0x00:
		return "Control"
	case 0x01:
		return "Isochronous"
	case 0x02:
		return "Bulk"
	case 0x03:
		return "Interrupt"
	default:
		return "Unknown"
	}
}
