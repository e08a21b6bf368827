package wire

import "fmt"

// ErrShortDescriptor is returned when a descriptor buffer is too small for
// its fixed-size fields.
var ErrShortDescriptor = fmt.Errorf("wire: descriptor buffer too short")

// DeviceDescriptor mirrors the 18-byte USB device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// ParseDeviceDescriptor parses an 18-byte GET_DESCRIPTOR(DEVICE) response.
// Descriptors shorter than 18 bytes are a malformed capture, not a crash:
// the caller (decode.Decoder) simply does not learn the device descriptor
// and the device stays "Unknown" in summaries.
func ParseDeviceDescriptor(b []byte) (DeviceDescriptor, error) {
	if len(b) < 18 {
		return DeviceDescriptor{}, ErrShortDescriptor
	}
	return DeviceDescriptor{
		USBVersion:        le16(b[2:4]),
		DeviceClass:       b[4],
		DeviceSubClass:    b[5],
		DeviceProtocol:    b[6],
		MaxPacketSize0:    b[7],
		VendorID:          le16(b[8:10]),
		ProductID:         le16(b[10:12]),
		DeviceVersion:     le16(b[12:14]),
		ManufacturerIndex: b[14],
		ProductIndex:      b[15],
		SerialNumberIndex: b[16],
		NumConfigurations: b[17],
	}, nil
}

// EndpointDescriptor mirrors the (at least) 7-byte USB endpoint descriptor.
type EndpointDescriptor struct {
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

// Number returns the endpoint number (bits 0-3 of EndpointAddress).
func (e EndpointDescriptor) Number() uint8 { return e.EndpointAddress & 0x0F }

// In reports whether the endpoint is an IN endpoint (bit 7 of EndpointAddress).
func (e EndpointDescriptor) In() bool { return e.EndpointAddress&0x80 != 0 }

// TransferType returns the endpoint's transfer type from bits 0-1 of
// Attributes (Control/Isochronous/Bulk/Interrupt, same encoding as
// capture.EndpointType's first four values).
func (e EndpointDescriptor) TransferType() uint8 { return e.Attributes & 0x03 }

func parseEndpointDescriptor(b []byte) (EndpointDescriptor, error) {
	if len(b) < 7 {
		return EndpointDescriptor{}, ErrShortDescriptor
	}
	return EndpointDescriptor{
		EndpointAddress: b[2],
		Attributes:      b[3],
		MaxPacketSize:   le16(b[4:6]),
		Interval:        b[6],
	}, nil
}

// InterfaceDescriptor mirrors the 9-byte USB interface descriptor, plus the
// endpoint descriptors nested inside its alternate setting.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
	Endpoints         []EndpointDescriptor
}

func parseInterfaceHeader(b []byte) (InterfaceDescriptor, error) {
	if len(b) < 9 {
		return InterfaceDescriptor{}, ErrShortDescriptor
	}
	return InterfaceDescriptor{
		InterfaceNumber:   b[2],
		AlternateSetting:  b[3],
		InterfaceClass:    b[5],
		InterfaceSubClass: b[6],
		InterfaceProtocol: b[7],
		InterfaceIndex:    b[8],
	}, nil
}

// Configuration mirrors the USB configuration descriptor together with its
// nested interfaces, as reassembled from a (possibly multi-transaction)
// GET_DESCRIPTOR(CONFIG) response.
type Configuration struct {
	ConfigurationValue uint8
	Attributes         uint8
	MaxPower           uint8
	Interfaces         []InterfaceDescriptor
}

// ParseConfigDescriptor parses a full GET_DESCRIPTOR(CONFIG) response: the
// configuration descriptor followed by a flat stream of interface,
// endpoint and (possibly) class-specific descriptors, exactly as the
// device sends them back to back. Any descriptor type other than
// INTERFACE/ENDPOINT is skipped by its own length field, per spec.md's
// "unknown descriptor types are skipped".
func ParseConfigDescriptor(b []byte) (Configuration, error) {
	if len(b) < 9 {
		return Configuration{}, ErrShortDescriptor
	}
	cfg := Configuration{
		ConfigurationValue: b[5],
		Attributes:         b[7],
		MaxPower:           b[8],
	}
	rest := b[9:]
	for len(rest) >= 2 {
		length := int(rest[0])
		if length < 2 || length > len(rest) {
			break
		}
		descType := rest[1]
		switch descType {
		case DescTypeInterface:
			if iface, err := parseInterfaceHeader(rest[:length]); err == nil {
				cfg.Interfaces = append(cfg.Interfaces, iface)
			}
		case DescTypeEndpoint:
			if len(cfg.Interfaces) > 0 {
				if ep, err := parseEndpointDescriptor(rest[:length]); err == nil {
					last := len(cfg.Interfaces) - 1
					cfg.Interfaces[last].Endpoints = append(cfg.Interfaces[last].Endpoints, ep)
				}
			}
		}
		rest = rest[length:]
	}
	return cfg, nil
}

// ParseStringDescriptor decodes a USB UTF-16LE string descriptor's payload
// (header stripped) into a Go string. Malformed (odd-length) payloads are
// truncated rather than rejected.
func ParseStringDescriptor(b []byte) string {
	n := len(b) / 2
	runes := make([]uint16, n)
	for i := 0; i < n; i++ {
		runes[i] = le16(b[i*2 : i*2+2])
	}
	return utf16ToString(runes)
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

func utf16ToString(u []uint16) string {
	out := make([]rune, 0, len(u))
	for i := 0; i < len(u); i++ {
		r := rune(u[i])
		if r >= 0xD800 && r <= 0xDBFF && i+1 < len(u) {
			r2 := rune(u[i+1])
			if r2 >= 0xDC00 && r2 <= 0xDFFF {
				out = append(out, ((r-0xD800)<<10|(r2-0xDC00))+0x10000)
				i++
				continue
			}
		}
		out = append(out, r)
	}
	return string(out)
}
