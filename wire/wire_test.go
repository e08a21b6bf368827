package wire

import "testing"

func TestPIDFromByte(t *testing.T) {
	// PID nibble 0x5 (SOF), complement nibble should be 0xA.
	b := byte(0xA5)
	if got := PIDFromByte(b); got != PIDSOF {
		t.Fatalf("PIDFromByte(0xA5) = %v, want SOF", got)
	}
	if !ValidComplement(b) {
		t.Fatal("ValidComplement(0xA5) = false, want true")
	}
	if ValidComplement(0x55) {
		t.Fatal("ValidComplement(0x55) = true, want false (bad complement)")
	}
}

func TestFromPacketSOF(t *testing.T) {
	// frame number 0x123, crc 0x1F (5 bits), packed little-endian across
	// bytes 1-2: raw = frame | crc<<11
	raw := uint16(0x123) | uint16(0x1F)<<11
	packet := []byte{0xA5, byte(raw), byte(raw >> 8)}
	f := FromPacket(packet)
	if f.Kind != FieldsSOF {
		t.Fatalf("Kind = %v, want FieldsSOF", f.Kind)
	}
	if f.FrameNumber != 0x123 {
		t.Fatalf("FrameNumber = %#x, want 0x123", f.FrameNumber)
	}
	if f.SOFCRC != 0x1F {
		t.Fatalf("SOFCRC = %#x, want 0x1F", f.SOFCRC)
	}
}

func TestFromPacketToken(t *testing.T) {
	addr := uint8(0x2A)  // 7 bits
	ep := uint8(0x05)    // 4 bits
	crc := uint8(0x0D)   // 5 bits
	raw := uint16(addr) | uint16(ep)<<7 | uint16(crc)<<11
	packet := []byte{0x69, byte(raw), byte(raw >> 8)} // PID 0x9 = IN
	f := FromPacket(packet)
	if f.Kind != FieldsToken {
		t.Fatalf("Kind = %v, want FieldsToken", f.Kind)
	}
	if f.DeviceAddress != addr || f.EndpointNumber != ep || f.TokenCRC != crc {
		t.Fatalf("got addr=%#x ep=%#x crc=%#x, want addr=%#x ep=%#x crc=%#x",
			f.DeviceAddress, f.EndpointNumber, f.TokenCRC, addr, ep, crc)
	}
}

func TestSetupFieldsDirection(t *testing.T) {
	data := []byte{0x80, ReqGetDescriptor, 0x00, DescTypeDevice, 0x00, 0x00, 18, 0x00}
	s := FromDataPacket(data)
	if s.Direction() != DirectionIn {
		t.Fatalf("Direction() = %v, want IN", s.Direction())
	}
	if s.Request != ReqGetDescriptor {
		t.Fatalf("Request = %#x, want GET_DESCRIPTOR", s.Request)
	}
	if s.DescriptorType() != DescTypeDevice {
		t.Fatalf("DescriptorType() = %#x, want DEVICE", s.DescriptorType())
	}
	if s.Length != 18 {
		t.Fatalf("Length = %d, want 18", s.Length)
	}
}

func TestParseDeviceDescriptor(t *testing.T) {
	b := make([]byte, 18)
	b[0] = 18
	b[1] = DescTypeDevice
	b[7] = 64  // MaxPacketSize0
	b[8] = 0xD1
	b[9] = 0x04 // VendorID = 0x04D1
	b[17] = 1   // NumConfigurations
	d, err := ParseDeviceDescriptor(b)
	if err != nil {
		t.Fatalf("ParseDeviceDescriptor: %v", err)
	}
	if d.VendorID != 0x04D1 {
		t.Fatalf("VendorID = %#x, want 0x04D1", d.VendorID)
	}
	if d.MaxPacketSize0 != 64 {
		t.Fatalf("MaxPacketSize0 = %d, want 64", d.MaxPacketSize0)
	}
	if d.NumConfigurations != 1 {
		t.Fatalf("NumConfigurations = %d, want 1", d.NumConfigurations)
	}
}

func TestParseConfigDescriptorWithInterfacesAndEndpoints(t *testing.T) {
	cfgDesc := []byte{9, DescTypeConfig, 0, 0, 1 /*numInterfaces*/, 1, 0, 0xA0, 50}
	ifaceDesc := []byte{9, DescTypeInterface, 0, 0, 2 /*numEndpoints*/, 0xFF, 0, 0, 0}
	epDesc1 := []byte{7, DescTypeEndpoint, 0x81, 0x02, 0x40, 0x00, 0x00}
	epDesc2 := []byte{7, DescTypeEndpoint, 0x01, 0x02, 0x40, 0x00, 0x00}
	var all []byte
	all = append(all, cfgDesc...)
	all = append(all, ifaceDesc...)
	all = append(all, epDesc1...)
	all = append(all, epDesc2...)

	cfg, err := ParseConfigDescriptor(all)
	if err != nil {
		t.Fatalf("ParseConfigDescriptor: %v", err)
	}
	if cfg.ConfigurationValue != 1 {
		t.Fatalf("ConfigurationValue = %d, want 1", cfg.ConfigurationValue)
	}
	if len(cfg.Interfaces) != 1 {
		t.Fatalf("len(Interfaces) = %d, want 1", len(cfg.Interfaces))
	}
	iface := cfg.Interfaces[0]
	if len(iface.Endpoints) != 2 {
		t.Fatalf("len(Endpoints) = %d, want 2", len(iface.Endpoints))
	}
	if !iface.Endpoints[0].In() {
		t.Fatal("Endpoints[0].In() = false, want true (address 0x81)")
	}
	if iface.Endpoints[1].In() {
		t.Fatal("Endpoints[1].In() = true, want false (address 0x01)")
	}
	if iface.Endpoints[0].TransferType() != 0x02 {
		t.Fatalf("TransferType() = %#x, want Bulk (0x02)", iface.Endpoints[0].TransferType())
	}
}

func TestParseStringDescriptorASCIISubset(t *testing.T) {
	// "Hi" as UTF-16LE
	payload := []byte{'H', 0, 'i', 0}
	got := ParseStringDescriptor(payload)
	if got != "Hi" {
		t.Fatalf("ParseStringDescriptor = %q, want %q", got, "Hi")
	}
}
