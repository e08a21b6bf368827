package main

import (
	"encoding/binary"
	"fmt"
	"io"
)

// pcapMagicLE/pcapMagicBE are the two byte orders a classic pcap global
// header can appear in; whichever matches fixes the order for every record
// that follows.
const (
	pcapMagicLE = 0xa1b2c3d4
	pcapMagicBE = 0xd4c3b2a1

	linkTypeUSB20 = 220 // LINKTYPE_USB_2_0
)

// pcapReader reads a classic (non-nanosecond) pcap file framed as
// LINKTYPE_USB_2_0 and yields each record's payload as a raw USB packet,
// implementing decode.PacketSource.
type pcapReader struct {
	r     io.Reader
	order binary.ByteOrder
}

func newPCAPReader(r io.Reader) (*pcapReader, error) {
	var hdr [24]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("pcap: read global header: %w", err)
	}

	var order binary.ByteOrder
	switch binary.LittleEndian.Uint32(hdr[0:4]) {
	case pcapMagicLE:
		order = binary.LittleEndian
	case pcapMagicBE:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("pcap: unrecognised magic number %#08x", hdr[0:4])
	}

	network := order.Uint32(hdr[20:24])
	if network != linkTypeUSB20 {
		return nil, fmt.Errorf("pcap: link type %d is not LINKTYPE_USB_2_0 (220)", network)
	}

	return &pcapReader{r: r, order: order}, nil
}

// Next reads the next record header (ts_sec, ts_usec, incl_len, orig_len)
// and returns its payload. Timestamps and orig_len are not surfaced: the
// decoder reconstructs transaction timing from packet order alone.
func (p *pcapReader) Next() ([]byte, bool, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(p.r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("pcap: read record header: %w", err)
	}

	inclLen := p.order.Uint32(hdr[8:12])
	payload := make([]byte, inclLen)
	if _, err := io.ReadFull(p.r, payload); err != nil {
		return nil, false, fmt.Errorf("pcap: read record payload: %w", err)
	}
	return payload, true, nil
}
