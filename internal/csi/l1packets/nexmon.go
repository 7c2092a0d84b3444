package l1packets

import (
	"encoding/binary"
	"time"
)

const nexmonFormat = "nexmon"

// NexmonMagic opens every nexmon_csi UDP payload.
const NexmonMagic = 0x1111

// NexmonHeaderLen is the fixed header size before the sample array.
const NexmonHeaderLen = 18

// NexmonParser decodes UDP payloads emitted by the nexmon_csi firmware
// patch on Broadcom chips. Layout, little endian:
//
//	0  magic 0x1111
//	2  rssi (int8)
//	3  frame control
//	4  source MAC (6 bytes)
//	10 sequence number
//	12 core (bits 0-2) and spatial stream (bits 3-5)
//	14 chanspec
//	16 chip version
//	18 samples: int16 real, int16 imaginary per subcarrier
//
// The receive core becomes Rx and the spatial stream becomes Tx.
type NexmonParser struct{}

// Parse implements Parser. Payloads without the magic return ErrNotCSI.
func (NexmonParser) Parse(raw []byte, ts time.Time) (*Packet, error) {
	if len(raw) < 2 || binary.LittleEndian.Uint16(raw) != NexmonMagic {
		return nil, ErrNotCSI
	}
	if len(raw) < NexmonHeaderLen+4 {
		return nil, parseErrorf(nexmonFormat, "payload of %d bytes has no samples", len(raw))
	}
	body := raw[NexmonHeaderLen:]
	if len(body)%4 != 0 {
		return nil, parseErrorf(nexmonFormat, "sample block of %d bytes is not a whole number of subcarriers", len(body))
	}

	coreStream := binary.LittleEndian.Uint16(raw[12:])
	samples := make([]complex128, len(body)/4)
	for i := range samples {
		re := int16(binary.LittleEndian.Uint16(body[4*i:]))
		im := int16(binary.LittleEndian.Uint16(body[4*i+2:]))
		samples[i] = complex(float64(re), float64(im))
	}
	return &Packet{
		Seq:       uint32(binary.LittleEndian.Uint16(raw[10:])),
		Timestamp: ts,
		Tx:        int(coreStream>>3) & 0x7,
		Rx:        int(coreStream) & 0x7,
		RSSI:      int(int8(raw[2])),
		Samples:   samples,
	}, nil
}

// EncodeNexmon builds a nexmon_csi payload. It is the inverse of Parse and
// is used by tests and the packet replay tooling.
func EncodeNexmon(p *Packet) []byte {
	buf := make([]byte, NexmonHeaderLen+4*len(p.Samples))
	binary.LittleEndian.PutUint16(buf, NexmonMagic)
	buf[2] = byte(int8(p.RSSI))
	binary.LittleEndian.PutUint16(buf[10:], uint16(p.Seq))
	binary.LittleEndian.PutUint16(buf[12:], uint16(p.Rx&0x7)|uint16(p.Tx&0x7)<<3)
	for i, s := range p.Samples {
		binary.LittleEndian.PutUint16(buf[NexmonHeaderLen+4*i:], uint16(int16(real(s))))
		binary.LittleEndian.PutUint16(buf[NexmonHeaderLen+4*i+2:], uint16(int16(imag(s))))
	}
	return buf
}
