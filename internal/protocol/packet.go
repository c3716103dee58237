// Package protocol defines the on-wire datagram format for voice frames.
//
// Every datagram carries a fixed 16-byte little-endian header followed by the
// encoded payload:
//
//	off  size  field
//	 0    1    sender token
//	 1    1    channels (1 or 2)
//	 2    1    sample rate in kHz (8, 16, 24, 48)
//	 3    1    encoder format (0=PCM, 1=Opus)
//	 4    4    sequence (u32)
//	 8    8    timestamp, microseconds (u64)
//	16    N    payload
//
// Malformed datagrams are dropped silently by receivers; Validate is the
// single gate every inbound packet passes through.
package protocol

import "encoding/binary"

// Encoder format identifiers carried in the header.
const (
	EncoderPCM  = 0
	EncoderOpus = 1
)

// HeaderSize is the fixed length of the packet header in bytes.
const HeaderSize = 16

// MaxDatagram bounds a whole datagram: header plus six periods' worth of
// payload. Receive buffers are sized to this.
const MaxDatagram = 6 * 1024

// Header is the decoded form of the 16-byte packet header.
type Header struct {
	Sender    uint8
	Channels  uint8
	RateKHz   uint8
	Encoder   uint8
	Sequence  uint32
	Timestamp uint64
}

// Marshal writes the header into buf[:HeaderSize] in wire layout.
func (h Header) Marshal(buf []byte) {
	buf[0] = h.Sender
	buf[1] = h.Channels
	buf[2] = h.RateKHz
	buf[3] = h.Encoder
	binary.LittleEndian.PutUint32(buf[4:8], h.Sequence)
	binary.LittleEndian.PutUint64(buf[8:16], h.Timestamp)
}

// ParseHeader decodes the first HeaderSize bytes of buf. The caller must have
// validated the packet first.
func ParseHeader(buf []byte) Header {
	return Header{
		Sender:    buf[0],
		Channels:  buf[1],
		RateKHz:   buf[2],
		Encoder:   buf[3],
		Sequence:  binary.LittleEndian.Uint32(buf[4:8]),
		Timestamp: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// Validate reports whether pkt is a well-formed voice datagram. It checks the
// minimum length, channel count, sample rate, encoder format and payload
// bound. Rejection carries no diagnostics: bad packets are dropped.
func Validate(pkt []byte) bool {
	if len(pkt) < HeaderSize {
		return false
	}
	if pkt[1] != 1 && pkt[1] != 2 {
		return false
	}
	if RateFromKHz(pkt[2]) == 0 {
		return false
	}
	if pkt[3] != EncoderPCM && pkt[3] != EncoderOpus {
		return false
	}
	return len(pkt)-HeaderSize <= MaxDatagram-HeaderSize
}

// RateFromKHz maps the header's kHz byte to a sample rate in Hz.
// Returns 0 for values outside the supported set.
func RateFromKHz(khz uint8) int {
	switch khz {
	case 8, 16, 24, 48:
		return int(khz) * 1000
	default:
		return 0
	}
}

// KHzFromRate maps a sample rate in Hz to the header's kHz byte.
// Returns 0 for unsupported rates.
func KHzFromRate(rate int) uint8 {
	switch rate {
	case 8000, 16000, 24000, 48000:
		return uint8(rate / 1000)
	default:
		return 0
	}
}

// Port derives the UDP listen port for a receiver token.
func Port(token uint8) uint16 {
	return 0xCC00 | uint16(token)
}
