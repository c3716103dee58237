// Package netcodec turns PCM periods into voice datagrams and back.
//
// The encoder wraps each outgoing period in one datagram: Opus payload
// behind the 16-byte header, stamped with a monotonic sequence and a
// microsecond timestamp. The decoder validates nothing itself (the caller
// runs protocol.Validate), decodes, resamples to the stream rate when the
// decode rate differs, and keeps per-sender quality statistics.
package netcodec

import (
	"log"
	"time"

	"gopkg.in/hraban/opus.v2"

	"patchbay/internal/protocol"
)

// epoch anchors all packet timestamps: microseconds since process start.
var epoch = time.Now()

// nowMicros returns the current process-relative time in microseconds.
func nowMicros() uint64 {
	return uint64(time.Since(epoch).Microseconds())
}

// Encoder produces one datagram per PCM period for a single sender.
type Encoder struct {
	head         protocol.Header
	enc          *opus.Encoder
	periodFrames int
	buf          []byte
	now          func() uint64
}

// NewEncoder creates an encoder for the sender token producing periodFrames
// frames of interleaved PCM per period at the given rate and channel count.
func NewEncoder(sender uint8, channels, rate, periodFrames int) (*Encoder, error) {
	enc, err := opus.NewEncoder(rate, channels, opus.AppAudio)
	if err != nil {
		return nil, err
	}
	return &Encoder{
		head: protocol.Header{
			Sender:   sender,
			Channels: uint8(channels),
			RateKHz:  protocol.KHzFromRate(rate),
			Encoder:  protocol.EncoderOpus,
		},
		enc:          enc,
		periodFrames: periodFrames,
		buf:          make([]byte, protocol.HeaderSize+channels*2*periodFrames),
		now:          nowMicros,
	}, nil
}

// Prepare encodes one period of interleaved PCM and returns the finished
// datagram, or nil when the codec rejects the frame (that period is simply
// not sent). The returned slice aliases internal scratch and is only valid
// until the next call.
func (e *Encoder) Prepare(pcm []int16) []byte {
	n, err := e.enc.Encode(pcm, e.buf[protocol.HeaderSize:])
	if err != nil || n <= 0 {
		if err != nil {
			log.Printf("[netcodec] encode: %v", err)
		}
		return nil
	}
	e.head.Sequence++
	e.head.Timestamp = e.now()
	e.head.Marshal(e.buf)
	return e.buf[:protocol.HeaderSize+n]
}

// Sequence returns the sequence number of the most recent datagram.
func (e *Encoder) Sequence() uint32 {
	return e.head.Sequence
}
