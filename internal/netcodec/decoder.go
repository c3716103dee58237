package netcodec

import (
	"encoding/binary"
	"math"
	"sync"

	"gopkg.in/hraban/opus.v2"

	"patchbay/internal/protocol"
	"patchbay/internal/resample"
)

// maxDecodeFrames is the largest frame count a single Opus packet can carry:
// 120 ms at 48 kHz.
const maxDecodeFrames = 5760

// statsWindow is the sequence interval between published snapshots.
const statsWindow = 200

// Stats is a published snapshot of a sender's link quality. Intervals and
// jitter are in microseconds, LostRate in percent.
type Stats struct {
	Token        uint8
	LostRate     float64
	Jitter       float64
	RecvInterval float64
	SendInterval float64
}

// Decoder decodes one sender's datagrams back to PCM at the owning stream's
// rate and measures loss and jitter along the way.
//
// Opus only decodes at 8, 12, 16, 24 or 48 kHz, so the decoder opens at the
// nearest supported rate at or above the stream rate and resamples down
// through a windowed-sinc stage when the two differ.
type Decoder struct {
	token    uint8
	channels int
	dec      *opus.Decoder
	fsi, fso int

	decBuf []int16
	rscBuf []int16
	fin    []float64
	fout   []float64
	sinc   []*resample.Sinc

	seqLast  uint32
	lost     uint32
	rnowLast uint64
	snowLast uint64

	jitter     float64
	recvInterv float64
	sendInterv float64

	mu        sync.Mutex
	published Stats

	now func() uint64
}

// NewDecoder creates a decoder for datagrams from the sender token, carrying
// the given channel count, feeding a stream running at rate Hz.
func NewDecoder(token uint8, channels, rate int) (*Decoder, error) {
	fsi := (rate + 7999) / 8000 * 8000
	dec, err := opus.NewDecoder(fsi, channels)
	if err != nil {
		return nil, err
	}
	d := &Decoder{
		token:     token,
		channels:  channels,
		dec:       dec,
		fsi:       fsi,
		fso:       rate,
		decBuf:    make([]int16, maxDecodeFrames*channels),
		published: Stats{Token: token},
		now:       nowMicros,
	}
	if fsi != rate {
		d.rscBuf = make([]int16, maxDecodeFrames*channels)
		d.fin = make([]float64, maxDecodeFrames*channels)
		d.fout = make([]float64, maxDecodeFrames*channels)
		d.sinc = make([]*resample.Sinc, channels)
		ratio := float64(rate) / float64(fsi)
		for c := range d.sinc {
			d.sinc[c] = resample.NewSinc(8, 128, min(1, ratio), ratio)
		}
	}
	return d, nil
}

// Commit decodes one validated datagram. It returns the PCM at the stream
// rate and the frame count, or ok=false when the payload cannot be decoded
// (that packet is dropped; statistics stay untouched). The returned slice is
// valid until the next call.
func (d *Decoder) Commit(pkt []byte) (pcm []int16, frames int, ok bool) {
	head := protocol.ParseHeader(pkt)
	body := pkt[protocol.HeaderSize:]

	switch head.Encoder {
	case protocol.EncoderOpus:
		n, err := d.dec.Decode(body, d.decBuf)
		if err != nil || n <= 0 {
			return nil, 0, false
		}
		frames = n
	case protocol.EncoderPCM:
		frames = len(body) / 2 / d.channels
		if frames == 0 || frames > maxDecodeFrames {
			return nil, 0, false
		}
		for i := 0; i < frames*d.channels; i++ {
			d.decBuf[i] = int16(binary.LittleEndian.Uint16(body[2*i:]))
		}
	default:
		return nil, 0, false
	}

	d.observe(head.Sequence, head.Timestamp, d.now())

	if d.fsi == d.fso {
		return d.decBuf[:frames*d.channels], frames, true
	}

	outFrames := frames * d.fso / d.fsi
	for i := 0; i < frames*d.channels; i++ {
		d.fin[i] = float64(d.decBuf[i])
	}
	for c, s := range d.sinc {
		s.Process(d.fin[c:], frames, d.fout[c:], outFrames, d.channels)
	}
	for i := 0; i < outFrames*d.channels; i++ {
		v := d.fout[i]
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		d.rscBuf[i] = int16(v)
	}
	return d.rscBuf[:outFrames*d.channels], outFrames, true
}

// observe folds one packet's sequence and timing into the running
// statistics. The first packet only establishes the baseline. Non-monotonic
// clocks contribute a zero interval rather than a negative one.
func (d *Decoder) observe(seq uint32, snow, rnow uint64) {
	if d.seqLast != 0 {
		rinterv := 0.0
		if rnow > d.rnowLast {
			rinterv = float64(rnow - d.rnowLast)
		}
		sinterv := 0.0
		if snow > d.snowLast {
			sinterv = float64(snow - d.snowLast)
		}
		d.recvInterv += (rinterv - d.recvInterv) / 16
		d.sendInterv += (sinterv - d.sendInterv) / 16
		d.jitter += (math.Abs(rinterv-sinterv) - d.jitter) / 16
		if d.seqLast+1 != seq {
			d.lost++
		}
	}

	if d.seqLast != 0 && d.seqLast%statsWindow == 0 {
		d.mu.Lock()
		d.published.LostRate = 100 * float64(d.lost) / float64(d.seqLast)
		d.published.SendInterval = d.sendInterv
		d.published.RecvInterval = d.recvInterv
		d.published.Jitter = d.jitter
		d.mu.Unlock()
	}

	d.snowLast = snow
	d.rnowLast = rnow
	d.seqLast = seq
}

// Stats returns the most recently published snapshot.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.published
}

// Channels returns the channel count fixed at creation.
func (d *Decoder) Channels() int {
	return d.channels
}
