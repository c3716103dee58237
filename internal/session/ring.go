// Package session implements the per-sender receive ring held by an output
// stream.
//
// One Ring buffers decoded PCM from a single remote or local sender until the
// output clock drains it. Producer (network receive or direct push) and
// consumer (playback tick) run on different goroutines; both are periodic
// audio paths that must never block, so mutual exclusion is a brief spin on
// one atomic flag around the copy.
package session

import "sync/atomic"

// Ring is a single-producer/single-consumer PCM sample queue with a soft
// capacity limit. A write arriving while the fill already exceeds the limit
// is dropped whole; reads that find less than requested emit silence.
type Ring struct {
	flag atomic.Bool

	buf  []int16
	head int // read position
	fill int // samples currently queued

	max      int // soft capacity limit in samples
	channels int
}

// New creates a Ring for a sender producing periodSamples samples per period
// (frames times channels). The soft limit is 2*periodSamples*depth; the
// backing array holds twice that so a full-period write at the limit still
// has room before being judged.
func New(periodSamples, depth, channels int) *Ring {
	max := 2 * periodSamples * depth
	return &Ring{
		buf:      make([]int16, 2*max),
		max:      max,
		channels: channels,
	}
}

// Channels returns the channel count fixed at creation.
func (r *Ring) Channels() int {
	return r.channels
}

func (r *Ring) lock() {
	for !r.flag.CompareAndSwap(false, true) {
	}
}

func (r *Ring) unlock() {
	r.flag.Store(false)
}

// Store appends pcm to the queue. If the current fill already exceeds the
// soft limit the write is discarded: newer data is worth less than keeping
// the playback schedule, and overwriting queued audio would glitch worse
// than a clean drop.
func (r *Ring) Store(pcm []int16) {
	r.lock()
	if r.fill <= r.max && len(pcm) <= len(r.buf)-r.fill {
		w := (r.head + r.fill) % len(r.buf)
		n := copy(r.buf[w:], pcm)
		copy(r.buf, pcm[n:])
		r.fill += len(pcm)
	}
	r.unlock()
}

// Load fills dst from the queue. dst is zeroed first; if the fill is short of
// len(dst) nothing is read and the caller plays silence. When the fill is
// above the soft limit after reading, half of it is discarded as coarse
// back-pressure against a consumer running slower than its producer.
func (r *Ring) Load(dst []int16) {
	for i := range dst {
		dst[i] = 0
	}
	r.lock()
	if r.fill >= len(dst) {
		n := copy(dst, r.buf[r.head:])
		copy(dst[n:], r.buf)
		r.head = (r.head + len(dst)) % len(r.buf)
		r.fill -= len(dst)
	}
	if r.fill > r.max {
		drop := r.fill / 2
		r.head = (r.head + drop) % len(r.buf)
		r.fill -= drop
	}
	r.unlock()
}

// Fill returns the number of samples currently queued.
func (r *Ring) Fill() int {
	r.lock()
	n := r.fill
	r.unlock()
	return n
}
