// Package observe feeds the debug tool: it subscribes to the same UDP voice
// stream an output stream would, decodes it, and derives per-sender
// visualization data — recent waveform, RMS energy, STFT magnitude and real
// cepstrum. Only the data side lives here; rendering is someone else's
// problem.
package observe

import (
	"log"
	"math"
	"math/cmplx"
	"net"
	"sort"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"patchbay/internal/netcodec"
	"patchbay/internal/protocol"
	"patchbay/internal/session"
)

// WindowSize is the analysis window: 4096 mono samples (~85 ms at 48 kHz).
const WindowSize = 4096

// windowDepth sizes the per-sender sample ring feeding the window.
const windowDepth = 4

// Snapshot is one sender's current analysis state.
type Snapshot struct {
	Token    uint8
	Energy   float64   // RMS of the window, normalized to [0,1]
	Waveform []int16   // the WindowSize mono samples drained from the front of the queue
	Spectrum []float64 // STFT magnitude, WindowSize/2+1 bins
	Cepstrum []float64 // real cepstrum, WindowSize points
	Stats    netcodec.Stats
}

// feed is one sender's receive state.
type feed struct {
	dec  *netcodec.Decoder
	ring *session.Ring
	ch   int
}

// Observer binds the UDP port of a receiver token and accumulates analysis
// windows per sender.
type Observer struct {
	rate int

	conn *net.UDPConn
	wg   sync.WaitGroup

	mu    sync.Mutex
	feeds map[uint8]*feed

	fft  *fourier.FFT
	hann []float64
}

// New creates an Observer decoding at the given stream rate.
func New(rate int) *Observer {
	return &Observer{
		rate:  rate,
		feeds: make(map[uint8]*feed),
		fft:   fourier.NewFFT(WindowSize),
		hann:  window.Hann(ones(WindowSize)),
	}
}

func ones(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

// Listen binds the observer to the receiver token's UDP port and starts
// decoding.
func (o *Observer) Listen(token uint8) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(protocol.Port(token))})
	if err != nil {
		return err
	}
	o.conn = conn
	o.wg.Add(1)
	go o.receiveLoop(conn)
	return nil
}

// Close stops the receive loop and releases the socket.
func (o *Observer) Close() {
	if o.conn != nil {
		o.conn.Close()
		o.wg.Wait()
		o.conn = nil
	}
}

func (o *Observer) receiveLoop(conn *net.UDPConn) {
	defer o.wg.Done()
	buf := make([]byte, protocol.MaxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt := buf[:n]
		if !protocol.Validate(pkt) {
			continue
		}
		sender := pkt[0]
		ch := int(pkt[1])

		o.mu.Lock()
		f := o.feeds[sender]
		if f == nil {
			dec, err := netcodec.NewDecoder(sender, ch, o.rate)
			if err != nil {
				o.mu.Unlock()
				continue
			}
			f = &feed{
				dec:  dec,
				ring: session.New(WindowSize*ch, windowDepth, ch),
				ch:   ch,
			}
			o.feeds[sender] = f
			log.Printf("[observe] new sender %d", sender)
		}
		o.mu.Unlock()

		if pcm, frames, ok := f.dec.Commit(pkt); ok {
			f.ring.Store(pcm[:frames*ch])
		}
	}
}

// Senders returns the tokens seen so far, ascending.
func (o *Observer) Senders() []uint8 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]uint8, 0, len(o.feeds))
	for t := range o.feeds {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot drains one analysis window for the sender and computes all feeds
// from it. When less than a full window is queued nothing is drained and the
// feeds are computed from silence. Returns ok=false for unknown senders.
func (o *Observer) Snapshot(token uint8) (Snapshot, bool) {
	o.mu.Lock()
	f := o.feeds[token]
	o.mu.Unlock()
	if f == nil {
		return Snapshot{}, false
	}

	block := make([]int16, WindowSize*f.ch)
	f.ring.Load(block)

	// Fold to mono for analysis.
	wave := make([]int16, WindowSize)
	if f.ch == 1 {
		copy(wave, block)
	} else {
		for i := 0; i < WindowSize; i++ {
			wave[i] = int16((int32(block[2*i]) + int32(block[2*i+1])) / 2)
		}
	}

	return Snapshot{
		Token:    token,
		Energy:   rms(wave),
		Waveform: wave,
		Spectrum: o.spectrum(wave),
		Cepstrum: o.cepstrum(wave),
		Stats:    f.dec.Stats(),
	}, true
}

func rms(wave []int16) float64 {
	var sum float64
	for _, s := range wave {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(wave)))
}

// spectrum returns the Hann-windowed STFT magnitude of one window.
func (o *Observer) spectrum(wave []int16) []float64 {
	seq := make([]float64, WindowSize)
	for i, s := range wave {
		seq[i] = float64(s) / 32768 * o.hann[i]
	}
	coeff := o.fft.Coefficients(nil, seq)
	mag := make([]float64, len(coeff))
	for i, c := range coeff {
		mag[i] = cmplx.Abs(c)
	}
	return mag
}

// cepstrum returns the real cepstrum: the inverse transform of the
// log-magnitude spectrum. Peaks betray the pitch period of voiced audio.
func (o *Observer) cepstrum(wave []int16) []float64 {
	seq := make([]float64, WindowSize)
	for i, s := range wave {
		seq[i] = float64(s) / 32768
	}
	coeff := o.fft.Coefficients(nil, seq)
	logmag := make([]complex128, len(coeff))
	for i, c := range coeff {
		m := cmplx.Abs(c)
		if m < 1e-12 {
			m = 1e-12
		}
		logmag[i] = complex(math.Log(m), 0)
	}
	ceps := o.fft.Sequence(nil, logmag)
	for i := range ceps {
		ceps[i] /= float64(WindowSize)
	}
	return ceps
}
