package patchbay

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"patchbay/internal/device"
	"patchbay/internal/mixer"
	"patchbay/internal/netcodec"
	"patchbay/internal/protocol"
	"patchbay/internal/resample"
	"patchbay/internal/session"
	"patchbay/internal/sched"
)

// Session ring depths: network senders ride jitter, local pushes are paced
// by another audio clock and need less slack.
const (
	netSessionDepth = 6
	locSessionDepth = 3
)

// oaSession is one sender's receive state at an output stream: the PCM ring,
// the decoder (network senders) or rate converter (local senders), and a
// per-sender drain buffer for the mix tick.
type oaSession struct {
	ring *session.Ring
	dec  *netcodec.Decoder
	rs   *resample.Linear
	load []int16
}

// OAStream owns one playback sink and mixes every connected sender into it
// at the sink's clock. With networking enabled it also listens for voice
// datagrams on the token-derived UDP port.
type OAStream struct {
	token     uint8
	fs        int // negotiated device rate
	ps        int // frames per period at fs
	periodMs  int
	channels  int
	maxChan   int
	enableNet bool

	dev device.Playback
	run *sched.Runner

	mu          sync.Mutex
	netSessions map[uint8]*oaSession
	locSessions map[uint8]*oaSession

	conn   *net.UDPConn
	recvWG sync.WaitGroup

	delvMu sync.Mutex
	delvCb func(pcm []int16, frames int)

	timer  *sched.Timer
	ready  atomic.Bool
	closed atomic.Bool
}

// NewOAStream creates an output stream on the named sink device. rate may be
// 0 to let the device decide; periodMs must be one of 5, 10, 20, 40. The
// stream is created stopped.
func NewOAStream(token uint8, name string, rate, periodMs int, enableNet bool) (*OAStream, error) {
	if rate != 0 && !validRate(rate) {
		return nil, fmt.Errorf("patchbay: unsupported sample rate %d", rate)
	}
	if !validPeriod(periodMs) {
		return nil, fmt.Errorf("patchbay: unsupported period %dms", periodMs)
	}
	run, err := currentRunner()
	if err != nil {
		return nil, err
	}

	o := &OAStream{
		token:       token,
		periodMs:    periodMs,
		enableNet:   enableNet,
		run:         run,
		netSessions: make(map[uint8]*oaSession),
		locSessions: make(map[uint8]*oaSession),
	}
	o.dev = device.NewPlayback(name, o.renderPeriod)

	cfg := device.Config{Name: name, Rate: rate, PeriodMs: periodMs}
	if err := o.dev.Open(&cfg); err != nil {
		return nil, fmt.Errorf("patchbay: open %q: %w", name, err)
	}
	o.fs = cfg.Rate
	o.ps = cfg.PeriodFrames
	o.channels = cfg.Channels
	o.maxChan = cfg.MaxChannels
	return o, nil
}

// newOAStreamWithDevice wires a caller-supplied playback device; used by
// tests to run the mix path without hardware.
func newOAStreamWithDevice(token uint8, dev device.Playback, cfg device.Config, enableNet bool) (*OAStream, error) {
	run, err := currentRunner()
	if err != nil {
		return nil, err
	}
	o := &OAStream{
		token:       token,
		periodMs:    cfg.PeriodMs,
		enableNet:   enableNet,
		run:         run,
		dev:         dev,
		netSessions: make(map[uint8]*oaSession),
		locSessions: make(map[uint8]*oaSession),
		fs:          cfg.Rate,
		ps:          cfg.PeriodFrames,
		channels:    cfg.Channels,
		maxChan:     cfg.MaxChannels,
	}
	return o, nil
}

// Token returns the stream's endpoint token.
func (o *OAStream) Token() uint8 { return o.token }

// Rate returns the negotiated device sample rate.
func (o *OAStream) Rate() int { return o.fs }

// PeriodFrames returns the frames mixed per playback tick.
func (o *OAStream) PeriodFrames() int { return o.ps }

// Channels returns the sink channel count.
func (o *OAStream) Channels() int { return o.channels }

// Start opens the sink for playback and, with networking enabled, binds the
// UDP listener on port 0xCC00|token. Idempotent while running.
func (o *OAStream) Start() error {
	if o.closed.Load() {
		return fmt.Errorf("patchbay: output stream %d is closed", o.token)
	}
	if o.ready.Load() {
		return nil
	}
	if err := o.dev.Start(); err != nil {
		return fmt.Errorf("patchbay: start output device: %w", err)
	}
	o.ready.Store(true)

	if o.enableNet {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(protocol.Port(o.token))})
		if err != nil {
			o.ready.Store(false)
			o.dev.Stop()
			return fmt.Errorf("patchbay: bind port %d: %w", protocol.Port(o.token), err)
		}
		o.conn = conn
		o.recvWG.Add(1)
		go o.receiveLoop(conn)
	}

	if o.dev.Clocked() {
		period := time.Duration(o.periodMs) * time.Millisecond
		o.timer = o.run.Every(period-clockSkew, func() bool {
			if !o.ready.Load() {
				return false
			}
			return o.dev.Tick(period)
		})
	}

	log.Printf("[oastream] %d started", o.token)
	return nil
}

// Stop halts playback and the UDP listener. Idempotent; the stream can be
// started again afterwards.
func (o *OAStream) Stop() {
	if !o.ready.CompareAndSwap(true, false) {
		return
	}
	if o.timer != nil {
		o.timer.Cancel()
		o.timer = nil
	}
	o.dev.Stop()
	if o.conn != nil {
		o.conn.Close()
		o.recvWG.Wait()
		o.conn = nil
	}
	log.Printf("[oastream] %d stopped", o.token)
}

// Close stops the stream for good. Input streams still holding a reference
// observe the closed state and prune it on their next capture tick.
func (o *OAStream) Close() {
	o.Stop()
	o.closed.Store(true)
}

// Closed reports whether Close has been called.
func (o *OAStream) Closed() bool {
	return o.closed.Load()
}

// DirectPushPCM injects one period of PCM from an in-process sender. The
// first push from a token allocates its session ring and rate converter;
// later pushes must keep the same channel count.
func (o *OAStream) DirectPushPCM(sender uint8, channels, frames, rate int, pcm []int16) {
	if !o.ready.Load() || channels <= 0 {
		return
	}
	o.mu.Lock()
	s := o.locSessions[sender]
	if s == nil {
		s = &oaSession{
			ring: session.New(o.ps*channels, locSessionDepth, channels),
			rs:   resample.NewLinear(rate, o.fs, channels),
			load: make([]int16, o.ps*channels),
		}
		o.locSessions[sender] = s
		log.Printf("[oastream] %d: local sender %d", o.token, sender)
	}
	o.mu.Unlock()

	out, outFrames := s.rs.Commit(pcm, frames)
	s.ring.Store(out[:outFrames*channels])
}

// SetDeliveryCallback installs a tap invoked with the mixed buffer after
// every playback tick. Pass nil to remove it.
func (o *OAStream) SetDeliveryCallback(fn func(pcm []int16, frames int)) {
	o.delvMu.Lock()
	o.delvCb = fn
	o.delvMu.Unlock()
}

// SenderStats returns the published link statistics of every network sender.
func (o *OAStream) SenderStats() []netcodec.Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]netcodec.Stats, 0, len(o.netSessions))
	for _, s := range o.netSessions {
		out = append(out, s.dec.Stats())
	}
	return out
}

// renderPeriod produces one sink period: silence, plus every session's next
// block mixed in, then the delivery tap. Runs on the device goroutine (or a
// worker for clocked devices) and never blocks.
func (o *OAStream) renderPeriod(out []int16, frames int) {
	for i := range out {
		out[i] = 0
	}
	if !o.ready.Load() {
		return
	}

	o.mu.Lock()
	for _, s := range o.netSessions {
		n := frames * s.ring.Channels()
		s.ring.Load(s.load[:n])
		mixer.Mix(s.load, out, frames, s.ring.Channels(), o.channels)
	}
	for _, s := range o.locSessions {
		n := frames * s.ring.Channels()
		s.ring.Load(s.load[:n])
		mixer.Mix(s.load, out, frames, s.ring.Channels(), o.channels)
	}
	o.mu.Unlock()

	o.delvMu.Lock()
	cb := o.delvCb
	o.delvMu.Unlock()
	if cb != nil {
		cb(out, frames)
	}
}

// receiveLoop drains the UDP socket until Stop closes it. Malformed packets
// and codec failures are dropped without logging; the first valid packet
// from a sender admits a session and decoder.
func (o *OAStream) receiveLoop(conn *net.UDPConn) {
	defer o.recvWG.Done()
	buf := make([]byte, protocol.MaxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if !o.ready.Load() {
			continue
		}
		pkt := buf[:n]
		if !protocol.Validate(pkt) {
			continue
		}
		sender := pkt[0]
		ch := int(pkt[1])

		o.mu.Lock()
		s := o.netSessions[sender]
		if s == nil {
			dec, err := netcodec.NewDecoder(sender, ch, o.fs)
			if err != nil {
				o.mu.Unlock()
				continue
			}
			s = &oaSession{
				ring: session.New(o.ps*ch, netSessionDepth, ch),
				dec:  dec,
				load: make([]int16, o.ps*ch),
			}
			o.netSessions[sender] = s
			log.Printf("[oastream] %d: new sender %d", o.token, sender)
		}
		o.mu.Unlock()

		if s.dec.Channels() != ch {
			continue
		}
		if pcm, frames, ok := s.dec.Commit(pkt); ok {
			s.ring.Store(pcm[:frames*ch])
		}
	}
}
