package patchbay

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"patchbay/internal/device"
	"patchbay/internal/gate"
	"patchbay/internal/netcodec"
	"patchbay/internal/protocol"
	"patchbay/internal/resample"
	"patchbay/internal/session"
	"patchbay/internal/sched"
)

// rawRingDepth sizes the raw-frame ring backing the user tap.
const rawRingDepth = 2

// resetInterval is how often a long-running physical capture device is torn
// down and reopened, working around capture drift in some drivers.
const resetInterval = 30 * time.Minute

// IAStream owns one capture source and fans each period out to its
// destinations: local output streams by direct push, remote ones as Opus
// datagrams over UDP.
type IAStream struct {
	token    uint8
	fs       int // stream rate
	ps       int // frames per period at fs
	periodMs int
	channels int
	maxChan  int

	deviceRate int

	enableNet   bool
	enableReset bool

	dev     device.Capture
	run     *sched.Runner
	enc     *netcodec.Encoder
	sampler *resample.Linear // device rate -> stream rate, nil when equal
	det     *gate.Detector

	rawRing  *session.Ring
	rawArmed atomic.Bool

	destMu   sync.Mutex
	locDests []*OAStream
	netDests []*net.UDPAddr

	conn *net.UDPConn

	timer      *sched.Timer
	resetTimer *sched.Timer
	cbTimer    *sched.Timer

	cbMu      sync.Mutex
	usrCb     func(pcm []int16, channels, frames int)
	usrFrames int
	cbBuf     []int16

	muted  atomic.Bool
	ready  atomic.Bool
	closed atomic.Bool

	destroyOnce sync.Once
	destroyCb   func()
}

// NewIAStream creates an input stream on the named source device at the
// given stream rate and period. enableNet prepares the Opus encoder and UDP
// send socket; enableReset arms the periodic device reopen for physical
// sources.
func NewIAStream(token uint8, name string, rate, periodMs int, enableNet, enableReset bool) (*IAStream, error) {
	if !validRate(rate) {
		return nil, fmt.Errorf("patchbay: unsupported sample rate %d", rate)
	}
	if !validPeriod(periodMs) {
		return nil, fmt.Errorf("patchbay: unsupported period %dms", periodMs)
	}
	run, err := currentRunner()
	if err != nil {
		return nil, err
	}

	s := &IAStream{
		token:       token,
		fs:          rate,
		ps:          rate * periodMs / 1000,
		periodMs:    periodMs,
		enableNet:   enableNet,
		enableReset: enableReset,
		run:         run,
		det:         gate.New(),
	}
	s.dev = device.NewCapture(name, s.onFrames)

	cfg := device.Config{Name: name, Rate: rate, PeriodMs: periodMs}
	if err := s.dev.Open(&cfg); err != nil {
		return nil, fmt.Errorf("patchbay: open %q: %w", name, err)
	}
	return s, s.finish(cfg)
}

// NewPipeIAStream creates an input stream fed by src's delivery tap instead
// of a device clock. The pipe inherits the source's rate, period and channel
// count.
func NewPipeIAStream(token uint8, src *OAStream, enableNet bool) (*IAStream, error) {
	run, err := currentRunner()
	if err != nil {
		return nil, err
	}

	s := &IAStream{
		token:     token,
		fs:        src.Rate(),
		ps:        src.PeriodFrames(),
		periodMs:  src.periodMs,
		enableNet: enableNet,
		run:       run,
		det:       gate.New(),
	}
	pipe := device.NewPipeCapture(src.Rate(), src.PeriodFrames(), src.Channels(), s.onFrames)
	s.dev = pipe
	src.SetDeliveryCallback(pipe.Feed)

	cfg := device.Config{Rate: src.Rate(), PeriodMs: s.periodMs}
	if err := s.dev.Open(&cfg); err != nil {
		return nil, err
	}
	return s, s.finish(cfg)
}

// newIAStreamWithDevice wires a caller-supplied capture device; used by
// tests to drive the fan-out path without hardware.
func newIAStreamWithDevice(token uint8, dev device.Capture, cfg device.Config, rate, periodMs int, enableNet bool) (*IAStream, error) {
	run, err := currentRunner()
	if err != nil {
		return nil, err
	}
	s := &IAStream{
		token:     token,
		fs:        rate,
		ps:        rate * periodMs / 1000,
		periodMs:  periodMs,
		enableNet: enableNet,
		run:       run,
		det:       gate.New(),
		dev:       dev,
	}
	return s, s.finish(cfg)
}

// finish completes construction once the device has negotiated cfg.
func (s *IAStream) finish(cfg device.Config) error {
	s.deviceRate = cfg.Rate
	s.channels = cfg.Channels
	s.maxChan = cfg.MaxChannels

	if s.deviceRate != s.fs {
		s.sampler = resample.NewLinear(s.deviceRate, s.fs, s.channels)
	}
	s.rawRing = session.New(s.ps*s.channels, rawRingDepth, s.channels)

	if s.enableNet {
		enc, err := netcodec.NewEncoder(s.token, s.channels, s.fs, s.ps)
		if err != nil {
			return fmt.Errorf("patchbay: opus encoder: %w", err)
		}
		s.enc = enc
	}
	return nil
}

// Token returns the stream's endpoint token.
func (s *IAStream) Token() uint8 { return s.token }

// Rate returns the stream sample rate.
func (s *IAStream) Rate() int { return s.fs }

// Channels returns the capture channel count.
func (s *IAStream) Channels() int { return s.channels }

// Connect adds a local destination. Closed sinks are pruned automatically at
// the next capture tick.
func (s *IAStream) Connect(sink *OAStream) {
	s.destMu.Lock()
	s.locDests = append(s.locDests, sink)
	s.destMu.Unlock()
}

// ConnectRemote resolves host and adds a UDP destination derived from the
// remote receiver's token. Fails when networking is disabled or the address
// does not resolve; no endpoint is added then.
func (s *IAStream) ConnectRemote(host string, token uint8) error {
	if !s.enableNet {
		return fmt.Errorf("patchbay: stream %d has networking disabled", s.token)
	}
	port := strconv.Itoa(int(protocol.Port(token)))
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("patchbay: resolve %s: %w", host, err)
	}
	s.destMu.Lock()
	s.netDests = append(s.netDests, addr)
	s.destMu.Unlock()
	return nil
}

// Mute suppresses all delivery. Capture keeps running so meters and taps
// stay live.
func (s *IAStream) Mute() { s.muted.Store(true) }

// Unmute resumes delivery.
func (s *IAStream) Unmute() { s.muted.Store(false) }

// Muted reports whether the stream is muted.
func (s *IAStream) Muted() bool { return s.muted.Load() }

// SetSilenceThreshold adjusts the transmit gate's energy threshold. Values
// <= 0 restore the default.
func (s *IAStream) SetSilenceThreshold(v float64) {
	s.det.SetThreshold(v)
}

// SetCallback installs a user tap that receives raw stream-rate PCM in
// blocks of periodFrames frames, delivered from a worker at the tap's own
// cadence, decoupled from the capture clock by the raw-frame ring.
func (s *IAStream) SetCallback(fn func(pcm []int16, channels, frames int), periodFrames int) {
	s.cbMu.Lock()
	s.usrCb = fn
	s.usrFrames = periodFrames
	s.cbBuf = make([]int16, periodFrames*s.channels)
	s.cbMu.Unlock()
	s.rawArmed.Store(fn != nil)
	if fn != nil && s.ready.Load() {
		s.armUserTimer()
	}
}

// SetDestroyCallback registers fn to run exactly once when the stream
// unwinds — at file EOF or Close, whichever comes first.
func (s *IAStream) SetDestroyCallback(fn func()) {
	s.destroyCb = fn
}

// Start begins capture. With networking enabled an ephemeral UDP send
// socket is bound first. Idempotent while running.
func (s *IAStream) Start() error {
	if s.closed.Load() {
		return fmt.Errorf("patchbay: input stream %d is closed", s.token)
	}
	if s.ready.Load() {
		return nil
	}

	if s.enableNet {
		conn, err := net.ListenUDP("udp4", nil)
		if err != nil {
			return fmt.Errorf("patchbay: bind send socket: %w", err)
		}
		s.destMu.Lock()
		s.conn = conn
		s.destMu.Unlock()
	}

	if err := s.dev.Start(); err != nil {
		s.destMu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.destMu.Unlock()
		return fmt.Errorf("patchbay: start input device: %w", err)
	}
	s.ready.Store(true)

	if s.dev.Clocked() {
		period := time.Duration(s.periodMs) * time.Millisecond
		s.timer = s.run.Every(period-clockSkew, func() bool {
			if !s.ready.Load() {
				return false
			}
			if !s.dev.Tick(period) {
				// Source exhausted: unwind the whole stream.
				s.Stop()
				s.fireDestroy()
				return false
			}
			return true
		})
	}

	if s.enableReset && !s.dev.Clocked() {
		s.resetTimer = s.run.Every(resetInterval, func() bool {
			if !s.ready.Load() {
				return false
			}
			log.Printf("[iastream] %d: periodic device reset", s.token)
			s.dev.Stop()
			if err := s.dev.Start(); err != nil {
				log.Printf("[iastream] %d: reopen failed: %v", s.token, err)
				return false
			}
			return true
		})
	}

	s.cbMu.Lock()
	armed := s.usrCb != nil
	s.cbMu.Unlock()
	if armed {
		s.armUserTimer()
	}

	log.Printf("[iastream] %d started", s.token)
	return nil
}

// Stop halts capture and sending. Idempotent; the stream can be started
// again afterwards unless it is closed.
func (s *IAStream) Stop() {
	if !s.ready.CompareAndSwap(true, false) {
		return
	}
	for _, t := range []*sched.Timer{s.timer, s.resetTimer, s.cbTimer} {
		if t != nil {
			t.Cancel()
		}
	}
	s.timer, s.resetTimer, s.cbTimer = nil, nil, nil
	s.dev.Stop()
	s.destMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.destMu.Unlock()
	log.Printf("[iastream] %d stopped", s.token)
}

// Close stops the stream for good and fires the destroy callback.
func (s *IAStream) Close() {
	s.Stop()
	s.closed.Store(true)
	s.fireDestroy()
}

func (s *IAStream) fireDestroy() {
	s.destroyOnce.Do(func() {
		if s.destroyCb != nil {
			s.destroyCb()
		}
	})
}

// armUserTimer starts the tap drain at the tap's own period.
func (s *IAStream) armUserTimer() {
	s.cbMu.Lock()
	frames := s.usrFrames
	s.cbMu.Unlock()
	if frames <= 0 {
		return
	}
	interval := time.Duration(frames) * time.Second / time.Duration(s.fs)
	s.cbTimer = s.run.Every(interval, func() bool {
		if !s.ready.Load() {
			return false
		}
		s.cbMu.Lock()
		cb := s.usrCb
		buf := s.cbBuf
		n := s.usrFrames
		s.cbMu.Unlock()
		if cb == nil {
			return false
		}
		s.rawRing.Load(buf[:n*s.channels])
		cb(buf[:n*s.channels], s.channels, n)
		return true
	})
}

// onFrames is the per-period capture entry, invoked from the device
// goroutine (or a worker for clocked devices). It must not block: silence
// gating, optional rate conversion, the raw-ring enqueue and all fan-out are
// bounded work on preallocated buffers.
func (s *IAStream) onFrames(pcm []int16, frames int) {
	if !s.ready.Load() {
		return
	}
	if s.det.Silent(pcm, frames, s.channels) {
		return
	}

	out, outFrames := pcm, frames
	if s.sampler != nil {
		out, outFrames = s.sampler.Commit(pcm, frames)
	}

	if s.rawArmed.Load() {
		s.rawRing.Store(out[:outFrames*s.channels])
	}

	if s.muted.Load() {
		return
	}

	s.destMu.Lock()
	// Prune closed sinks in place, push to the live ones.
	kept := s.locDests[:0]
	for _, d := range s.locDests {
		if d.Closed() {
			continue
		}
		kept = append(kept, d)
		d.DirectPushPCM(s.token, s.channels, outFrames, s.fs, out)
	}
	s.locDests = kept

	if s.enableNet && s.conn != nil && len(s.netDests) > 0 {
		if dg := s.enc.Prepare(out[:outFrames*s.channels]); dg != nil {
			for _, addr := range s.netDests {
				// Fire-and-forget: a full socket buffer drops the
				// datagram, which is the transport contract anyway.
				s.conn.WriteToUDP(dg, addr)
			}
		}
	}
	s.destMu.Unlock()
}
