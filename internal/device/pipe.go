package device

import (
	"sync/atomic"
	"time"
)

// PipeCapture is a virtual capture device sourcing its PCM from another
// output stream's delivery tap. It has no clock: the feeding stream's
// playback tick drives it, so frames arrive already paced at the source's
// period.
type PipeCapture struct {
	deliver DeliverFunc

	rate     int
	frames   int
	channels int
	running  atomic.Bool
}

// NewPipeCapture creates a pipe matching the source stream's parameters.
func NewPipeCapture(rate, periodFrames, channels int, deliver DeliverFunc) *PipeCapture {
	return &PipeCapture{
		deliver:  deliver,
		rate:     rate,
		frames:   periodFrames,
		channels: channels,
	}
}

func (p *PipeCapture) Open(cfg *Config) error {
	cfg.Rate = p.rate
	cfg.PeriodFrames = p.frames
	cfg.Channels = p.channels
	cfg.MaxChannels = p.channels
	return nil
}

func (p *PipeCapture) Start() error {
	p.running.Store(true)
	return nil
}

func (p *PipeCapture) Stop() error {
	p.running.Store(false)
	return nil
}

func (p *PipeCapture) Clocked() bool           { return false }
func (p *PipeCapture) Tick(time.Duration) bool { return false }

// Feed pushes one period from the source stream. Installed as the source's
// delivery callback; drops silently while the pipe is stopped.
func (p *PipeCapture) Feed(pcm []int16, frames int) {
	if p.running.Load() {
		p.deliver(pcm, frames)
	}
}
