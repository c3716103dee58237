package device

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// resolveInput finds an input device: the host default for "default_input",
// otherwise the first device whose name contains the pattern.
func resolveInput(name string) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default_input" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(d.Name, name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device matches %q", name)
}

// resolveOutput is resolveInput for playback devices.
func resolveOutput(name string) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default_output" {
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.MaxOutputChannels > 0 && strings.Contains(d.Name, name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no output device matches %q", name)
}

// physCapture reads from a hardware capture device on a dedicated goroutine.
type physCapture struct {
	deliver DeliverFunc

	stream  *portaudio.Stream
	buf     []int16
	frames  int
	running atomic.Bool
	wg      sync.WaitGroup
}

func newPhysCapture(deliver DeliverFunc) *physCapture {
	return &physCapture{deliver: deliver}
}

// Open negotiates with the hardware. The requested rate is tried first; if
// the backend refuses it the device's native rate wins and the caller sees
// the rewritten Config, configuring a resampler on its side.
func (p *physCapture) Open(cfg *Config) error {
	dev, err := resolveInput(cfg.Name)
	if err != nil {
		return err
	}

	channels := 2
	if dev.MaxInputChannels < 2 {
		channels = 1
	}
	cfg.Channels = channels
	cfg.MaxChannels = dev.MaxInputChannels

	rate := cfg.Rate
	stream, buf, err := openCapture(dev, rate, cfg.PeriodMs, channels)
	if err != nil {
		native := int(dev.DefaultSampleRate)
		if native == rate {
			return err
		}
		stream, buf, err = openCapture(dev, native, cfg.PeriodMs, channels)
		if err != nil {
			return err
		}
		rate = native
	}

	cfg.Rate = rate
	cfg.PeriodFrames = rate * cfg.PeriodMs / 1000
	p.stream = stream
	p.buf = buf
	p.frames = cfg.PeriodFrames
	return nil
}

func openCapture(dev *portaudio.DeviceInfo, rate, periodMs, channels int) (*portaudio.Stream, []int16, error) {
	frames := rate * periodMs / 1000
	buf := make([]int16, frames*channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, nil, err
	}
	return stream, buf, nil
}

func (p *physCapture) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.stream.Start(); err != nil {
		p.running.Store(false)
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for p.running.Load() {
			if err := p.stream.Read(); err != nil {
				if p.running.Load() {
					log.Printf("[device] capture read: %v", err)
				}
				return
			}
			p.deliver(p.buf, p.frames)
		}
	}()
	return nil
}

// Stop halts the stream first so a blocked Read returns, waits for the
// goroutine, then frees the native stream. Closing before the goroutine
// exits would free memory the callback may still touch.
func (p *physCapture) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	p.stream.Stop()
	p.wg.Wait()
	return p.stream.Close()
}

func (p *physCapture) Clocked() bool           { return false }
func (p *physCapture) Tick(time.Duration) bool { return false }

// physPlayback writes to a hardware playback device on a dedicated
// goroutine, pulling each period through fill.
type physPlayback struct {
	fill FillFunc

	stream  *portaudio.Stream
	buf     []int16
	frames  int
	running atomic.Bool
	wg      sync.WaitGroup
}

func newPhysPlayback(fill FillFunc) *physPlayback {
	return &physPlayback{fill: fill}
}

// Open negotiates with the hardware. For playback the native rate is
// authoritative when the requested one is refused or unset.
func (p *physPlayback) Open(cfg *Config) error {
	dev, err := resolveOutput(cfg.Name)
	if err != nil {
		return err
	}

	channels := 2
	if dev.MaxOutputChannels < 2 {
		channels = 1
	}
	cfg.Channels = channels
	cfg.MaxChannels = dev.MaxOutputChannels

	rate := cfg.Rate
	if rate == 0 {
		rate = int(dev.DefaultSampleRate)
	}
	stream, buf, err := openPlayback(dev, rate, cfg.PeriodMs, channels)
	if err != nil {
		native := int(dev.DefaultSampleRate)
		if native == rate {
			return err
		}
		stream, buf, err = openPlayback(dev, native, cfg.PeriodMs, channels)
		if err != nil {
			return err
		}
		rate = native
	}

	cfg.Rate = rate
	cfg.PeriodFrames = rate * cfg.PeriodMs / 1000
	p.stream = stream
	p.buf = buf
	p.frames = cfg.PeriodFrames
	return nil
}

func openPlayback(dev *portaudio.DeviceInfo, rate, periodMs, channels int) (*portaudio.Stream, []int16, error) {
	frames := rate * periodMs / 1000
	buf := make([]int16, frames*channels)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, nil, err
	}
	return stream, buf, nil
}

func (p *physPlayback) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.stream.Start(); err != nil {
		p.running.Store(false)
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for p.running.Load() {
			p.fill(p.buf, p.frames)
			if err := p.stream.Write(); err != nil {
				if p.running.Load() {
					log.Printf("[device] playback write: %v", err)
				}
				return
			}
		}
	}()
	return nil
}

func (p *physPlayback) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	p.stream.Stop()
	p.wg.Wait()
	return p.stream.Close()
}

func (p *physPlayback) Clocked() bool           { return false }
func (p *physPlayback) Tick(time.Duration) bool { return false }
