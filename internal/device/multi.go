package device

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// multiCapture opens the default card with pick channels and exposes two of
// them as a stereo capture. Frames from the hardware are interleaved
// pick-channel blocks; slots l and r index channels within one frame.
type multiCapture struct {
	deliver DeliverFunc
	l, r    int
	pick    int

	stream  *portaudio.Stream
	wide    []int16
	stereo  []int16
	frames  int
	running atomic.Bool
	wg      sync.WaitGroup
}

func newMultiCapture(l, r, pick int, deliver DeliverFunc) *multiCapture {
	return &multiCapture{deliver: deliver, l: l, r: r, pick: pick}
}

func (m *multiCapture) Open(cfg *Config) error {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return err
	}
	if dev.MaxInputChannels < m.pick {
		return fmt.Errorf("multi capture needs %d channels, device has %d", m.pick, dev.MaxInputChannels)
	}
	if m.l >= m.pick || m.r >= m.pick {
		return fmt.Errorf("slot indices %d,%d out of range for %d channels", m.l, m.r, m.pick)
	}

	rate := cfg.Rate
	if rate == 0 {
		rate = int(dev.DefaultSampleRate)
	}
	frames := rate * cfg.PeriodMs / 1000
	m.wide = make([]int16, frames*m.pick)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: m.pick,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, m.wide)
	if err != nil {
		return err
	}

	m.stream = stream
	m.frames = frames
	m.stereo = make([]int16, frames*2)
	cfg.Rate = rate
	cfg.PeriodFrames = frames
	cfg.Channels = 2
	cfg.MaxChannels = m.pick
	return nil
}

func (m *multiCapture) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := m.stream.Start(); err != nil {
		m.running.Store(false)
		return err
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for m.running.Load() {
			if err := m.stream.Read(); err != nil {
				if m.running.Load() {
					log.Printf("[device] multi capture read: %v", err)
				}
				return
			}
			for i := 0; i < m.frames; i++ {
				m.stereo[2*i] = m.wide[i*m.pick+m.l]
				m.stereo[2*i+1] = m.wide[i*m.pick+m.r]
			}
			m.deliver(m.stereo, m.frames)
		}
	}()
	return nil
}

func (m *multiCapture) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	m.stream.Stop()
	m.wg.Wait()
	return m.stream.Close()
}

func (m *multiCapture) Clocked() bool           { return false }
func (m *multiCapture) Tick(time.Duration) bool { return false }

// multiPlayback is the mirror: the stream renders stereo, the device spreads
// it back onto two slots of a pick-channel frame, other slots silent.
type multiPlayback struct {
	fill FillFunc
	l, r int
	pick int

	stream  *portaudio.Stream
	wide    []int16
	stereo  []int16
	frames  int
	running atomic.Bool
	wg      sync.WaitGroup
}

func newMultiPlayback(l, r, pick int, fill FillFunc) *multiPlayback {
	return &multiPlayback{fill: fill, l: l, r: r, pick: pick}
}

func (m *multiPlayback) Open(cfg *Config) error {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return err
	}
	if dev.MaxOutputChannels < m.pick {
		return fmt.Errorf("multi playback needs %d channels, device has %d", m.pick, dev.MaxOutputChannels)
	}
	if m.l >= m.pick || m.r >= m.pick {
		return fmt.Errorf("slot indices %d,%d out of range for %d channels", m.l, m.r, m.pick)
	}

	rate := cfg.Rate
	if rate == 0 {
		rate = int(dev.DefaultSampleRate)
	}
	frames := rate * cfg.PeriodMs / 1000
	m.wide = make([]int16, frames*m.pick)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: m.pick,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, m.wide)
	if err != nil {
		return err
	}

	m.stream = stream
	m.frames = frames
	m.stereo = make([]int16, frames*2)
	cfg.Rate = rate
	cfg.PeriodFrames = frames
	cfg.Channels = 2
	cfg.MaxChannels = m.pick
	return nil
}

func (m *multiPlayback) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := m.stream.Start(); err != nil {
		m.running.Store(false)
		return err
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for m.running.Load() {
			m.fill(m.stereo, m.frames)
			for i := range m.wide {
				m.wide[i] = 0
			}
			for i := 0; i < m.frames; i++ {
				m.wide[i*m.pick+m.l] = m.stereo[2*i]
				m.wide[i*m.pick+m.r] = m.stereo[2*i+1]
			}
			if err := m.stream.Write(); err != nil {
				if m.running.Load() {
					log.Printf("[device] multi playback write: %v", err)
				}
				return
			}
		}
	}()
	return nil
}

func (m *multiPlayback) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	m.stream.Stop()
	m.wg.Wait()
	return m.stream.Close()
}

func (m *multiPlayback) Clocked() bool           { return false }
func (m *multiPlayback) Tick(time.Duration) bool { return false }
