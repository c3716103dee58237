// Package device abstracts the endpoints an audio stream can read from or
// write to: physical portaudio devices, WAV/raw files, multi-channel slot
// wrappers around a physical card, and in-process pipes fed by another
// stream.
//
// A capture device pushes interleaved int16 periods into its deliver
// callback; a playback device pulls periods through its fill callback.
// Physical devices run their own blocking-I/O goroutine (the "device
// thread"); file-backed devices have no clock of their own and are ticked by
// the owning stream's periodic timer.
package device

import (
	"strings"
	"time"
)

// DeliverFunc receives one captured period of interleaved PCM.
type DeliverFunc func(pcm []int16, frames int)

// FillFunc renders one playback period of interleaved PCM into out.
type FillFunc func(out []int16, frames int)

// Config carries the negotiated stream parameters. The owning stream fills
// the request (Name, Rate, PeriodMs, Channels may be zero for "device
// decides") and Open rewrites Rate, PeriodFrames, Channels and MaxChannels
// to what the device will actually move per period. When the device's rate
// differs from the stream's, the stream installs a resampler.
type Config struct {
	Name         string
	Rate         int
	PeriodMs     int
	PeriodFrames int
	Channels     int
	MaxChannels  int
}

// Capture is a PCM source.
type Capture interface {
	Open(cfg *Config) error
	Start() error
	Stop() error
	// Clocked reports whether the device needs the owning stream's
	// periodic timer instead of its own callback thread.
	Clocked() bool
	// Tick performs one period of work for clocked devices. Returning
	// false means the source is exhausted and the stream should unwind.
	Tick(interval time.Duration) bool
}

// Playback is a PCM sink with the same lifecycle contract as Capture.
type Playback interface {
	Open(cfg *Config) error
	Start() error
	Stop() error
	Clocked() bool
	Tick(interval time.Duration) bool
}

// Slot constants for multi-channel wrappers: which channels of the
// N-channel frame map to stereo left/right.
const (
	multiInLeft   = 0
	multiInRight  = 8
	multiOutLeft  = 3
	multiOutRight = 11
	multiPick     = 16
)

// NewCapture selects a capture device by name pattern: "*.wav" opens a file
// reader, a name containing ".multi" wraps the default card's channel slots,
// anything else resolves a physical device ("default_input" or substring
// match).
func NewCapture(name string, deliver DeliverFunc) Capture {
	switch {
	case strings.HasSuffix(name, ".wav"):
		return newWaveCapture(deliver)
	case strings.Contains(name, ".multi"):
		return newMultiCapture(multiInLeft, multiInRight, multiPick, deliver)
	default:
		return newPhysCapture(deliver)
	}
}

// NewPlayback selects a playback device by name pattern: "*.pcm" opens a raw
// file writer, ".multi" wraps the default card's channel slots, anything
// else resolves a physical device.
func NewPlayback(name string, fill FillFunc) Playback {
	switch {
	case strings.HasSuffix(name, ".pcm"):
		return newFileOutput(fill)
	case strings.Contains(name, ".multi"):
		return newMultiPlayback(multiOutLeft, multiOutRight, multiPick, fill)
	default:
		return newPhysPlayback(fill)
	}
}
