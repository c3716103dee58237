package device

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// waveCapture plays a RIFF/WAVE file as a capture device. It has no clock of
// its own: the owning stream ticks it once per period and it reads however
// many file frames that interval covers.
type waveCapture struct {
	deliver DeliverFunc

	f        *os.File
	dec      *wav.Decoder
	rate     int
	channels int
	bits     int

	intBuf *audio.IntBuffer
	pcm    []int16
}

func newWaveCapture(deliver DeliverFunc) *waveCapture {
	return &waveCapture{deliver: deliver}
}

func (w *waveCapture) Open(cfg *Config) error {
	f, err := os.Open(cfg.Name)
	if err != nil {
		return err
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return fmt.Errorf("%s: not a RIFF/WAVE file", cfg.Name)
	}
	if dec.WavAudioFormat != 1 {
		f.Close()
		return fmt.Errorf("%s: only PCM wav is supported (format %d)", cfg.Name, dec.WavAudioFormat)
	}
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		f.Close()
		return fmt.Errorf("%s: unsupported bit depth %d", cfg.Name, dec.BitDepth)
	}

	w.f = f
	w.dec = dec
	w.rate = int(dec.SampleRate)
	w.channels = int(dec.NumChans)
	w.bits = int(dec.BitDepth)

	cfg.Rate = w.rate
	cfg.Channels = w.channels
	cfg.MaxChannels = w.channels
	cfg.PeriodFrames = w.rate * cfg.PeriodMs / 1000
	return nil
}

func (w *waveCapture) Start() error { return nil }

func (w *waveCapture) Stop() error {
	if w.f != nil {
		err := w.f.Close()
		w.f = nil
		return err
	}
	return nil
}

func (w *waveCapture) Clocked() bool { return true }

// Tick reads one interval's worth of frames and delivers them. Returns false
// once the file is exhausted so the owning stream unwinds.
func (w *waveCapture) Tick(interval time.Duration) bool {
	if w.dec == nil {
		return false
	}
	ms := int(interval / time.Millisecond)
	frames := (ms*w.rate + 999) / 1000
	want := frames * w.channels

	if w.intBuf == nil || len(w.intBuf.Data) != want {
		w.intBuf = &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: w.channels, SampleRate: w.rate},
			Data:           make([]int, want),
			SourceBitDepth: w.bits,
		}
		w.pcm = make([]int16, want)
	}

	n, err := w.dec.PCMBuffer(w.intBuf)
	if err != nil {
		log.Printf("[device] wav read: %v", err)
		return false
	}
	if n == 0 {
		return false
	}

	for i := 0; i < n; i++ {
		w.pcm[i] = sampleToS16(w.intBuf.Data[i], w.bits)
	}
	got := n / w.channels
	w.deliver(w.pcm[:got*w.channels], got)
	return true
}

// sampleToS16 rescales one decoded sample to 16-bit. 8-bit wav data is
// unsigned, everything wider is signed.
func sampleToS16(v, bits int) int16 {
	switch bits {
	case 8:
		return int16((v - 128) << 8)
	case 16:
		return int16(v)
	case 24:
		return int16(v >> 8)
	default:
		return int16(v >> 16)
	}
}

// fileOutput records everything the owning output stream produces as raw
// little-endian 16-bit interleaved PCM.
type fileOutput struct {
	fill FillFunc

	f      *os.File
	bw     *bufio.Writer
	buf    []int16
	frames int
	raw    []byte
}

func newFileOutput(fill FillFunc) *fileOutput {
	return &fileOutput{fill: fill}
}

func (o *fileOutput) Open(cfg *Config) error {
	f, err := os.Create(cfg.Name)
	if err != nil {
		return err
	}
	if cfg.Rate == 0 {
		cfg.Rate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	cfg.MaxChannels = cfg.Channels
	cfg.PeriodFrames = cfg.Rate * cfg.PeriodMs / 1000

	o.f = f
	o.bw = bufio.NewWriter(f)
	o.frames = cfg.PeriodFrames
	o.buf = make([]int16, cfg.PeriodFrames*cfg.Channels)
	o.raw = make([]byte, 2*len(o.buf))
	return nil
}

func (o *fileOutput) Start() error { return nil }

func (o *fileOutput) Stop() error {
	if o.f == nil {
		return nil
	}
	o.bw.Flush()
	err := o.f.Close()
	o.f = nil
	return err
}

func (o *fileOutput) Clocked() bool { return true }

// Tick pulls one mixed period from the stream and appends it to the file.
func (o *fileOutput) Tick(time.Duration) bool {
	if o.f == nil {
		return false
	}
	o.fill(o.buf, o.frames)
	for i, s := range o.buf {
		binary.LittleEndian.PutUint16(o.raw[2*i:], uint16(s))
	}
	if _, err := o.bw.Write(o.raw); err != nil {
		log.Printf("[device] pcm write: %v", err)
		return false
	}
	return true
}
