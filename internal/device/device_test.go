package device

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestCaptureSelectionByName(t *testing.T) {
	noop := func([]int16, int) {}

	if _, ok := NewCapture("song.wav", noop).(*waveCapture); !ok {
		t.Error("*.wav should select the file reader")
	}
	if _, ok := NewCapture("card.multi", noop).(*multiCapture); !ok {
		t.Error(".multi should select the slot wrapper")
	}
	if _, ok := NewCapture("default_input", noop).(*physCapture); !ok {
		t.Error("default_input should select the physical device")
	}
	if _, ok := NewCapture("USB Audio", noop).(*physCapture); !ok {
		t.Error("plain names should select the physical device")
	}
}

func TestPlaybackSelectionByName(t *testing.T) {
	noop := func([]int16, int) {}

	if _, ok := NewPlayback("tap.pcm", noop).(*fileOutput); !ok {
		t.Error("*.pcm should select the file writer")
	}
	if _, ok := NewPlayback("card.multi", noop).(*multiPlayback); !ok {
		t.Error(".multi should select the slot wrapper")
	}
	if _, ok := NewPlayback("default_output", noop).(*physPlayback); !ok {
		t.Error("default_output should select the physical device")
	}
}

// writeWav writes frames of a mono ramp at the given rate and bit depth.
func writeWav(t *testing.T, path string, rate, bits, frames int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, bits, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, frames),
		SourceBitDepth: bits,
	}
	for i := range buf.Data {
		buf.Data[i] = (i % 100) * 50
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
}

func TestWaveCaptureNegotiatesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	writeWav(t, path, 16000, 16, 1600)

	var got int
	dev := NewCapture(path, func(pcm []int16, frames int) { got += frames })
	cfg := Config{Name: path, Rate: 48000, PeriodMs: 10}
	if err := dev.Open(&cfg); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if cfg.Rate != 16000 {
		t.Errorf("rate = %d, want the file's 16000", cfg.Rate)
	}
	if cfg.Channels != 1 || cfg.MaxChannels != 1 {
		t.Errorf("channels = %d/%d, want 1/1", cfg.Channels, cfg.MaxChannels)
	}
	if cfg.PeriodFrames != 160 {
		t.Errorf("period = %d frames, want 160", cfg.PeriodFrames)
	}
	if !dev.Clocked() {
		t.Error("file capture must need the external clock")
	}

	if err := dev.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// 1600 frames at 160/tick: ten ticks deliver everything, the next hits EOF.
	ticks := 0
	for dev.Tick(10*time.Millisecond) {
		ticks++
		if ticks > 100 {
			t.Fatal("no EOF after 100 ticks")
		}
	}
	if got != 1600 {
		t.Errorf("delivered %d frames, want 1600", got)
	}
	dev.Stop()
}

func TestWaveCaptureRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("not a wav"), 0o600); err != nil {
		t.Fatal(err)
	}
	dev := NewCapture(path, func([]int16, int) {})
	cfg := Config{Name: path, PeriodMs: 10}
	if err := dev.Open(&cfg); err == nil {
		t.Error("Open accepted a non-wav file")
	}
}

func TestSampleToS16(t *testing.T) {
	cases := []struct {
		v, bits int
		want    int16
	}{
		{128, 8, 0},
		{255, 8, 32512},
		{0, 8, -32768},
		{1234, 16, 1234},
		{-1234, 16, -1234},
		{1 << 22, 24, 1 << 14},
		{1 << 30, 32, 1 << 14},
	}
	for _, tc := range cases {
		if got := sampleToS16(tc.v, tc.bits); got != tc.want {
			t.Errorf("sampleToS16(%d, %d) = %d, want %d", tc.v, tc.bits, got, tc.want)
		}
	}
}

func TestFileOutputWritesRawPCM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tap.pcm")

	period := 0
	dev := NewPlayback(path, func(out []int16, frames int) {
		for i := range out {
			out[i] = int16(period*1000 + i)
		}
		period++
	})
	cfg := Config{Name: path, Rate: 48000, PeriodMs: 10, Channels: 1}
	if err := dev.Open(&cfg); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if cfg.PeriodFrames != 480 {
		t.Errorf("period = %d, want 480", cfg.PeriodFrames)
	}
	if !dev.Clocked() {
		t.Error("file output must need the external clock")
	}

	if err := dev.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if !dev.Tick(10 * time.Millisecond) {
			t.Fatal("Tick failed")
		}
	}
	dev.Stop()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 3*480*2 {
		t.Fatalf("file size = %d, want %d", len(raw), 3*480*2)
	}
	// Spot-check little-endian layout of the second period's first sample.
	if got := int16(binary.LittleEndian.Uint16(raw[480*2:])); got != 1000 {
		t.Errorf("sample = %d, want 1000", got)
	}
}

func TestPipeCaptureFeedsOnlyWhileRunning(t *testing.T) {
	var got int
	pipe := NewPipeCapture(48000, 480, 1, func(pcm []int16, frames int) { got += frames })
	cfg := Config{PeriodMs: 10}
	if err := pipe.Open(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Rate != 48000 || cfg.PeriodFrames != 480 || cfg.Channels != 1 {
		t.Errorf("cfg = %+v", cfg)
	}

	buf := make([]int16, 480)
	pipe.Feed(buf, 480)
	if got != 0 {
		t.Error("pipe delivered before Start")
	}
	pipe.Start()
	pipe.Feed(buf, 480)
	if got != 480 {
		t.Errorf("delivered %d, want 480", got)
	}
	pipe.Stop()
	pipe.Feed(buf, 480)
	if got != 480 {
		t.Error("pipe delivered after Stop")
	}
}
