package netcodec

import (
	"math"
	"math/rand"
	"testing"

	"patchbay/internal/protocol"
)

// statsDecoder returns a Decoder with only the statistics machinery wired,
// so sequence/timing behaviour is testable without touching the codec.
func statsDecoder() *Decoder {
	return &Decoder{
		token:     7,
		channels:  1,
		fsi:       48000,
		fso:       48000,
		published: Stats{Token: 7},
	}
}

func TestStatsCleanSequenceNoLoss(t *testing.T) {
	d := statsDecoder()
	var now uint64
	for seq := uint32(1); seq <= 201; seq++ {
		now += 10000
		d.observe(seq, now, now)
	}
	st := d.Stats()
	if d.lost != 0 {
		t.Errorf("lost = %d, want 0", d.lost)
	}
	if st.LostRate != 0 {
		t.Errorf("LostRate = %v, want 0", st.LostRate)
	}
}

func TestStatsSingleGapCountsOnce(t *testing.T) {
	d := statsDecoder()
	var now uint64
	for seq := uint32(1); seq <= 100; seq++ {
		if seq == 50 {
			continue // one lost packet
		}
		now += 10000
		d.observe(seq, now, now)
	}
	if d.lost != 1 {
		t.Errorf("lost = %d, want 1", d.lost)
	}
}

func TestStatsFirstPacketIsBaselineOnly(t *testing.T) {
	d := statsDecoder()
	d.observe(500, 123456, 123456)
	if d.recvInterv != 0 || d.sendInterv != 0 || d.jitter != 0 {
		t.Error("first packet must not contribute intervals")
	}
	if d.lost != 0 {
		t.Errorf("lost = %d, want 0", d.lost)
	}
}

func TestStatsNonMonotonicClockYieldsZeroInterval(t *testing.T) {
	d := statsDecoder()
	d.observe(1, 1000000, 1000000)
	before := d.recvInterv
	// Receive clock steps backwards: interval sample is 0, EWMA decays
	// toward it rather than going negative.
	d.observe(2, 1010000, 900000)
	if d.recvInterv < 0 {
		t.Errorf("recvInterv = %v, negative", d.recvInterv)
	}
	if d.recvInterv > before {
		t.Errorf("recvInterv grew from a backwards clock: %v", d.recvInterv)
	}
	if d.sendInterv == 0 {
		t.Error("send interval was monotonic and should have registered")
	}
}

// TestStatsJitterMeasurement is the jitter scenario: send timestamps advance
// by exactly 10 ms, arrivals by 10 ms plus bounded noise. The published
// averages must converge on the true intervals.
func TestStatsJitterMeasurement(t *testing.T) {
	d := statsDecoder()
	rng := rand.New(rand.NewSource(1))
	var snow, rnow uint64 = 1, 1
	for seq := uint32(1); seq <= 201; seq++ {
		snow += 10000
		rnow += uint64(10000 + rng.Intn(1001) - 500)
		d.observe(seq, snow, rnow)
	}
	st := d.Stats()
	if math.Abs(st.SendInterval-10000) >= 50 {
		t.Errorf("SendInterval = %v, want within 50 of 10000", st.SendInterval)
	}
	if math.Abs(st.RecvInterval-10000) >= 200 {
		t.Errorf("RecvInterval = %v, want within 200 of 10000", st.RecvInterval)
	}
	if st.Jitter >= 700 {
		t.Errorf("Jitter = %v, want < 700", st.Jitter)
	}
}

// TestStatsLossRate drops every 10th packet below the snapshot boundary and
// checks the published rate.
func TestStatsLossRate(t *testing.T) {
	d := statsDecoder()
	var now uint64
	for seq := uint32(1); seq <= 201; seq++ {
		if seq%10 == 0 && seq < 200 {
			continue
		}
		now += 10000
		d.observe(seq, now, now)
	}
	st := d.Stats()
	if math.Abs(st.LostRate-10.0) >= 1.0 {
		t.Errorf("LostRate = %v, want within 1 of 10", st.LostRate)
	}
}

func TestEncoderSequenceStartsAtOne(t *testing.T) {
	enc, err := NewEncoder(66, 1, 48000, 960)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	pcm := make([]int16, 960)
	dg := enc.Prepare(pcm)
	if dg == nil {
		t.Fatal("Prepare returned nil for a valid frame")
	}
	head := protocol.ParseHeader(dg)
	if head.Sequence != 1 {
		t.Errorf("first sequence = %d, want 1", head.Sequence)
	}
	if head.Sender != 66 || head.Channels != 1 || head.RateKHz != 48 || head.Encoder != protocol.EncoderOpus {
		t.Errorf("header = %+v", head)
	}

	dg = enc.Prepare(pcm)
	if got := protocol.ParseHeader(dg).Sequence; got != 2 {
		t.Errorf("second sequence = %d, want 2", got)
	}
}

func TestEncoderDatagramValidates(t *testing.T) {
	enc, err := NewEncoder(5, 2, 48000, 480)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dg := enc.Prepare(make([]int16, 480*2))
	if dg == nil {
		t.Fatal("Prepare returned nil")
	}
	if !protocol.Validate(dg) {
		t.Error("encoder produced a datagram its own receiver would drop")
	}
}

func TestOpusRoundTrip(t *testing.T) {
	const frames = 960
	enc, err := NewEncoder(9, 1, 48000, frames)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dec, err := NewDecoder(9, 1, 48000)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	pcm := make([]int16, frames)
	for i := range pcm {
		pcm[i] = int16(16000 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}

	// Opus needs a few frames to converge; decode them all, judge the last.
	var out []int16
	var n int
	for i := 0; i < 4; i++ {
		dg := enc.Prepare(pcm)
		if dg == nil {
			t.Fatal("Prepare failed")
		}
		var ok bool
		out, n, ok = dec.Commit(dg)
		if !ok {
			t.Fatal("Commit failed")
		}
	}
	if n != frames {
		t.Fatalf("decoded %d frames, want %d", n, frames)
	}
	var power float64
	for _, s := range out[:n] {
		power += float64(s) * float64(s)
	}
	power /= float64(n)
	if power < 1e6 {
		t.Errorf("decoded tone power %v, expected a live signal", power)
	}
}

func TestDecoderPCMFormat(t *testing.T) {
	dec, err := NewDecoder(3, 1, 48000)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	const frames = 480
	pkt := make([]byte, protocol.HeaderSize+frames*2)
	protocol.Header{
		Sender: 3, Channels: 1, RateKHz: 48,
		Encoder: protocol.EncoderPCM, Sequence: 1,
	}.Marshal(pkt)
	for i := 0; i < frames; i++ {
		v := uint16(int16(i - 240))
		pkt[protocol.HeaderSize+2*i] = byte(v)
		pkt[protocol.HeaderSize+2*i+1] = byte(v >> 8)
	}

	out, n, ok := dec.Commit(pkt)
	if !ok {
		t.Fatal("Commit rejected PCM packet")
	}
	if n != frames {
		t.Fatalf("frames = %d, want %d", n, frames)
	}
	for i := 0; i < frames; i++ {
		if out[i] != int16(i-240) {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], i-240)
		}
	}
}
