package mixer

import (
	"testing"

	"pgregory.net/rapid"
)

func TestMixEqualChannels(t *testing.T) {
	dst := []int16{100, -100, 0, 7}
	src := []int16{1, 2, 3, 4}
	Mix(src, dst, 2, 2, 2)
	want := []int16{101, -98, 3, 11}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %d, want %d", i, dst[i], want[i])
		}
	}
}

func TestMixSaturates(t *testing.T) {
	dst := []int16{32000, -32000}
	src := []int16{32000, -32000}
	Mix(src, dst, 2, 1, 1)
	if dst[0] != 32767 {
		t.Errorf("positive clip: got %d", dst[0])
	}
	if dst[1] != -32768 {
		t.Errorf("negative clip: got %d", dst[1])
	}
}

func TestMixStereoToMono(t *testing.T) {
	dst := []int16{10, 20}
	src := []int16{100, 200, -50, -150} // two stereo frames
	Mix(src, dst, 2, 2, 1)
	if dst[0] != 10+150 {
		t.Errorf("frame 0: got %d, want %d", dst[0], 10+150)
	}
	if dst[1] != 20-100 {
		t.Errorf("frame 1: got %d, want %d", dst[1], 20-100)
	}
}

func TestMixMonoToStereo(t *testing.T) {
	dst := []int16{1, 2, 3, 4}
	src := []int16{100, -100}
	Mix(src, dst, 2, 1, 2)
	want := []int16{101, 102, -97, -96}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %d, want %d", i, dst[i], want[i])
		}
	}
}

// TestMixMatchesWideningReference checks equal-channel mixing against a
// 64-bit reference with explicit clamping over arbitrary inputs, so wrapping
// instead of saturating cannot hide.
func TestMixMatchesWideningReference(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		frames := rapid.IntRange(1, 32).Draw(t, "frames")
		ch := rapid.SampledFrom([]int{1, 2}).Draw(t, "ch")

		gen := rapid.Int16()
		src := make([]int16, frames*ch)
		dst := make([]int16, frames*ch)
		want := make([]int64, frames*ch)
		for i := range src {
			src[i] = gen.Draw(t, "s")
			dst[i] = gen.Draw(t, "d")
			sum := int64(src[i]) + int64(dst[i])
			if sum > 32767 {
				sum = 32767
			}
			if sum < -32768 {
				sum = -32768
			}
			want[i] = sum
		}

		Mix(src, dst, frames, ch, ch)
		for i := range dst {
			if int64(dst[i]) != want[i] {
				t.Fatalf("dst[%d] = %d, want %d", i, dst[i], want[i])
			}
		}
	})
}

func TestMixExtremesHitRails(t *testing.T) {
	dst := []int16{32767}
	src := []int16{32767}
	Mix(src, dst, 1, 1, 1)
	if dst[0] != 32767 {
		t.Errorf("got %d", dst[0])
	}

	dst = []int16{-32768}
	src = []int16{-32768}
	Mix(src, dst, 1, 1, 1)
	if dst[0] != -32768 {
		t.Errorf("got %d", dst[0])
	}
}
