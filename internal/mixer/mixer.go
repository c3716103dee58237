// Package mixer sums PCM buffers into an output with channel-count
// reconciliation, saturating every sample to the int16 range.
package mixer

// clamp saturates a 32-bit partial sum to int16.
func clamp(v int32) int16 {
	if v < -32768 {
		return -32768
	}
	if v > 32767 {
		return 32767
	}
	return int16(v)
}

// Mix adds frames samples of src into dst. srcCh and dstCh give the channel
// layouts: equal counts mix sample-wise, stereo folds into mono as the
// average of both channels, mono spreads into both stereo channels.
// Unsupported combinations are ignored.
func Mix(src, dst []int16, frames, srcCh, dstCh int) {
	switch {
	case srcCh == dstCh:
		for i := 0; i < frames*srcCh; i++ {
			dst[i] = clamp(int32(dst[i]) + int32(src[i]))
		}
	case dstCh == 1 && srcCh == 2:
		for i := 0; i < frames; i++ {
			dst[i] = clamp(int32(dst[i]) + (int32(src[2*i])+int32(src[2*i+1]))/2)
		}
	case dstCh == 2 && srcCh == 1:
		for i := 0; i < frames; i++ {
			dst[2*i] = clamp(int32(dst[2*i]) + int32(src[i]))
			dst[2*i+1] = clamp(int32(dst[2*i+1]) + int32(src[i]))
		}
	}
}
