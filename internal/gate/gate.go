// Package gate implements a windowed energy gate that suppresses transmit
// when captured input is near-silent.
//
// Each period's energy is the Hann-weighted sum of squared samples, averaged
// over the period. Frames below the threshold are classified silent and the
// input stream skips forwarding them entirely, saving encoder CPU and
// network bandwidth on open but idle microphones.
package gate

import "math"

// DefaultThreshold is the mean weighted energy below which a period counts
// as silence. Empirically derived against int16 capture levels.
const DefaultThreshold = 107374.18

// Detector classifies PCM periods as silent or active. Not safe for
// concurrent use; each input stream owns one.
type Detector struct {
	threshold float64
}

// New returns a Detector with DefaultThreshold.
func New() *Detector {
	return &Detector{threshold: DefaultThreshold}
}

// SetThreshold replaces the energy threshold. Values <= 0 restore the
// default.
func (d *Detector) SetThreshold(v float64) {
	if v <= 0 {
		v = DefaultThreshold
	}
	d.threshold = v
}

// Threshold returns the current energy threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Silent reports whether the interleaved frame block is below the energy
// threshold. The Hann window is symmetric: it weights the middle of the
// period most and tapers to zero at the first and last samples.
func (d *Detector) Silent(pcm []int16, frames, channels int) bool {
	if frames <= 0 || channels <= 0 {
		return true
	}
	sum := 0.0
	for i := 0; i < frames; i++ {
		w := hann(frames-i-1, frames)
		for j := 0; j < channels; j++ {
			amp := float64(pcm[i*channels+j])
			sum += amp * amp * w
		}
	}
	sum /= float64(frames * channels)
	return sum < d.threshold
}

// hann evaluates the Hann window of length n at index i.
func hann(i, n int) float64 {
	if n < 2 {
		return 1
	}
	return 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
}
