package resample

import "math"

// Blackman-Nuttall window coefficients.
const (
	bnA0 = 0.3635819
	bnA1 = 0.4891775
	bnA2 = 0.1365995
	bnA3 = 0.0106411
)

// Sinc is a windowed-sinc interpolator for one channel of a (possibly
// interleaved) float64 stream. The kernel is a Blackman-Nuttall windowed
// sinc of half-width order, tabulated at precision+1 fractional offsets and
// linearly interpolated between rows. 2*order input samples of history are
// kept across calls so block boundaries stay continuous.
type Sinc struct {
	order     int
	precision int
	step      float64 // input samples advanced per output sample (fsi/fso)
	kern      []float64
	prev      []float64
}

// NewSinc builds an interpolator. order is the kernel half-width in input
// samples, precision the number of tabulated fractional steps, cutoff the
// normalized lowpass cutoff (1.0 = input Nyquist, lower when decimating),
// and ratio the output/input rate ratio fso/fsi.
func NewSinc(order, precision int, cutoff, ratio float64) *Sinc {
	s := &Sinc{
		order:     order,
		precision: precision,
		step:      1 / ratio,
		kern:      make([]float64, (precision+1)*2*order),
		prev:      make([]float64, 2*order),
	}
	for q := 0; q <= precision; q++ {
		frac := float64(q) / float64(precision)
		sum := 0.0
		for j := 0; j < 2*order; j++ {
			x := frac - float64(j-order+1)
			v := s.kernel(x, cutoff)
			s.kern[q*2*order+j] = v
			sum += v
		}
		// Normalize each phase row to unity gain so DC passes exactly and
		// truncation ripple does not modulate the level with the phase.
		if sum != 0 {
			for j := 0; j < 2*order; j++ {
				s.kern[q*2*order+j] /= sum
			}
		}
	}
	return s
}

// kernel evaluates the windowed sinc at offset x input samples from the
// interpolation point.
func (s *Sinc) kernel(x, cutoff float64) float64 {
	u := x / float64(s.order)
	if u < -1 || u > 1 {
		return 0
	}
	w := bnA0 - bnA1*math.Cos(math.Pi*(u+1)) + bnA2*math.Cos(2*math.Pi*(u+1)) - bnA3*math.Cos(3*math.Pi*(u+1))
	return cutoff * sinc(cutoff*x) * w
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// Process converts n input samples into m output samples. Both slices are
// walked with the given stride, so interleaved multi-channel buffers are
// handled by one Sinc per channel sharing the backing arrays.
func (s *Sinc) Process(in []float64, n int, out []float64, m int, stride int) {
	at := func(idx int) float64 {
		if idx < 0 {
			return s.prev[2*s.order+idx]
		}
		if idx >= n {
			idx = n - 1
		}
		return in[idx*stride]
	}

	for j := 0; j < m; j++ {
		t := float64(j) * s.step
		it := int(t)
		frac := t - float64(it)

		q := frac * float64(s.precision)
		qi := int(q)
		qf := q - float64(qi)
		row0 := s.kern[qi*2*s.order:]
		row1 := row0
		if qi < s.precision {
			row1 = s.kern[(qi+1)*2*s.order:]
		}

		acc := 0.0
		for k := 0; k < 2*s.order; k++ {
			kv := row0[k] + (row1[k]-row0[k])*qf
			acc += at(it+k-s.order+1) * kv
		}
		out[j*stride] = acc
	}

	// Preserve the trailing 2*order samples for the next block.
	for k := 0; k < 2*s.order; k++ {
		idx := n - 2*s.order + k
		if idx < 0 {
			s.prev[k] = s.prev[(2*s.order+idx)%(2*s.order)]
		} else {
			s.prev[k] = in[idx*stride]
		}
	}
}

// Reset clears the inter-block history.
func (s *Sinc) Reset() {
	for i := range s.prev {
		s.prev[i] = 0
	}
}
