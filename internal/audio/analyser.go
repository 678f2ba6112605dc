package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// DefaultFFTSize is the analysis window length in samples
	DefaultFFTSize = 2048

	minDecibels = -100.0
	maxDecibels = -30.0
)

// Analyser computes a magnitude spectrum over the most recent output samples
type Analyser struct {
	size   int
	source func(dst []float32)

	mu     sync.Mutex
	fft    *fourier.FFT
	frame  []float32
	seq    []float64
	coeffs []complex128
}

// NewAnalyser creates an analyser reading size samples from source on each call
func NewAnalyser(size int, source func(dst []float32)) *Analyser {
	if size < 2 {
		size = DefaultFFTSize
	}
	return &Analyser{
		size:   size,
		source: source,
		fft:    fourier.NewFFT(size),
		frame:  make([]float32, size),
		seq:    make([]float64, size),
	}
}

// Spectrum returns bins values in [0, 1] mapped from a -100..-30 dB range
func (a *Analyser) Spectrum(bins int) []float64 {
	if bins <= 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.source(a.frame)
	for i, s := range a.frame {
		a.seq[i] = float64(s)
	}
	window.Hann(a.seq)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	// Skip the DC term
	usable := a.coeffs[1:]
	out := make([]float64, bins)
	per := float64(len(usable)) / float64(bins)
	for b := 0; b < bins; b++ {
		lo := int(float64(b) * per)
		hi := int(float64(b+1) * per)
		if hi <= lo {
			hi = lo + 1
		}
		if hi > len(usable) {
			hi = len(usable)
		}
		var peak float64
		for _, c := range usable[lo:hi] {
			peak = math.Max(peak, cmplx.Abs(c)/float64(a.size))
		}
		out[b] = scaleDecibels(peak)
	}
	return out
}

func scaleDecibels(magnitude float64) float64 {
	if magnitude <= 0 {
		return 0
	}
	db := 20 * math.Log10(magnitude)
	v := (db - minDecibels) / (maxDecibels - minDecibels)
	return math.Max(0, math.Min(1, v))
}
