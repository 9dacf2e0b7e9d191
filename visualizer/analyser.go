package visualizer

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// analyser turns a window of samples into byte frequency data with the same
// scaling a browser AnalyserNode uses: Blackman window, per-bin exponential
// smoothing, decibels mapped linearly onto 0..255.
type analyser struct {
	fft       *fourier.FFT
	window    []float64
	input     []float64
	coeffs    []complex128
	smoothed  []float64
	smoothing float64
	minDB     float64
	maxDB     float64
}

func newAnalyser(size int, smoothing, minDB, maxDB float64) *analyser {
	window := make([]float64, size)
	for i := range window {
		x := 2 * math.Pi * float64(i) / float64(size)
		window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return &analyser{
		fft:       fourier.NewFFT(size),
		window:    window,
		input:     make([]float64, size),
		smoothed:  make([]float64, size/2),
		smoothing: smoothing,
		minDB:     minDB,
		maxDB:     maxDB,
	}
}

// byteFrequencyData analyses the most recent samples. Fewer samples than the
// window size are zero padded at the front.
func (a *analyser) byteFrequencyData(samples []float64) []uint8 {
	n := len(a.window)
	pad := n - len(samples)
	for i := 0; i < n; i++ {
		s := 0.0
		if i >= pad {
			s = samples[i-pad]
		}
		a.input[i] = s * a.window[i]
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.input)

	bins := make([]uint8, n/2)
	span := a.maxDB - a.minDB
	for k := range bins {
		mag := cmplx.Abs(a.coeffs[k]) / float64(n)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		if a.smoothed[k] <= 0 {
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		scaled := 255 * (db - a.minDB) / span
		switch {
		case scaled <= 0:
		case scaled >= 255:
			bins[k] = 255
		default:
			bins[k] = uint8(scaled)
		}
	}
	return bins
}
