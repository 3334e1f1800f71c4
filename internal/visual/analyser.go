package visual

import (
	"math"
	"math/cmplx"
	"sync"
)

const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8
	MinDecibels      = -100.0
	MaxDecibels      = -30.0
)

// Analyser produces byte-scaled frequency bins from the most recent input
// window, matching a browser AnalyserNode so the widget can draw bars directly.
type Analyser struct {
	mu        sync.Mutex
	size      int
	smoothing float64
	window    []float64
	ring      []float32
	pos       int
	smoothed  []float64
}

func NewAnalyser(fftSize int) *Analyser {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		fftSize = DefaultFFTSize
	}
	a := &Analyser{
		size:      fftSize,
		smoothing: DefaultSmoothing,
		window:    blackman(fftSize),
		ring:      make([]float32, fftSize),
		smoothed:  make([]float64, fftSize/2),
	}
	return a
}

// Bins reports the number of frequency bins per frame.
func (a *Analyser) Bins() int { return a.size / 2 }

// Write appends samples to the analysis window.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(samples) >= a.size {
		copy(a.ring, samples[len(samples)-a.size:])
		a.pos = 0
		return
	}
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.size
	}
}

// Frame computes one smoothed byte frame over the current window.
func (a *Analyser) Frame() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	x := make([]complex128, a.size)
	for i := 0; i < a.size; i++ {
		s := a.ring[(a.pos+i)%a.size]
		x[i] = complex(float64(s)*a.window[i], 0)
	}
	fft(x)

	out := make([]byte, a.size/2)
	for k := range out {
		mag := cmplx.Abs(x[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		out[k] = toByte(a.smoothed[k])
	}
	return out
}

// Reset clears the window and smoothing history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.ring {
		a.ring[i] = 0
	}
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
	a.pos = 0
}

func toByte(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	scaled := 255 * (db - MinDecibels) / (MaxDecibels - MinDecibels)
	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	default:
		return byte(scaled)
	}
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2
	w := make([]float64, n)
	for i := range w {
		f := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(f) + a2*math.Cos(2*f)
	}
	return w
}

// fft is an in-place iterative radix-2 transform; len(x) must be a power of two.
func fft(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < size/2; k++ {
				u := x[start+k]
				v := x[start+k+size/2] * w
				x[start+k] = u + v
				x[start+k+size/2] = u - v
				w *= step
			}
		}
	}
}
