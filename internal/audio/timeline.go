package audio

import "math"

// Timeline lays mono samples out on an absolute time axis, the way a client
// renders scheduled playback chunks. Overlapping regions are summed.
type Timeline struct {
	sampleRate int
	samples    []float32
}

func NewTimeline(sampleRate int) *Timeline {
	if sampleRate <= 0 {
		sampleRate = PlaybackSampleRate
	}
	return &Timeline{sampleRate: sampleRate}
}

func (t *Timeline) SampleRate() int { return t.sampleRate }

// Duration reports the end of the latest placed sample in seconds.
func (t *Timeline) Duration() float64 {
	return float64(len(t.samples)) / float64(t.sampleRate)
}

// Place mixes samples in starting at the given offset in seconds.
func (t *Timeline) Place(at float64, samples []float32) {
	if at < 0 {
		at = 0
	}
	start := int(math.Round(at * float64(t.sampleRate)))
	end := start + len(samples)
	if end > len(t.samples) {
		grown := make([]float32, end)
		copy(grown, t.samples)
		t.samples = grown
	}
	for i, s := range t.samples[start:end] {
		t.samples[start+i] = s + samples[i]
	}
}

// Truncate drops everything from the given offset on. Used when playback is
// interrupted and queued chunks are discarded.
func (t *Timeline) Truncate(at float64) {
	if at < 0 {
		at = 0
	}
	cut := int(math.Round(at * float64(t.sampleRate)))
	if cut < len(t.samples) {
		t.samples = t.samples[:cut]
	}
}

// Samples returns a copy of the rendered timeline.
func (t *Timeline) Samples() []float32 {
	out := make([]float32, len(t.samples))
	copy(out, t.samples)
	return out
}

// WAV renders the timeline as a mono PCM16 WAV file.
func (t *Timeline) WAV() ([]byte, error) {
	return EncodeWAV(EncodePCM16(t.samples), t.sampleRate)
}
