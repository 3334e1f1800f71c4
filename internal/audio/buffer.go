package audio

import (
	"encoding/binary"
	"fmt"
)

// Buffer is decoded, playable audio. Samples are interleaved when Channels > 1.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames reports the number of sample frames in the buffer.
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration reports the playback length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// DecodePCM16 converts signed 16-bit little-endian PCM into a normalized buffer.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	frame := 2 * channels
	if len(data)%frame != 0 {
		return nil, fmt.Errorf("pcm16 payload of %d bytes with %d channel(s): %w", len(data), channels, ErrMisalignedPCM)
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / pcm16FullScale
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}
