package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// CaptureSampleRate is the microphone rate expected by the live model.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate of synthesized speech returned by the live model.
	PlaybackSampleRate = 24000
	// CaptureBlockSize is the number of samples per captured block.
	CaptureBlockSize = 4096

	pcm16FullScale = 32768
)

// ErrMisalignedPCM is returned when a PCM payload is not a whole number of frames.
var ErrMisalignedPCM = errors.New("pcm length is not a multiple of the frame size")

// Blob is an encoded audio payload ready for the realtime channel.
type Blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

// PCMMIMEType returns the wire tag for 16-bit PCM at the given rate.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// EncodePCM16 quantizes float samples to signed 16-bit little-endian PCM.
// Samples outside [-1, 1] are clamped so loud input saturates instead of wrapping.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return out
}

func quantize(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	q := math.Round(v * pcm16FullScale)
	if q > math.MaxInt16 {
		q = math.MaxInt16
	} else if q < math.MinInt16 {
		q = math.MinInt16
	}
	return int16(q)
}

// NewPCMBlob encodes a captured block into a base64 PCM blob tagged with its rate.
func NewPCMBlob(samples []float32, sampleRate int) Blob {
	if sampleRate <= 0 {
		sampleRate = CaptureSampleRate
	}
	return Blob{
		Data:     EncodeBase64(EncodePCM16(samples)),
		MIMEType: PCMMIMEType(sampleRate),
	}
}

// DecodeFloat32LE unpacks little-endian IEEE-754 float samples as sent by the widget.
func DecodeFloat32LE(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 payload of %d bytes: %w", len(data), ErrMisalignedPCM)
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// EncodeFloat32LE packs float samples into little-endian IEEE-754 bytes.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
