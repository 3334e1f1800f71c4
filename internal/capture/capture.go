package capture

import (
	"context"
	"errors"

	"github.com/drhvac/voicedesk/internal/audio"
)

// Acquisition failures. Callers tell them apart with errors.Is because each
// needs a different remediation from the user.
var (
	ErrInsecureContext  = errors.New("microphone requires a secure context")
	ErrUnsupported      = errors.New("microphone capture unsupported")
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceNotFound   = errors.New("no microphone found")
)

// Constraints describe the requested capture format.
type Constraints struct {
	SampleRate       int  `json:"sample_rate"`
	Channels         int  `json:"channels"`
	BlockSize        int  `json:"block_size"`
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
}

func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       audio.CaptureSampleRate,
		Channels:         1,
		BlockSize:        audio.CaptureBlockSize,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Stream is an acquired microphone. Blocks is closed when the stream ends.
type Stream interface {
	Blocks() <-chan []float32
	SampleRate() int
	// Stop releases the device. Safe to call more than once.
	Stop()
}

type Microphone interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}
