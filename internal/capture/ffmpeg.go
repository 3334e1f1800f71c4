package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/drhvac/voicedesk/internal/audio"
)

// FFmpegMicrophone captures the local default input device through an ffmpeg
// subprocess emitting mono float32 samples.
type FFmpegMicrophone struct {
	GOOS string
	// Device overrides the platform default input ("default" on pulse, ":0" on avfoundation).
	Device string
}

func NewFFmpegMicrophone() *FFmpegMicrophone {
	return &FFmpegMicrophone{GOOS: runtime.GOOS}
}

func (m *FFmpegMicrophone) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH", ErrUnsupported)
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.CaptureSampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = audio.CaptureBlockSize
	}
	args, err := ffmpegInputArgs(m.GOOS, m.Device, c.SampleRate)
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg capture: %w", err)
	}

	s := &ffmpegStream{
		rate:   c.SampleRate,
		blocks: make(chan []float32, 8),
		done:   make(chan struct{}),
		cancel: cancel,
		cmd:    cmd,
	}

	// The first block proves the device opened.
	first := make(chan error, 1)
	go s.read(stdout, c.BlockSize, first)
	select {
	case err := <-first:
		if err != nil {
			s.Stop()
			return nil, classifyFFmpegFailure(err, stderr.String())
		}
	case <-ctx.Done():
		s.Stop()
		return nil, ctx.Err()
	}
	return s, nil
}

func ffmpegInputArgs(goos, device string, rate int) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		if device == "" {
			device = ":0"
		}
		input = []string{"-f", "avfoundation", "-i", device}
	case "linux":
		if device == "" {
			device = "default"
		}
		input = []string{"-f", "pulse", "-i", device}
	default:
		return nil, fmt.Errorf("%w: no ffmpeg input for %s", ErrUnsupported, goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args, "-ac", "1", "-ar", strconv.Itoa(rate), "-f", "f32le", "-")
	return args, nil
}

func classifyFFmpegFailure(err error, stderr string) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, strings.TrimSpace(stderr))
	case strings.Contains(msg, "no such") || strings.Contains(msg, "not found") ||
		strings.Contains(msg, "input/output error") || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, strings.TrimSpace(stderr))
	default:
		return fmt.Errorf("ffmpeg capture: %w", err)
	}
}

type ffmpegStream struct {
	rate   int
	blocks chan []float32
	done   chan struct{}
	cancel context.CancelFunc
	cmd    *exec.Cmd
	once   sync.Once
}

func (s *ffmpegStream) Blocks() <-chan []float32 { return s.blocks }

func (s *ffmpegStream) SampleRate() int { return s.rate }

func (s *ffmpegStream) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		_ = s.cmd.Wait()
	})
}

func (s *ffmpegStream) read(r io.Reader, blockSize int, first chan<- error) {
	defer close(s.blocks)
	buf := make([]byte, blockSize*4)
	reported := false
	for {
		_, err := io.ReadFull(r, buf)
		if err != nil {
			if !reported {
				first <- err
			}
			return
		}
		samples, err := audio.DecodeFloat32LE(buf)
		if err != nil {
			if !reported {
				first <- err
			}
			return
		}
		if !reported {
			reported = true
			first <- nil
		}
		select {
		case s.blocks <- samples:
		case <-s.done:
			return
		}
	}
}
