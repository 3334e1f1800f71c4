package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/drhvac/voicedesk/internal/audio"
)

type flagGate struct{ on atomic.Bool }

func (g *flagGate) Active() bool { return g.on.Load() }

type recordingSender struct {
	mu    sync.Mutex
	blobs []audio.Blob
	fail  bool
	gate  chan struct{}
}

func (s *recordingSender) SendAudio(ctx context.Context, blob audio.Blob) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = append(s.blobs, blob)
	if s.fail {
		return errors.New("send failed")
	}
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func block(v float32) []float32 {
	b := make([]float32, audio.CaptureBlockSize)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestPipelineForwardsInCaptureOrder(t *testing.T) {
	gate := &flagGate{}
	gate.on.Store(true)
	sender := &recordingSender{}
	p := NewPipeline(gate, sender, PipelineConfig{QueueSize: 16, Logger: zerolog.Nop()})
	stream := NewFeedStream(audio.CaptureSampleRate, 16, nil)
	p.Start(stream)

	for i := 0; i < 5; i++ {
		if !stream.Push(block(float32(i) / 10)) {
			t.Fatalf("Push(%d) rejected", i)
		}
	}
	waitFor(t, func() bool { return sender.count() == 5 })
	p.Stop()
	p.Wait()

	want := []float32{0, 0.1, 0.2, 0.3, 0.4}
	for i, blob := range sender.blobs {
		if blob.MIMEType != "audio/pcm;rate=16000" {
			t.Fatalf("blob %d MIMEType = %q", i, blob.MIMEType)
		}
		raw, err := audio.DecodeBase64(blob.Data)
		if err != nil {
			t.Fatalf("DecodeBase64() error = %v", err)
		}
		buf, err := audio.DecodePCM16(raw, audio.CaptureSampleRate, 1)
		if err != nil {
			t.Fatalf("DecodePCM16() error = %v", err)
		}
		if d := buf.Samples[0] - want[i]; d > 0.001 || d < -0.001 {
			t.Fatalf("blob %d first sample = %v, want %v", i, buf.Samples[0], want[i])
		}
	}
}

func TestPipelineDropsWhenGateInactive(t *testing.T) {
	gate := &flagGate{}
	gate.on.Store(true)
	sender := &recordingSender{}
	p := NewPipeline(gate, sender, PipelineConfig{Logger: zerolog.Nop()})
	stream := NewFeedStream(audio.CaptureSampleRate, 16, nil)
	p.Start(stream)

	stream.Push(block(0.1))
	waitFor(t, func() bool { return sender.count() == 1 })

	gate.on.Store(false)
	for i := 0; i < 3; i++ {
		stream.Push(block(0.2))
	}
	time.Sleep(50 * time.Millisecond)
	if got := sender.count(); got != 1 {
		t.Fatalf("sent %d blocks after deactivation, want 1 total", got)
	}
	p.Stop()
}

func TestPipelineSendFailureIsNotFatal(t *testing.T) {
	gate := &flagGate{}
	gate.on.Store(true)
	sender := &recordingSender{fail: true}
	p := NewPipeline(gate, sender, PipelineConfig{Logger: zerolog.Nop()})
	stream := NewFeedStream(audio.CaptureSampleRate, 16, nil)
	p.Start(stream)

	stream.Push(block(0.1))
	stream.Push(block(0.1))
	waitFor(t, func() bool { return sender.count() == 2 })
	p.Stop()
}

func TestPipelineQueueFullDropsNewest(t *testing.T) {
	gate := &flagGate{}
	gate.on.Store(true)
	release := make(chan struct{})
	sender := &recordingSender{gate: release}
	p := NewPipeline(gate, sender, PipelineConfig{QueueSize: 1, Logger: zerolog.Nop()})

	// sender goroutine holds block 0, queue holds block 1, block 2 is dropped
	p.Start(NewFeedStream(audio.CaptureSampleRate, 1, nil))
	p.handle(block(0), audio.CaptureSampleRate)
	waitFor(t, func() bool { return len(p.queue) == 0 })
	p.handle(block(0.1), audio.CaptureSampleRate)
	p.handle(block(0.2), audio.CaptureSampleRate)
	if got := len(p.queue); got != 1 {
		t.Fatalf("queue len = %d, want 1", got)
	}
	close(release)
	waitFor(t, func() bool { return sender.count() == 2 })
	p.Stop()
}

func TestPipelineStopIsIdempotentAndKeepsStream(t *testing.T) {
	p := NewPipeline(&flagGate{}, &recordingSender{}, PipelineConfig{Logger: zerolog.Nop()})
	p.Stop()
	p.Stop()

	stopped := false
	stream := NewFeedStream(audio.CaptureSampleRate, 1, func() { stopped = true })
	p2 := NewPipeline(&flagGate{}, &recordingSender{}, PipelineConfig{Logger: zerolog.Nop()})
	p2.Start(stream)
	p2.Stop()
	p2.Wait()
	if stopped || stream.Stopped() {
		t.Fatalf("pipeline stop must not stop the stream")
	}
	stream.Stop()
	stream.Stop()
	if !stopped {
		t.Fatalf("stream onStop not called")
	}
	if stream.Push(block(0)) {
		t.Fatalf("Push() after Stop() accepted")
	}
}

func TestPipelineResamplesNonCaptureRate(t *testing.T) {
	gate := &flagGate{}
	gate.on.Store(true)
	sender := &recordingSender{}
	p := NewPipeline(gate, sender, PipelineConfig{Logger: zerolog.Nop()})
	stream := NewFeedStream(48000, 4, nil)
	p.Start(stream)
	stream.Push(make([]float32, 4800))
	waitFor(t, func() bool { return sender.count() == 1 })
	p.Stop()

	raw, _ := audio.DecodeBase64(sender.blobs[0].Data)
	if len(raw) != 1600*2 {
		t.Fatalf("payload bytes = %d, want %d", len(raw), 1600*2)
	}
}

func TestFFmpegInputArgs(t *testing.T) {
	args, err := ffmpegInputArgs("linux", "", 16000)
	if err != nil {
		t.Fatalf("ffmpegInputArgs() error = %v", err)
	}
	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	if joined != "-hide_banner -loglevel error -f pulse -i default -ac 1 -ar 16000 -f f32le - " {
		t.Fatalf("args = %q", joined)
	}
	if _, err := ffmpegInputArgs("plan9", "", 16000); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("error = %v, want ErrUnsupported", err)
	}
}

func TestClassifyFFmpegFailure(t *testing.T) {
	cases := []struct {
		stderr string
		err    error
		want   error
	}{
		{"default: No such file or directory", io.EOF, ErrDeviceNotFound},
		{"", io.ErrUnexpectedEOF, ErrDeviceNotFound},
		{"Permission denied", io.EOF, ErrPermissionDenied},
	}
	for _, tc := range cases {
		if got := classifyFFmpegFailure(tc.err, tc.stderr); !errors.Is(got, tc.want) {
			t.Fatalf("classifyFFmpegFailure(%v, %q) = %v, want %v", tc.err, tc.stderr, got, tc.want)
		}
	}
}

func TestPipelineDiscardsBlocksBufferedBeforeStart(t *testing.T) {
	gate := &flagGate{}
	gate.on.Store(true)
	sender := &recordingSender{}
	stream := NewFeedStream(audio.CaptureSampleRate, 8, nil)
	for i := 0; i < 3; i++ {
		stream.Push(block(0.5))
	}

	p := NewPipeline(gate, sender, PipelineConfig{Logger: zerolog.Nop()})
	p.Start(stream)
	stream.Push(block(0.1))
	waitFor(t, func() bool { return sender.count() == 1 })
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	p.Wait()

	if got := sender.count(); got != 1 {
		t.Fatalf("sent = %d, want 1", got)
	}
}
