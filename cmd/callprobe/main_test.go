package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/drhvac/voicedesk/internal/audio"
	"github.com/drhvac/voicedesk/internal/capture"
	"github.com/drhvac/voicedesk/internal/protocol"
)

func TestParseFlagsRequiresOneSource(t *testing.T) {
	if _, err := parseFlags(nil); err == nil {
		t.Fatalf("parseFlags() without -wav or -mic succeeded")
	}
	if _, err := parseFlags([]string{"-wav", "a.wav", "-mic"}); err == nil {
		t.Fatalf("parseFlags() with both sources succeeded")
	}
	cfg, err := parseFlags([]string{"-wav", "a.wav", "-persona", "MIKE", "-base-url", "http://host:8080/"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.baseURL != "http://host:8080" || cfg.persona != "MIKE" {
		t.Fatalf("unexpected options: %+v", cfg)
	}
}

func TestWSURLFor(t *testing.T) {
	got, err := wsURLFor("https://desk.example.com/base", "/v1/widget/session/ws?session_id=abc")
	if err != nil {
		t.Fatalf("wsURLFor() error = %v", err)
	}
	if want := "wss://desk.example.com/base/v1/widget/session/ws?session_id=abc"; got != want {
		t.Fatalf("wsURLFor() = %q, want %q", got, want)
	}
	if _, err := wsURLFor("ftp://x", "/ws"); err == nil {
		t.Fatalf("wsURLFor() accepted ftp scheme")
	}
}

func chunk(id string, at float64, samples int) protocol.AgentAudio {
	return protocol.AgentAudio{
		Type:        protocol.TypeAgentAudio,
		SourceID:    id,
		StartAt:     at,
		SampleRate:  audio.PlaybackSampleRate,
		PCM16Base64: audio.EncodeBase64(make([]byte, samples*2)),
	}
}

func TestRecorderPlacesChunksOnServerClock(t *testing.T) {
	rec := newRecorder(audio.PlaybackSampleRate)
	if err := rec.place(chunk("a", 1.0, 2400)); err != nil {
		t.Fatalf("place() error = %v", err)
	}
	if err := rec.place(chunk("b", 1.1, 2400)); err != nil {
		t.Fatalf("place() error = %v", err)
	}
	if got := rec.duration(); got < 1.199 || got > 1.201 {
		t.Fatalf("duration() = %v, want 1.2", got)
	}
}

func TestRecorderStopTruncatesQueuedChunks(t *testing.T) {
	base := time.Unix(100, 0)
	now := base
	rec := newRecorder(audio.PlaybackSampleRate)
	rec.now = func() time.Time { return now }
	rec.started = base

	first := chunk("a", 0.5, 2400)
	first.ServerNow = 0.5
	_ = rec.place(first)
	_ = rec.place(chunk("b", 0.6, 2400))
	_ = rec.place(chunk("c", 0.7, 2400))

	// 20ms into chunk a, both queued chunks are dropped.
	now = base.Add(20 * time.Millisecond)
	rec.stop([]string{"a", "b", "c"})
	if got := rec.duration(); got < 0.519 || got > 0.521 {
		t.Fatalf("duration() after stop = %v, want 0.52", got)
	}

	rec.stop([]string{"unknown"})
	if got := rec.duration(); got < 0.519 || got > 0.521 {
		t.Fatalf("unknown stop changed duration to %v", got)
	}
}

func TestReplayWAVStreamsPaddedBlocks(t *testing.T) {
	samples := make([]float32, 10)
	for i := range samples {
		samples[i] = 0.25
	}
	stream := replayWAV(samples, 16000, 4, 1000)
	var blocks [][]float32
	for b := range stream.Blocks() {
		blocks = append(blocks, b)
	}
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(blocks))
	}
	last := blocks[2]
	if len(last) != 4 || last[1] != 0.25 || last[2] != 0 {
		t.Fatalf("last block = %v, want zero padded", last)
	}
}

func TestMicErrorName(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{capture.ErrPermissionDenied, "NotAllowedError"},
		{capture.ErrDeviceNotFound, "NotFoundError"},
		{fmt.Errorf("wrap: %w", capture.ErrUnsupported), "NotSupportedError"},
		{fmt.Errorf("ffmpeg exited: %s", "device busy"), "NotReadableError"},
	}
	for _, tc := range cases {
		if got := micErrorName(tc.err); got != tc.want {
			t.Fatalf("micErrorName(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
