package widget

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/drhvac/voicedesk/internal/audio"
	"github.com/drhvac/voicedesk/internal/playback"
	"github.com/drhvac/voicedesk/internal/protocol"
)

var errOutboundClosed = errors.New("widget outbound closed")

// connClock is the playback clock of one connection: seconds since it opened.
// The browser aligns it with its AudioContext using server_now.
type connClock struct {
	start time.Time
}

func newConnClock() *connClock { return &connClock{start: time.Now()} }

func (c *connClock) Now() float64 { return time.Since(c.start).Seconds() }

// wsOutput turns scheduled buffers into agent_audio messages. The browser
// starts each chunk at start_at on the mapped clock.
type wsOutput struct {
	ctx   context.Context
	clock playback.Clock
	send  func(ctx context.Context, msg any) bool
	seq   atomic.Int64
}

func (o *wsOutput) Start(buf *audio.Buffer, at float64) (playback.Source, error) {
	id := uuid.NewString()
	msg := protocol.AgentAudio{
		Type:        protocol.TypeAgentAudio,
		SourceID:    id,
		Seq:         int(o.seq.Add(1)),
		StartAt:     at,
		Duration:    buf.Duration(),
		ServerNow:   o.clock.Now(),
		SampleRate:  buf.SampleRate,
		PCM16Base64: audio.EncodeBase64(audio.EncodePCM16(buf.Samples)),
	}
	if !o.send(o.ctx, msg) {
		if err := context.Cause(o.ctx); err != nil {
			return nil, err
		}
		return nil, errOutboundClosed
	}
	return &wsSource{id: id, out: o}, nil
}

type wsSource struct {
	id      string
	out     *wsOutput
	stopped atomic.Bool
}

// Stop tells the browser to stop or drop the chunk. Stopping twice is a no-op.
func (s *wsSource) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.out.send(s.out.ctx, protocol.AgentAudioStop{Type: protocol.TypeAgentAudioStop, SourceIDs: []string{s.id}})
	return nil
}
