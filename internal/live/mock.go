package live

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/drhvac/voicedesk/internal/audio"
	"github.com/drhvac/voicedesk/internal/persona"
	"github.com/drhvac/voicedesk/internal/toolcall"
)

// MockTransport stands in for the hosted model during local development. It
// greets on open and answers with a short tone after every ReplyEvery blocks.
type MockTransport struct {
	ReplyEvery  int
	ToneSeconds float64
}

func NewMockTransport() *MockTransport {
	return &MockTransport{ReplyEvery: 16, ToneSeconds: 0.6}
}

func (t *MockTransport) Name() string { return "mock" }

func (t *MockTransport) Dial(ctx context.Context, cfg Config) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	every := t.ReplyEvery
	if every <= 0 {
		every = 16
	}
	c := &mockConn{
		cfg:   cfg,
		every: every,
		tone:  toneChunks(t.ToneSeconds),
		inbox: make(chan Message, 64),
		done:  make(chan struct{}),
	}
	name := string(cfg.Persona)
	if p, ok := persona.Lookup(cfg.Persona); ok {
		name = p.Name
	}
	c.push(Message{OutputTranscript: fmt.Sprintf("Thanks for calling Dr. HVAC, this is %s. How can I help?", name), Audio: c.tone})
	c.push(Message{TurnComplete: true})
	return c, nil
}

type mockConn struct {
	cfg    Config
	every  int
	tone   [][]byte
	inbox  chan Message
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	blocks int
}

func (c *mockConn) push(m Message) {
	select {
	case c.inbox <- m:
	default:
	}
}

func (c *mockConn) SendAudio(_ context.Context, blob audio.Blob) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	c.blocks++
	reply := c.blocks%c.every == 0
	c.mu.Unlock()
	if reply {
		c.push(Message{InputTranscript: "(caller audio)"})
		c.push(Message{OutputTranscript: "Got it, let me look into that for you.", Audio: c.tone})
		c.push(Message{TurnComplete: true})
	}
	return nil
}

func (c *mockConn) SendToolResponse(_ context.Context, _ []toolcall.Response) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
		return nil
	}
}

func (c *mockConn) Receive(ctx context.Context) (Message, error) {
	select {
	case m := <-c.inbox:
		return m, nil
	case <-c.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *mockConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func toneChunks(seconds float64) [][]byte {
	if seconds <= 0 {
		seconds = 0.6
	}
	const chunkSeconds = 0.1
	rate := float64(audio.PlaybackSampleRate)
	total := int(seconds * rate)
	per := int(chunkSeconds * rate)
	samples := make([]float32, total)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	var chunks [][]byte
	for off := 0; off < total; off += per {
		end := off + per
		if end > total {
			end = total
		}
		chunks = append(chunks, audio.EncodePCM16(samples[off:end]))
	}
	return chunks
}
