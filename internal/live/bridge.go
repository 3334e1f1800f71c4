package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/drhvac/voicedesk/internal/audio"
	"github.com/drhvac/voicedesk/internal/persona"
	"github.com/drhvac/voicedesk/internal/toolcall"
)

type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted from bridge goroutines. Receivers compare Bridge against
// their current bridge to discard events from a superseded session.
type Event struct {
	Bridge  *Bridge
	Kind    EventKind
	Message Message
	Err     error
}

// Bridge owns one realtime session lifecycle. The active flag gates outbound
// audio and is the only state shared with capture and playback goroutines.
type Bridge struct {
	id      string
	persona persona.ID
	emit    func(Event)
	cancel  context.CancelFunc

	active atomic.Bool
	closed atomic.Bool

	mu     sync.Mutex
	conn   Conn
	sendMu sync.Mutex
}

// Open dials asynchronously and returns immediately. emit receives EventOpen
// once the session is usable, then messages until EventClose or EventError.
// No event is emitted after Close.
func Open(ctx context.Context, t Transport, cfg Config, emit func(Event)) *Bridge {
	ctx, cancel := context.WithCancel(ctx)
	b := &Bridge{
		id:      uuid.NewString(),
		persona: cfg.Persona,
		emit:    emit,
		cancel:  cancel,
	}
	go b.run(ctx, t, cfg)
	return b
}

func (b *Bridge) ID() string { return b.id }

func (b *Bridge) Persona() persona.ID { return b.persona }

// Active implements capture.Gate and playback.Gate.
func (b *Bridge) Active() bool { return b != nil && b.active.Load() }

// Deactivate stops outbound audio without closing the transport.
func (b *Bridge) Deactivate() {
	b.active.Store(false)
}

func (b *Bridge) SendAudio(ctx context.Context, blob audio.Blob) error {
	if !b.active.Load() {
		return ErrNotActive
	}
	conn := b.connection()
	if conn == nil {
		return ErrNotActive
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	return conn.SendAudio(ctx, blob)
}

// SendToolResponse is best effort: it still goes out on a deactivated bridge
// as long as the transport has not been closed.
func (b *Bridge) SendToolResponse(ctx context.Context, responses ...toolcall.Response) error {
	if b.closed.Load() {
		return ErrClosed
	}
	conn := b.connection()
	if conn == nil {
		return ErrNotActive
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	return conn.SendToolResponse(ctx, responses)
}

// Close deactivates first, then releases the transport. Idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.active.Store(false)
	if b.closed.Swap(true) {
		b.mu.Unlock()
		return nil
	}
	conn := b.conn
	b.mu.Unlock()
	b.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (b *Bridge) connection() Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

func (b *Bridge) run(ctx context.Context, t Transport, cfg Config) {
	conn, err := t.Dial(ctx, cfg)
	if err != nil {
		if !b.closed.Load() {
			b.emit(Event{Bridge: b, Kind: EventError, Err: fmt.Errorf("%w: %v", ErrDial, err)})
		}
		return
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.conn = conn
	b.active.Store(true)
	b.mu.Unlock()

	b.emit(Event{Bridge: b, Kind: EventOpen})

	for {
		msg, err := conn.Receive(ctx)
		if b.closed.Load() {
			return
		}
		if err != nil {
			b.active.Store(false)
			if errors.Is(err, ErrClosed) {
				b.emit(Event{Bridge: b, Kind: EventClose})
			} else {
				b.emit(Event{Bridge: b, Kind: EventError, Err: err})
			}
			return
		}
		b.emit(Event{Bridge: b, Kind: EventMessage, Message: msg})
	}
}
