package live

import (
	"context"
	"errors"

	"github.com/drhvac/voicedesk/internal/audio"
	"github.com/drhvac/voicedesk/internal/persona"
	"github.com/drhvac/voicedesk/internal/toolcall"
)

var (
	// ErrClosed is returned by Conn.Receive when the remote ends the session cleanly.
	ErrClosed    = errors.New("live session closed")
	ErrNotActive = errors.New("live session not active")
	ErrDial      = errors.New("live session dial failed")
)

// Config is everything a live session is opened with.
type Config struct {
	Model               string
	Persona             persona.ID
	Instruction         string
	Voice               string
	Tools               []toolcall.Declaration
	InputTranscription  bool
	OutputTranscription bool
}

// ConfigFor builds the session config for a persona.
func ConfigFor(model string, p persona.Persona) Config {
	return Config{
		Model:               model,
		Persona:             p.ID,
		Instruction:         p.Instruction,
		Voice:               p.Voice,
		Tools:               toolcall.Manifest(),
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Message is one inbound server message reduced to the parts the desk uses.
type Message struct {
	InputTranscript  string
	OutputTranscript string
	TurnComplete     bool
	Interrupted      bool
	ToolCalls        []FunctionCall
	// Audio holds raw PCM16LE chunks at the playback rate, in arrival order.
	Audio [][]byte
}

// Conn is one dialed realtime session. Implementations need not be safe for
// concurrent sends; Bridge serializes them.
type Conn interface {
	SendAudio(ctx context.Context, blob audio.Blob) error
	SendToolResponse(ctx context.Context, responses []toolcall.Response) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

type Transport interface {
	Name() string
	Dial(ctx context.Context, cfg Config) (Conn, error)
}
