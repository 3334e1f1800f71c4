package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl    MessageType = "client_control"
	TypeClientMicResult  MessageType = "client_mic_result"
	TypeClientAudioBlock MessageType = "client_audio_block"

	TypeSessionState   MessageType = "session_state"
	TypeMicRequest     MessageType = "mic_request"
	TypeMicRelease     MessageType = "mic_release"
	TypeAgentAudio     MessageType = "agent_audio"
	TypeAgentAudioStop MessageType = "agent_audio_stop"
	TypeVisualFrame    MessageType = "visual_frame"
	TypeErrorEvent     MessageType = "error_event"
)

// Control actions carried by client_control.
const (
	ActionConnect      = "connect"
	ActionDisconnect   = "disconnect"
	ActionDismissError = "dismiss_error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type    MessageType `json:"type"`
	Action  string      `json:"action"`
	Persona string      `json:"persona,omitempty"`
}

// ClientMicResult answers a mic_request. ErrorName is the browser's
// DOMException name when Granted is false.
type ClientMicResult struct {
	Type         MessageType `json:"type"`
	Granted      bool        `json:"granted"`
	ErrorName    string      `json:"error_name,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	SampleRate   int         `json:"sample_rate,omitempty"`
}

type ClientAudioBlock struct {
	Type       MessageType `json:"type"`
	Seq        int         `json:"seq"`
	F32Base64  string      `json:"f32_base64"`
	SampleRate int         `json:"sample_rate"`
}

type SessionState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     any         `json:"state"`
}

type MicRequest struct {
	Type             MessageType `json:"type"`
	SampleRate       int         `json:"sample_rate"`
	Channels         int         `json:"channels"`
	BlockSize        int         `json:"block_size"`
	EchoCancellation bool        `json:"echo_cancellation"`
	NoiseSuppression bool        `json:"noise_suppression"`
}

type MicRelease struct {
	Type MessageType `json:"type"`
}

// AgentAudio asks the client to start a PCM16 chunk at StartAt seconds on the
// connection clock. ServerNow lets the client map that clock onto its own.
type AgentAudio struct {
	Type        MessageType `json:"type"`
	SourceID    string      `json:"source_id"`
	Seq         int         `json:"seq"`
	StartAt     float64     `json:"start_at"`
	Duration    float64     `json:"duration"`
	ServerNow   float64     `json:"server_now"`
	SampleRate  int         `json:"sample_rate"`
	PCM16Base64 string      `json:"pcm16_base64"`
}

type AgentAudioStop struct {
	Type      MessageType `json:"type"`
	SourceIDs []string    `json:"source_ids"`
}

type VisualFrame struct {
	Type MessageType `json:"type"`
	Bins []int       `json:"bins"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioBlock:
		var msg ClientAudioBlock
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.F32Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_block")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.TrimSpace(msg.Action)
		switch msg.Action {
		case ActionConnect:
			if strings.TrimSpace(msg.Persona) == "" {
				return nil, errors.New("invalid client_control: connect requires persona")
			}
		case ActionDisconnect, ActionDismissError:
		default:
			return nil, fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
		}
		return msg, nil
	case TypeClientMicResult:
		var msg ClientMicResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Granted && msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_mic_result: granted without sample_rate")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
