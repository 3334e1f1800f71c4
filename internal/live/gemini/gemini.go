// Package gemini implements live.Transport on the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/drhvac/voicedesk/internal/audio"
	"github.com/drhvac/voicedesk/internal/live"
	"github.com/drhvac/voicedesk/internal/toolcall"
)

const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

type Transport struct {
	apiKey string

	mu     sync.Mutex
	client *genai.Client
}

func New(apiKey string) (*Transport, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	return &Transport{apiKey: apiKey}, nil
}

func (t *Transport) Name() string { return "gemini" }

func (t *Transport) genaiClient(ctx context.Context) (*genai.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  t.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	t.client = client
	return client, nil
}

func (t *Transport) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	client, err := t.genaiClient(ctx)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	session, err := client.Live.Connect(ctx, model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", model, err)
	}
	return &conn{session: session}, nil
}

func connectConfig(cfg live.Config) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: cfg.Instruction}},
		},
		Tools: []*genai.Tool{{FunctionDeclarations: functionDeclarations(cfg.Tools)}},
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.InputTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

func functionDeclarations(decls []toolcall.Declaration) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		props := make(map[string]*genai.Schema, len(d.Params))
		for _, p := range d.Params {
			props[p.Name] = &genai.Schema{
				Type:        schemaType(p.Type),
				Description: p.Description,
				Enum:        p.Enum,
			}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name: d.Name,
			Parameters: &genai.Schema{
				Type:        genai.TypeObject,
				Description: d.Description,
				Properties:  props,
				Required:    d.Required,
			},
		})
	}
	return out
}

func schemaType(t toolcall.ParamType) genai.Type {
	switch t {
	case toolcall.TypeNumber:
		return genai.TypeNumber
	default:
		return genai.TypeString
	}
}

type conn struct {
	session *genai.Session
}

func (c *conn) SendAudio(_ context.Context, blob audio.Blob) error {
	data, err := audio.DecodeBase64(blob.Data)
	if err != nil {
		return err
	}
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: blob.MIMEType, Data: data},
	})
}

func (c *conn) SendToolResponse(_ context.Context, responses []toolcall.Response) error {
	fr := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		fr = append(fr, &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Result})
	}
	return c.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: fr})
}

// Receive blocks until the next server message. Closing the session unblocks it.
func (c *conn) Receive(_ context.Context) (live.Message, error) {
	for {
		msg, err := c.session.Receive()
		if err != nil {
			return live.Message{}, classifyReceiveError(err)
		}
		if out, ok := fromServerMessage(msg); ok {
			return out, nil
		}
	}
}

func (c *conn) Close() error {
	return c.session.Close()
}

func classifyReceiveError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return fmt.Errorf("%w: %s", live.ErrClosed, ce.Text)
		}
	}
	return err
}

// fromServerMessage reduces a server message to the desk's view. Messages with
// nothing the desk uses (setup acks, usage) report ok=false.
func fromServerMessage(msg *genai.LiveServerMessage) (live.Message, bool) {
	if msg == nil {
		return live.Message{}, false
	}
	var out live.Message
	useful := false
	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			out.InputTranscript = sc.InputTranscription.Text
			useful = true
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			out.OutputTranscript = sc.OutputTranscription.Text
			useful = true
		}
		if sc.TurnComplete {
			out.TurnComplete = true
			useful = true
		}
		if sc.Interrupted {
			out.Interrupted = true
			useful = true
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				if mt := part.InlineData.MIMEType; mt != "" && !strings.HasPrefix(mt, "audio/") {
					continue
				}
				out.Audio = append(out.Audio, part.InlineData.Data)
				useful = true
			}
		}
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, live.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
			useful = true
		}
	}
	return out, useful
}
