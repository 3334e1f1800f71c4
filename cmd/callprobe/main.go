// Command callprobe drives a voice desk widget session from the terminal. It
// answers the server's microphone request with a WAV file or the local
// microphone, prints the live transcript and writes the agent's scheduled
// audio to a WAV file.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drhvac/voicedesk/internal/audio"
	"github.com/drhvac/voicedesk/internal/capture"
	"github.com/drhvac/voicedesk/internal/protocol"
)

type options struct {
	baseURL     string
	visitorID   string
	persona     string
	wavPath     string
	useMic      bool
	outPath     string
	realtime    float64
	tail        time.Duration
	maxDuration time.Duration
	verbose     bool
}

type createSessionResponse struct {
	SessionID     string `json:"session_id"`
	WebsocketPath string `json:"ws_path"`
}

type envelope struct {
	Type string `json:"type"`
}

type stateEnvelope struct {
	State callState `json:"state"`
}

type callState struct {
	Phase      string `json:"phase"`
	Persona    string `json:"persona"`
	Transcript []struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
	} `json:"transcript"`
	Rebate *struct {
		Amount     float64 `json:"amount"`
		SourceType string  `json:"source_type"`
	} `json:"rebate"`
	Emergency *struct {
		Issue         string `json:"issue"`
		GuaranteeTime string `json:"guarantee_time"`
	} `json:"emergency"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "callprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "callprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := flag.NewFlagSet("callprobe", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "voice desk base URL")
	fs.StringVar(&cfg.visitorID, "visitor-id", "callprobe", "visitor_id for the session")
	fs.StringVar(&cfg.persona, "persona", "SARAH", "persona to call (SARAH or MIKE)")
	fs.StringVar(&cfg.wavPath, "wav", "", "PCM16 WAV file streamed as the caller's microphone")
	fs.BoolVar(&cfg.useMic, "mic", false, "capture the local microphone with ffmpeg instead of -wav")
	fs.StringVar(&cfg.outPath, "out", "agent.wav", "where to write the agent's audio (empty to skip)")
	fs.Float64Var(&cfg.realtime, "realtime", 1.0, "WAV pacing multiplier (1.0=realtime)")
	fs.DurationVar(&cfg.tail, "tail", 3*time.Second, "silence streamed after the WAV so the agent can answer")
	fs.DurationVar(&cfg.maxDuration, "max-duration", 2*time.Minute, "hang up after this long")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print transcript and call events")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	switch {
	case cfg.baseURL == "":
		return options{}, fmt.Errorf("base-url is required")
	case cfg.useMic == (cfg.wavPath != ""):
		return options{}, fmt.Errorf("exactly one of -wav or -mic is required")
	case cfg.realtime <= 0:
		return options{}, fmt.Errorf("realtime must be > 0")
	case cfg.maxDuration <= 0:
		return options{}, fmt.Errorf("max-duration must be > 0")
	}
	if cfg.tail < 0 {
		cfg.tail = 0
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.maxDuration)
	defer cancel()

	var wavPCM []byte
	wavRate := 0
	if cfg.wavPath != "" {
		raw, err := os.ReadFile(cfg.wavPath)
		if err != nil {
			return fmt.Errorf("read wav: %w", err)
		}
		if wavPCM, wavRate, err = audio.DecodeWAVMono(raw); err != nil {
			return fmt.Errorf("decode wav: %w", err)
		}
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	created, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, created.SessionID)
	}()

	wsURL, err := wsURLFor(cfg.baseURL, created.WebsocketPath)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	if cfg.verbose {
		fmt.Printf("callprobe: session=%s persona=%s\n", created.SessionID, cfg.persona)
	}

	frames := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			frames <- data
		}
	}()

	if err := send(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionConnect, Persona: cfg.persona}); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	rec := newRecorder(audio.PlaybackSampleRate)
	pumpDone := make(chan struct{}, 1)
	var (
		stream      capture.Stream
		wasActive   bool
		printed     int
		persona     string
		hangingUp   bool
		hangupTimer <-chan time.Time
		callErr     error
	)
	stopStream := func() {
		if stream != nil {
			stream.Stop()
			stream = nil
		}
	}
	defer stopStream()
	hangup := func() {
		if hangingUp {
			return
		}
		hangingUp = true
		_ = send(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionDisconnect})
		hangupTimer = time.After(5 * time.Second)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			if cfg.verbose {
				fmt.Println("callprobe: max duration reached")
			}
			break loop
		case err := <-readErr:
			if !hangingUp {
				return fmt.Errorf("ws read: %w", err)
			}
			break loop
		case <-pumpDone:
			hangup()
		case <-hangupTimer:
			break loop
		case data := <-frames:
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			switch protocol.MessageType(env.Type) {
			case protocol.TypeMicRequest:
				var req protocol.MicRequest
				if err := json.Unmarshal(data, &req); err != nil {
					continue
				}
				stopStream()
				s, err := openSource(ctx, cfg, req, wavPCM, wavRate)
				if err != nil {
					name, msg := micErrorName(err), err.Error()
					_ = send(protocol.ClientMicResult{Type: protocol.TypeClientMicResult, ErrorName: name, ErrorMessage: msg})
					continue
				}
				stream = s
				if err := send(protocol.ClientMicResult{Type: protocol.TypeClientMicResult, Granted: true, SampleRate: s.SampleRate()}); err != nil {
					return fmt.Errorf("send mic result: %w", err)
				}
				go pump(s, send, pumpDone)
			case protocol.TypeMicRelease:
				stopStream()
			case protocol.TypeAgentAudio:
				var msg protocol.AgentAudio
				if err := json.Unmarshal(data, &msg); err == nil {
					if err := rec.place(msg); err != nil && cfg.verbose {
						fmt.Fprintf(os.Stderr, "callprobe: bad agent_audio: %v\n", err)
					}
				}
			case protocol.TypeAgentAudioStop:
				var msg protocol.AgentAudioStop
				if err := json.Unmarshal(data, &msg); err == nil {
					rec.stop(msg.SourceIDs)
				}
			case protocol.TypeErrorEvent:
				var ev protocol.ErrorEvent
				if err := json.Unmarshal(data, &ev); err == nil {
					fmt.Fprintf(os.Stderr, "callprobe: error_event code=%s detail=%s\n", ev.Code, ev.Detail)
				}
			case protocol.TypeSessionState:
				var st stateEnvelope
				if err := json.Unmarshal(data, &st); err != nil {
					continue
				}
				s := st.State
				if s.Persona != "" && s.Persona != persona {
					if persona != "" && cfg.verbose {
						fmt.Printf("callprobe: handed over %s -> %s\n", persona, s.Persona)
					}
					persona = s.Persona
				}
				if len(s.Transcript) < printed {
					printed = 0
				}
				for _, e := range s.Transcript[printed:] {
					if cfg.verbose {
						fmt.Printf("  [%s] %s\n", e.Speaker, e.Text)
					}
				}
				printed = len(s.Transcript)
				if s.Error != nil {
					callErr = fmt.Errorf("call failed (%s): %s", s.Error.Kind, s.Error.Message)
					break loop
				}
				if s.Phase == "active" {
					wasActive = true
				}
				if s.Phase == "idle" && wasActive {
					if cfg.verbose {
						printDisplayState(s)
					}
					break loop
				}
			}
		}
	}

	if cfg.outPath != "" && rec.duration() > 0 {
		wav, err := rec.wav()
		if err != nil {
			return fmt.Errorf("render agent audio: %w", err)
		}
		if err := os.WriteFile(cfg.outPath, wav, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", cfg.outPath, err)
		}
		if cfg.verbose {
			fmt.Printf("callprobe: wrote %.1fs of agent audio to %s\n", rec.duration(), cfg.outPath)
		}
	}
	return callErr
}

func printDisplayState(s callState) {
	if s.Rebate != nil {
		fmt.Printf("callprobe: rebate $%.0f (%s)\n", s.Rebate.Amount, s.Rebate.SourceType)
	}
	if s.Emergency != nil {
		fmt.Printf("callprobe: emergency booked: %s within %s\n", s.Emergency.Issue, s.Emergency.GuaranteeTime)
	}
}

// openSource answers a mic_request. A WAV file is replayed through a
// FeedStream at the requested rate followed by tail silence.
func openSource(ctx context.Context, cfg options, req protocol.MicRequest, wavPCM []byte, wavRate int) (capture.Stream, error) {
	c := capture.Constraints{
		SampleRate:       req.SampleRate,
		Channels:         req.Channels,
		BlockSize:        req.BlockSize,
		EchoCancellation: req.EchoCancellation,
		NoiseSuppression: req.NoiseSuppression,
	}
	if c.SampleRate <= 0 {
		c = capture.DefaultConstraints()
	}
	if cfg.useMic {
		return capture.NewFFmpegMicrophone().Acquire(ctx, c)
	}
	buf, err := audio.DecodePCM16(wavPCM, wavRate, 1)
	if err != nil {
		return nil, err
	}
	samples := audio.Resample(buf.Samples, wavRate, c.SampleRate)
	samples = append(samples, make([]float32, int(cfg.tail.Seconds()*float64(c.SampleRate)))...)
	return replayWAV(samples, c.SampleRate, c.BlockSize, cfg.realtime), nil
}

func replayWAV(samples []float32, rate, blockSize int, realtime float64) capture.Stream {
	if blockSize <= 0 {
		blockSize = audio.CaptureBlockSize
	}
	done := make(chan struct{})
	var once sync.Once
	stream := capture.NewFeedStream(rate, 4, func() { once.Do(func() { close(done) }) })
	interval := time.Duration(float64(blockSize) / float64(rate) / realtime * float64(time.Second))
	go func() {
		defer stream.Stop()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for off := 0; off < len(samples); off += blockSize {
			end := min(off+blockSize, len(samples))
			block := make([]float32, blockSize)
			copy(block, samples[off:end])
			for !stream.Push(block) {
				select {
				case <-done:
					return
				case <-time.After(5 * time.Millisecond):
				}
			}
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()
	return stream
}

// pump forwards captured blocks until the stream ends.
func pump(s capture.Stream, send func(any) error, done chan<- struct{}) {
	seq := 0
	for block := range s.Blocks() {
		seq++
		msg := protocol.ClientAudioBlock{
			Type:       protocol.TypeClientAudioBlock,
			Seq:        seq,
			F32Base64:  audio.EncodeBase64(audio.EncodeFloat32LE(block)),
			SampleRate: s.SampleRate(),
		}
		if err := send(msg); err != nil {
			break
		}
	}
	select {
	case done <- struct{}{}:
	default:
	}
}

func micErrorName(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "NotAllowedError"
	case errors.Is(err, capture.ErrDeviceNotFound):
		return "NotFoundError"
	case errors.Is(err, capture.ErrUnsupported):
		return "NotSupportedError"
	default:
		return "NotReadableError"
	}
}

func createSession(ctx context.Context, client *http.Client, cfg options) (createSessionResponse, error) {
	payload, err := json.Marshal(map[string]string{"visitor_id": cfg.visitorID, "persona_id": cfg.persona})
	if err != nil {
		return createSessionResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/widget/session", bytes.NewReader(payload))
	if err != nil {
		return createSessionResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return createSessionResponse{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return createSessionResponse{}, err
	}
	if res.StatusCode != http.StatusCreated {
		return createSessionResponse{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return createSessionResponse{}, err
	}
	if out.SessionID == "" || out.WebsocketPath == "" {
		return createSessionResponse{}, fmt.Errorf("incomplete create response: %s", strings.TrimSpace(string(body)))
	}
	return out, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/widget/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLFor(baseURL, wsPath string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	ref, err := url.Parse(wsPath)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + ref.Path
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}
