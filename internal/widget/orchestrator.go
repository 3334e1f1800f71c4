package widget

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/drhvac/voicedesk/internal/agent"
	"github.com/drhvac/voicedesk/internal/audio"
	"github.com/drhvac/voicedesk/internal/leads"
	"github.com/drhvac/voicedesk/internal/live"
	"github.com/drhvac/voicedesk/internal/observability"
	"github.com/drhvac/voicedesk/internal/persona"
	"github.com/drhvac/voicedesk/internal/playback"
	"github.com/drhvac/voicedesk/internal/protocol"
	"github.com/drhvac/voicedesk/internal/session"
	"github.com/drhvac/voicedesk/internal/visual"
)

const leadCaptureTimeout = 10 * time.Second

// LeadSink receives finished calls.
type LeadSink interface {
	Capture(ctx context.Context, lead leads.Lead) (leads.Lead, error)
}

type Config struct {
	Model     string
	Transport live.Transport
	Sessions  *session.Manager
	Leads     LeadSink
	Metrics   *observability.Metrics
	Logger    zerolog.Logger

	SettleDelay    time.Duration
	CaptureQueue   int
	VisualInterval time.Duration
	MicTimeout     time.Duration
}

// Orchestrator runs one agent controller per widget websocket.
type Orchestrator struct {
	cfg Config
}

func New(cfg Config) *Orchestrator {
	if cfg.VisualInterval <= 0 {
		cfg.VisualInterval = 33 * time.Millisecond
	}
	return &Orchestrator{cfg: cfg}
}

// RunConnection drives a widget until inbound closes or ctx ends. Parsed
// client messages arrive on inbound; everything for the browser goes out on
// outbound, which the caller writes to the websocket from a single goroutine.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := o.cfg.Logger.With().Str("session_id", s.ID).Logger()

	send := func(ctx context.Context, msg any) bool {
		select {
		case outbound <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}
	trySend := func(msg any) bool {
		select {
		case outbound <- msg:
			return true
		default:
			return false
		}
	}

	mic := NewRemoteMicrophone(send, func() {
		trySend(protocol.MicRelease{Type: protocol.TypeMicRelease})
	}, o.cfg.MicTimeout, 0)
	defer mic.Close()

	clock := newConnClock()
	scheduler := playback.NewScheduler(clock, &wsOutput{ctx: ctx, clock: clock, send: send})
	analyser := visual.NewAnalyser(0)
	tracker := &sessionTracker{sessions: o.cfg.Sessions, id: s.ID, phase: agent.PhaseIdle}

	var (
		active  atomic.Bool
		leadsWG sync.WaitGroup
	)
	ctrl := agent.NewController(agent.Config{
		Model:        o.cfg.Model,
		Transport:    o.cfg.Transport,
		Microphone:   mic,
		Scheduler:    scheduler,
		SettleDelay:  o.cfg.SettleDelay,
		CaptureQueue: o.cfg.CaptureQueue,
		Tap:          analyser,
		Metrics:      o.cfg.Metrics,
		Logger:       log,
		OnSnapshot: func(snap agent.Snapshot) {
			active.Store(snap.Phase == agent.PhaseActive)
			tracker.observe(snap)
			send(ctx, protocol.SessionState{Type: protocol.TypeSessionState, SessionID: s.ID, State: snap})
		},
		OnCallEnded: func(summary agent.CallSummary) {
			if o.cfg.Sessions != nil {
				_ = o.cfg.Sessions.RecordInterruptions(s.ID, summary.Interruptions)
			}
			if o.cfg.Leads == nil {
				return
			}
			leadsWG.Add(1)
			go func() {
				defer leadsWG.Done()
				o.captureLead(ctx, s.ID, summary, log)
			}()
		},
	})
	go ctrl.Run(ctx)
	go o.streamVisuals(ctx, analyser, &active, trySend)

	log.Info().Str("transport", o.cfg.Transport.Name()).Msg("widget connected")
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-inbound:
			if !ok {
				break loop
			}
			o.handleInbound(ctx, s.ID, msg, ctrl, mic, send, log)
		}
	}

	cancel()
	<-ctrl.Done()
	leadsWG.Wait()
	log.Info().Msg("widget disconnected")
	return nil
}

func (o *Orchestrator) handleInbound(ctx context.Context, sessionID string, msg any, ctrl *agent.Controller, mic *RemoteMicrophone, send func(context.Context, any) bool, log zerolog.Logger) {
	if o.cfg.Sessions != nil {
		_ = o.cfg.Sessions.Touch(sessionID)
	}
	switch m := msg.(type) {
	case protocol.ClientControl:
		var err error
		switch m.Action {
		case protocol.ActionConnect:
			id, perr := persona.Parse(m.Persona)
			if perr != nil {
				send(ctx, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "unknown_persona",
					Source:    "widget",
					Detail:    perr.Error(),
				})
				return
			}
			err = ctrl.Connect(id)
		case protocol.ActionDisconnect:
			err = ctrl.Disconnect()
		case protocol.ActionDismissError:
			err = ctrl.DismissError()
		}
		if err != nil {
			log.Debug().Err(err).Str("action", m.Action).Msg("control not applied")
		}
	case protocol.ClientMicResult:
		if !mic.Resolve(m) {
			log.Debug().Bool("granted", m.Granted).Msg("microphone answer with no pending request")
		}
	case protocol.ClientAudioBlock:
		raw, err := audio.DecodeBase64(m.F32Base64)
		if err == nil {
			var samples []float32
			if samples, err = audio.DecodeFloat32LE(raw); err == nil {
				if !mic.Push(samples) {
					o.cfg.Metrics.CaptureBlock("dropped_no_stream")
				}
				return
			}
		}
		o.cfg.Metrics.CaptureBlock("invalid")
		log.Debug().Err(err).Int("seq", m.Seq).Msg("audio block rejected")
	}
}

// streamVisuals sends analyser frames while a session is active and a single
// flat frame when it stops.
func (o *Orchestrator) streamVisuals(ctx context.Context, a *visual.Analyser, active *atomic.Bool, trySend func(any) bool) {
	ticker := time.NewTicker(o.cfg.VisualInterval)
	defer ticker.Stop()
	wasActive := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !active.Load() {
			if wasActive {
				a.Reset()
				trySend(protocol.VisualFrame{Type: protocol.TypeVisualFrame, Bins: make([]int, a.Bins())})
				wasActive = false
			}
			continue
		}
		wasActive = true
		frame := a.Frame()
		bins := make([]int, len(frame))
		for i, b := range frame {
			bins[i] = int(b)
		}
		trySend(protocol.VisualFrame{Type: protocol.TypeVisualFrame, Bins: bins})
	}
}

// captureLead outlives the connection context so calls ending on disconnect
// are still recorded.
func (o *Orchestrator) captureLead(ctx context.Context, sessionID string, summary agent.CallSummary, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leadCaptureTimeout)
	defer cancel()
	lead, err := o.cfg.Leads.Capture(ctx, leads.FromCall(sessionID, summary))
	switch {
	case errors.Is(err, leads.ErrEmptyCall):
		log.Debug().Str("end_reason", summary.EndReason).Msg("call ended without a lead")
	case err != nil:
		log.Error().Err(err).Msg("lead capture failed")
	default:
		log.Info().Str("lead_id", lead.ID).Str("priority", lead.Priority()).Msg("lead captured")
	}
}

// sessionTracker mirrors controller snapshots into the session registry. It is
// only called from the controller goroutine.
type sessionTracker struct {
	sessions *session.Manager
	id       string
	phase    agent.Phase
	persona  persona.ID
}

func (t *sessionTracker) observe(snap agent.Snapshot) {
	if t.sessions == nil {
		return
	}
	if snap.Phase == agent.PhaseConnecting && !snap.HandingOver && t.phase == agent.PhaseIdle {
		_ = t.sessions.StartCall(t.id, string(snap.Persona))
	}
	if snap.Phase == agent.PhaseActive && snap.Persona != t.persona {
		_ = t.sessions.SetPersona(t.id, string(snap.Persona))
		t.persona = snap.Persona
	}
	if snap.Phase == agent.PhaseIdle {
		t.persona = ""
	}
	t.phase = snap.Phase
}
