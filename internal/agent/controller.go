package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/drhvac/voicedesk/internal/capture"
	"github.com/drhvac/voicedesk/internal/live"
	"github.com/drhvac/voicedesk/internal/observability"
	"github.com/drhvac/voicedesk/internal/persona"
	"github.com/drhvac/voicedesk/internal/playback"
	"github.com/drhvac/voicedesk/internal/toolcall"
	"github.com/drhvac/voicedesk/internal/transcript"
)

type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseConnecting     Phase = "connecting"
	PhaseActive         Phase = "active"
	PhaseHandoffPending Phase = "handoff_pending"
)

const DefaultSettleDelay = 800 * time.Millisecond

var ErrStopped = errors.New("controller stopped")

type Rebate struct {
	Amount     float64 `json:"amount"`
	SourceType string  `json:"source_type"`
}

type EmergencyBooking struct {
	Issue         string `json:"issue"`
	GuaranteeTime string `json:"guarantee_time"`
}

// Snapshot is the full widget state after a change.
type Snapshot struct {
	Phase         Phase              `json:"phase"`
	Persona       persona.ID         `json:"persona,omitempty"`
	HandoffTarget persona.ID         `json:"handoff_target,omitempty"`
	Connected     bool               `json:"connected"`
	HandingOver   bool               `json:"handing_over"`
	Transcript    []transcript.Entry `json:"transcript"`
	PartialInput  string             `json:"partial_input,omitempty"`
	PartialOutput string             `json:"partial_output,omitempty"`
	Rebate        *Rebate            `json:"rebate,omitempty"`
	Emergency     *EmergencyBooking  `json:"emergency,omitempty"`
	Error         *UIError           `json:"error,omitempty"`
}

// CallSummary describes one call from fresh connect to its end.
type CallSummary struct {
	Personas      []persona.ID
	Transcript    []transcript.Entry
	Rebate        *Rebate
	Emergency     *EmergencyBooking
	Handoffs      int
	Interruptions int
	EndReason     string
	StartedAt     time.Time
	EndedAt       time.Time
}

const (
	EndUserDisconnect = "user_disconnect"
	EndRemoteClose    = "remote_close"
	EndShutdown       = "shutdown"
)

type Config struct {
	Model       string
	Transport   live.Transport
	Microphone  capture.Microphone
	Scheduler   *playback.Scheduler
	Constraints capture.Constraints
	// SettleDelay separates teardown of the old session from the handoff dial.
	SettleDelay  time.Duration
	CaptureQueue int
	Tap          capture.Tap
	Metrics      *observability.Metrics
	Logger       zerolog.Logger

	OnSnapshot  func(Snapshot)
	OnCallEnded func(CallSummary)

	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

type commandKind int

const (
	cmdConnect commandKind = iota + 1
	cmdDisconnect
	cmdDismissError
	cmdSnapshot
)

type command struct {
	kind    commandKind
	persona persona.ID
	reply   chan Snapshot
}

type micResult struct {
	gen    int
	stream capture.Stream
	err    error
}

type callState struct {
	startedAt     time.Time
	personas      []persona.ID
	handoffs      int
	interruptions int
	opened        bool
}

// Controller is the per-connection handoff state machine. All state below the
// channels is owned by the Run goroutine.
type Controller struct {
	cfg  Config
	log  zerolog.Logger
	cmds chan command
	evts chan live.Event
	mics chan micResult
	done chan struct{}
	once sync.Once
	ctx  context.Context

	phase       Phase
	active      persona.ID
	target      persona.ID
	reason      string
	handingOver bool
	bridge      *live.Bridge
	bridgeOpen  bool
	pipeline    *capture.Pipeline
	stream      capture.Stream
	gen         int
	micCancel   context.CancelFunc
	settle      <-chan time.Time

	transcript transcript.Transcript
	rebate     *Rebate
	emergency  *EmergencyBooking
	uiErr      *UIError
	call       *callState

	dialStarted    time.Time
	handoffStarted time.Time
	openedAt       time.Time
	awaitingAudio  bool
	dirty          bool
}

func NewController(cfg Config) *Controller {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	if cfg.Constraints == (capture.Constraints{}) {
		cfg.Constraints = capture.DefaultConstraints()
	}
	return &Controller{
		cfg:   cfg,
		log:   cfg.Logger,
		cmds:  make(chan command, 8),
		evts:  make(chan live.Event, 64),
		mics:  make(chan micResult, 1),
		done:  make(chan struct{}),
		phase: PhaseIdle,
	}
}

// Connect starts a fresh call with the given persona.
func (c *Controller) Connect(id persona.ID) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %q", persona.ErrUnknownPersona, id)
	}
	return c.post(command{kind: cmdConnect, persona: id})
}

// Disconnect ends the call and releases the microphone.
func (c *Controller) Disconnect() error {
	return c.post(command{kind: cmdDisconnect})
}

// DismissError clears the error banner and returns to a clean idle state.
func (c *Controller) DismissError() error {
	return c.post(command{kind: cmdDismissError})
}

// Snapshot returns the current state from the loop goroutine.
func (c *Controller) Snapshot() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := c.post(command{kind: cmdSnapshot, reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return Snapshot{}, ErrStopped
	}
}

func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) post(cmd command) error {
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return ErrStopped
	}
}

// Run processes commands and session events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	c.ctx = ctx
	defer c.once.Do(func() { close(c.done) })
	c.publish()
	for {
		select {
		case <-ctx.Done():
			c.teardown(true)
			c.endCall(EndShutdown)
			return
		case cmd := <-c.cmds:
			c.handleCommand(cmd)
		case ev := <-c.evts:
			c.handleEvent(ev)
		case res := <-c.mics:
			c.handleMic(res)
		case <-c.settle:
			c.settle = nil
			c.handleSettle()
		}
		if c.dirty {
			c.publish()
		}
	}
}

func (c *Controller) emit(ev live.Event) {
	select {
	case c.evts <- ev:
	case <-c.done:
	}
}

func (c *Controller) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdConnect:
		if c.phase != PhaseIdle {
			c.log.Debug().Str("phase", string(c.phase)).Msg("connect ignored; call in progress")
			return
		}
		c.connect(cmd.persona, false, "")
	case cmdDisconnect:
		if c.phase == PhaseIdle && c.stream == nil {
			return
		}
		c.teardown(true)
		c.endCall(EndUserDisconnect)
		c.toIdle()
		c.cfg.Metrics.SessionEvent("user_disconnect")
	case cmdDismissError:
		if c.uiErr == nil {
			return
		}
		c.uiErr = nil
		c.toIdle()
	case cmdSnapshot:
		cmd.reply <- c.snapshot()
	}
}

func (c *Controller) connect(id persona.ID, handover bool, reason string) {
	p, ok := persona.Lookup(id)
	if !ok {
		return
	}
	c.uiErr = nil
	c.handingOver = handover
	if handover {
		text := fmt.Sprintf("Handing over to %s...", p.Name)
		if reason != "" {
			text += " Reason: " + reason
		}
		c.transcript.System(text, c.cfg.Now())
	} else {
		c.transcript.Clear()
		c.rebate = nil
		c.emergency = nil
		c.call = &callState{startedAt: c.cfg.Now()}
		c.cfg.Metrics.SessionEvent("connect")
	}
	c.phase = PhaseConnecting
	c.active = id
	c.target = ""
	c.dirty = true

	if c.stream != nil {
		c.dial()
		return
	}

	c.gen++
	gen := c.gen
	mic := c.cfg.Microphone
	constraints := c.cfg.Constraints
	ctx, cancel := context.WithCancel(c.ctx)
	c.micCancel = cancel
	started := time.Now()
	go func() {
		stream, err := mic.Acquire(ctx, constraints)
		cancel()
		c.cfg.Metrics.ObserveStage(observability.StageMicGrant, time.Since(started))
		select {
		case c.mics <- micResult{gen: gen, stream: stream, err: err}:
		case <-c.done:
			if stream != nil {
				stream.Stop()
			}
		}
	}()
}

func (c *Controller) handleMic(res micResult) {
	if res.gen == c.gen {
		c.micCancel = nil
	}
	if res.gen != c.gen || c.phase != PhaseConnecting || c.stream != nil {
		if res.stream != nil {
			res.stream.Stop()
		}
		return
	}
	if res.err != nil {
		c.log.Warn().Err(res.err).Str("persona", string(c.active)).Msg("microphone acquisition failed")
		c.fail(KindOf(res.err), "")
		return
	}
	c.stream = res.stream
	c.dial()
}

func (c *Controller) dial() {
	p, _ := persona.Lookup(c.active)
	c.cfg.Scheduler.Reset()
	c.dialStarted = c.cfg.Now()
	c.bridgeOpen = false
	c.bridge = live.Open(c.ctx, c.cfg.Transport, live.ConfigFor(c.cfg.Model, p), c.emit)
	c.log.Info().Str("persona", string(p.ID)).Str("bridge_id", c.bridge.ID()).Bool("handover", c.handingOver).Msg("dialing live session")
}

func (c *Controller) handleEvent(ev live.Event) {
	if ev.Bridge != c.bridge || c.bridge == nil {
		// superseded session: make sure it goes away and never touches state
		if ev.Kind == live.EventOpen || ev.Kind == live.EventMessage {
			_ = ev.Bridge.Close()
		}
		return
	}
	switch ev.Kind {
	case live.EventOpen:
		c.onOpen()
	case live.EventMessage:
		c.onMessage(ev.Bridge, ev.Message)
	case live.EventClose:
		c.log.Info().Str("bridge_id", ev.Bridge.ID()).Str("persona", string(ev.Bridge.Persona())).Msg("live session closed by remote")
		c.failWith(KindConnectionFailed, MsgConnectionLost, EndRemoteClose)
	case live.EventError:
		c.log.Warn().Err(ev.Err).Str("bridge_id", ev.Bridge.ID()).Str("persona", string(ev.Bridge.Persona())).Msg("live session error")
		if errors.Is(ev.Err, live.ErrDial) {
			c.fail(KindConnectionFailed, MsgSessionStartFailed)
			return
		}
		c.fail(KindConnectionFailed, MsgConnectionLost)
	}
}

func (c *Controller) onOpen() {
	now := c.cfg.Now()
	c.phase = PhaseActive
	c.handingOver = false
	c.bridgeOpen = true
	c.openedAt = now
	c.awaitingAudio = true
	c.dirty = true

	c.pipeline = capture.NewPipeline(c.bridge, c.bridge, capture.PipelineConfig{
		QueueSize: c.cfg.CaptureQueue,
		Tap:       c.cfg.Tap,
		Metrics:   c.cfg.Metrics,
		Logger:    c.log,
	})
	c.pipeline.Start(c.stream)

	if c.call != nil {
		c.call.opened = true
		c.call.personas = append(c.call.personas, c.active)
	}
	c.cfg.Metrics.SessionOpened()
	c.cfg.Metrics.ObserveConnectLatency(now.Sub(c.dialStarted))
	if !c.handoffStarted.IsZero() {
		c.cfg.Metrics.ObserveStage(observability.StageHandoffGap, now.Sub(c.handoffStarted))
		c.handoffStarted = time.Time{}
	}
	c.log.Info().Str("persona", string(c.active)).Str("bridge_id", c.bridge.ID()).Msg("live session open")
}

// onMessage applies one server message: transcripts, turn completion, tool
// calls, audio, then interruption.
func (c *Controller) onMessage(b *live.Bridge, msg live.Message) {
	if msg.InputTranscript != "" {
		c.transcript.AddInput(msg.InputTranscript)
		c.dirty = true
	}
	if msg.OutputTranscript != "" {
		c.transcript.AddOutput(msg.OutputTranscript)
		c.dirty = true
	}
	if msg.TurnComplete {
		c.transcript.CompleteTurn(c.cfg.Now())
		c.dirty = true
	}
	var switchTo *toolcall.SwitchAgent
	for _, fc := range msg.ToolCalls {
		if sw := c.dispatch(b, toolcall.Parse(fc.ID, fc.Name, fc.Args)); sw != nil && switchTo == nil {
			switchTo = sw
			// no more caller audio to the outgoing persona; acks still go out
			b.Deactivate()
		}
	}
	// every call in the message is acknowledged before the old session goes away
	if switchTo != nil {
		c.handoff(switchTo.Target, switchTo.Reason)
	}
	for _, chunk := range msg.Audio {
		if _, err := c.cfg.Scheduler.Schedule(b, chunk); err != nil {
			if errors.Is(err, playback.ErrInactive) {
				c.cfg.Metrics.PlaybackChunk("dropped_inactive")
				continue
			}
			c.cfg.Metrics.PlaybackChunk("failed")
			c.log.Warn().Err(err).Msg("agent audio not scheduled")
			continue
		}
		c.cfg.Metrics.PlaybackChunk("scheduled")
		if c.awaitingAudio {
			c.awaitingAudio = false
			c.cfg.Metrics.ObserveFirstAudioLatency(c.cfg.Now().Sub(c.openedAt))
		}
	}
	if msg.Interrupted && b == c.bridge {
		stopped := c.cfg.Scheduler.Interrupt()
		c.cfg.Metrics.Interruption()
		if c.call != nil {
			c.call.interruptions++
		}
		c.log.Debug().Int("stopped_sources", stopped).Msg("agent playback interrupted")
	}
}

// dispatch applies a tool call and acknowledges it on the bridge it arrived on.
// A switch that should tear down the session is returned for the caller to run.
func (c *Controller) dispatch(b *live.Bridge, call toolcall.Call) *toolcall.SwitchAgent {
	c.cfg.Metrics.ToolCall(call.ToolName())
	switch tc := call.(type) {
	case toolcall.RebateUpdate:
		c.rebate = &Rebate{Amount: tc.Amount, SourceType: tc.SourceType}
		c.dirty = true
		c.ack(b, toolcall.Ack(tc, toolcall.ResultOK))
	case toolcall.EmergencyBooking:
		c.emergency = &EmergencyBooking{Issue: tc.Issue, GuaranteeTime: tc.GuaranteeTime}
		c.dirty = true
		c.ack(b, toolcall.Ack(tc, toolcall.ResultOK))
	case toolcall.SwitchAgent:
		c.ack(b, toolcall.Ack(tc, toolcall.ResultTransferInitiated))
		switch {
		case tc.Target == "":
			c.log.Warn().Str("target", tc.Raw).Msg("switchAgent to unknown persona ignored")
		case tc.Target == c.active:
			c.log.Debug().Str("target", string(tc.Target)).Msg("switchAgent to active persona ignored")
		case b != c.bridge || c.phase != PhaseActive:
			c.log.Debug().Str("phase", string(c.phase)).Msg("switchAgent outside an active session ignored")
		default:
			return &tc
		}
	case toolcall.Unknown:
		reason := "unknown tool"
		if tc.Err != nil {
			reason = tc.Err.Error()
		}
		c.log.Warn().Str("tool", tc.Name).Str("reason", reason).Msg("tool call not handled")
		c.ack(b, toolcall.Reject(tc, reason))
	}
	return nil
}

func (c *Controller) ack(b *live.Bridge, resp toolcall.Response) {
	if err := b.SendToolResponse(c.ctx, resp); err != nil {
		c.log.Warn().Err(err).Str("tool", resp.Name).Str("call_id", resp.ID).Msg("tool response not delivered")
	}
}

func (c *Controller) handoff(target persona.ID, reason string) {
	from := c.active
	fromP, _ := persona.Lookup(from)
	toP, _ := persona.Lookup(target)

	c.closeBridge()
	if c.pipeline != nil {
		c.pipeline.Stop()
		c.pipeline = nil
	}
	c.cfg.Scheduler.Interrupt()

	now := c.cfg.Now()
	c.transcript.CompleteTurn(now)
	text := fmt.Sprintf("%s is transferring you to %s", fromP.Name, toP.Name)
	if reason != "" {
		text += ": " + reason
	}
	c.transcript.System(text, now)

	c.phase = PhaseHandoffPending
	c.target = target
	c.reason = reason
	c.handingOver = true
	c.handoffStarted = now
	c.dirty = true
	if c.call != nil {
		c.call.handoffs++
	}
	c.cfg.Metrics.Handoff(string(from), string(target))
	c.log.Info().Str("from", string(from)).Str("to", string(target)).Str("reason", reason).Msg("handoff started")

	c.settle = c.cfg.After(c.cfg.SettleDelay)
}

func (c *Controller) handleSettle() {
	if c.phase != PhaseHandoffPending {
		return
	}
	target, reason := c.target, c.reason
	c.reason = ""
	c.connect(target, true, reason)
}

func (c *Controller) closeBridge() {
	if c.bridge == nil {
		return
	}
	_ = c.bridge.Close()
	if c.bridgeOpen {
		c.cfg.Metrics.SessionClosed()
	}
	c.bridge = nil
	c.bridgeOpen = false
}

// teardown releases the session, capture and playback. The microphone stream
// is released only when releaseStream is set.
func (c *Controller) teardown(releaseStream bool) {
	c.closeBridge()
	if c.pipeline != nil {
		c.pipeline.Stop()
		c.pipeline = nil
	}
	c.cfg.Scheduler.Interrupt()
	if releaseStream && c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}
	// abandon a pending permission prompt
	if c.micCancel != nil {
		c.micCancel()
		c.micCancel = nil
	}
	c.gen++
	c.settle = nil
	c.handoffStarted = time.Time{}
	c.dirty = true
}

func (c *Controller) fail(kind Kind, message string) {
	c.failWith(kind, message, "error:"+string(kind))
}

// failWith tears everything down, including the microphone, and lands in idle
// with the error banner set. Nothing is retried.
func (c *Controller) failWith(kind Kind, message, endReason string) {
	c.teardown(true)
	c.uiErr = newUIError(kind, message)
	c.cfg.Metrics.Error(string(kind))
	c.endCall(endReason)
	c.toIdle()
}

func (c *Controller) toIdle() {
	c.phase = PhaseIdle
	c.active = ""
	c.target = ""
	c.reason = ""
	c.handingOver = false
	c.dirty = true
}

func (c *Controller) endCall(reason string) {
	call := c.call
	c.call = nil
	if call == nil || !call.opened || c.cfg.OnCallEnded == nil {
		return
	}
	c.transcript.CompleteTurn(c.cfg.Now())
	c.log.Debug().
		Str("end_reason", reason).
		Int("transcript_entries", c.transcript.Len()).
		Str("transcript", c.transcript.Text()).
		Msg("call ended")
	c.cfg.OnCallEnded(CallSummary{
		Personas:      append([]persona.ID(nil), call.personas...),
		Transcript:    c.transcript.Entries(),
		Rebate:        c.rebate,
		Emergency:     c.emergency,
		Handoffs:      call.handoffs,
		Interruptions: call.interruptions,
		EndReason:     reason,
		StartedAt:     call.startedAt,
		EndedAt:       c.cfg.Now(),
	})
}

func (c *Controller) snapshot() Snapshot {
	in, out := c.transcript.Partial()
	s := Snapshot{
		Phase:         c.phase,
		Persona:       c.active,
		HandoffTarget: c.target,
		Connected:     c.phase == PhaseActive,
		HandingOver:   c.handingOver,
		Transcript:    c.transcript.Entries(),
		PartialInput:  in,
		PartialOutput: out,
		Error:         c.uiErr,
	}
	if c.rebate != nil {
		r := *c.rebate
		s.Rebate = &r
	}
	if c.emergency != nil {
		e := *c.emergency
		s.Emergency = &e
	}
	if c.uiErr != nil {
		e := *c.uiErr
		s.Error = &e
	}
	return s
}

func (c *Controller) publish() {
	c.dirty = false
	if c.cfg.OnSnapshot != nil {
		c.cfg.OnSnapshot(c.snapshot())
	}
}
