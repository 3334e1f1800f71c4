package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drhvac/voicedesk/internal/capture"
	"github.com/drhvac/voicedesk/internal/protocol"
	"github.com/drhvac/voicedesk/internal/reliability"
)

var (
	ErrMicBusy    = errors.New("microphone request already pending")
	ErrMicTimeout = errors.New("microphone request unanswered")
)

// RemoteMicrophone acquires the browser's microphone over the websocket. The
// browser answers a mic_request with client_mic_result and then streams
// client_audio_block messages, which are pushed into a FeedStream.
type RemoteMicrophone struct {
	send    func(ctx context.Context, msg any) bool
	release func()
	timeout time.Duration
	depth   int

	mu      sync.Mutex
	pending chan protocol.ClientMicResult
	waiter  context.Context
	stream  *capture.FeedStream
}

// NewRemoteMicrophone returns a microphone that sends requests with send.
// release is called without blocking when a granted stream is stopped.
func NewRemoteMicrophone(send func(ctx context.Context, msg any) bool, release func(), timeout time.Duration, depth int) *RemoteMicrophone {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &RemoteMicrophone{send: send, release: release, timeout: timeout, depth: depth}
}

func (m *RemoteMicrophone) Acquire(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	res := make(chan protocol.ClientMicResult, 1)
	m.mu.Lock()
	// a request whose caller has given up can be taken over
	if m.pending != nil && m.waiter.Err() == nil {
		m.mu.Unlock()
		return nil, ErrMicBusy
	}
	m.pending = res
	m.waiter = ctx
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.pending == res {
			m.pending = nil
			m.waiter = nil
		}
		m.mu.Unlock()
	}()

	req := protocol.MicRequest{
		Type:             protocol.TypeMicRequest,
		SampleRate:       c.SampleRate,
		Channels:         c.Channels,
		BlockSize:        c.BlockSize,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
	}
	if !m.send(ctx, req) {
		return nil, fmt.Errorf("send mic_request: %w", context.Cause(ctx))
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// the browser may still be showing the prompt; have it drop any grant
		m.mu.Lock()
		owned := m.pending == res
		m.mu.Unlock()
		if owned && m.release != nil {
			m.release()
		}
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrMicTimeout
	case r := <-res:
		if !r.Granted {
			return nil, reliability.ClassifyMediaError(r.ErrorName, r.ErrorMessage)
		}
		var stream *capture.FeedStream
		stream = capture.NewFeedStream(r.SampleRate, m.depth, func() { m.stopped(stream) })
		m.mu.Lock()
		m.stream = stream
		m.mu.Unlock()
		return stream, nil
	}
}

// Resolve delivers the browser's answer to a pending request. An answer with
// nothing pending is late; a late grant is released straight away.
func (m *RemoteMicrophone) Resolve(r protocol.ClientMicResult) bool {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.waiter = nil
	m.mu.Unlock()
	if pending == nil {
		if r.Granted && m.release != nil {
			m.release()
		}
		return false
	}
	pending <- r
	return true
}

// Push forwards a captured block to the granted stream. It reports false when
// no stream is live or its buffer is full.
func (m *RemoteMicrophone) Push(samples []float32) bool {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()
	if stream == nil {
		return false
	}
	return stream.Push(samples)
}

// Close stops any live stream.
func (m *RemoteMicrophone) Close() {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()
	if stream != nil {
		stream.Stop()
	}
}

func (m *RemoteMicrophone) stopped(s *capture.FeedStream) {
	m.mu.Lock()
	if m.stream == s {
		m.stream = nil
	}
	m.mu.Unlock()
	if m.release != nil {
		m.release()
	}
}
