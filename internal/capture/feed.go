package capture

import "sync"

// FeedStream is a Stream whose blocks are pushed by the owner, for example from
// a remote client relaying its own microphone.
type FeedStream struct {
	rate   int
	blocks chan []float32
	mu     sync.Mutex
	closed bool
	onStop func()
}

// NewFeedStream returns a stream buffering up to depth blocks. onStop runs once
// when the stream is stopped and may be nil.
func NewFeedStream(sampleRate, depth int, onStop func()) *FeedStream {
	if depth <= 0 {
		depth = 16
	}
	return &FeedStream{rate: sampleRate, blocks: make(chan []float32, depth), onStop: onStop}
}

func (s *FeedStream) Blocks() <-chan []float32 { return s.blocks }

func (s *FeedStream) SampleRate() int { return s.rate }

// Push offers a block without blocking. It reports false when the stream is
// stopped or the buffer is full.
func (s *FeedStream) Push(block []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.blocks <- block:
		return true
	default:
		return false
	}
}

func (s *FeedStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FeedStream) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.blocks)
	onStop := s.onStop
	s.mu.Unlock()
	if onStop != nil {
		onStop()
	}
}
