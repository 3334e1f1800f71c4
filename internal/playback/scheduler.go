package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/drhvac/voicedesk/internal/audio"
)

var ErrInactive = errors.New("playback gate inactive")

// Clock is the output device clock in seconds.
type Clock interface {
	Now() float64
}

// Source is one scheduled buffer. Stop may report an error when the source
// already finished; callers treat that as success.
type Source interface {
	Stop() error
}

type Output interface {
	Start(buf *audio.Buffer, at float64) (Source, error)
}

type Gate interface {
	Active() bool
}

type Scheduled struct {
	Source   Source
	Start    float64
	Duration float64
}

type tracked struct {
	src Source
	end float64
}

// Scheduler places inbound agent audio back to back on the output clock. It is
// the only component that starts or stops output sources.
type Scheduler struct {
	mu         sync.Mutex
	clock      Clock
	output     Output
	sampleRate int
	cursor     float64
	sources    []tracked
}

func NewScheduler(clock Clock, output Output) *Scheduler {
	return &Scheduler{clock: clock, output: output, sampleRate: audio.PlaybackSampleRate}
}

// Schedule decodes one PCM16 chunk and starts it at max(cursor, now). Nothing is
// scheduled when the gate is inactive.
func (s *Scheduler) Schedule(gate Gate, pcm []byte) (Scheduled, error) {
	if gate == nil || !gate.Active() {
		return Scheduled{}, ErrInactive
	}
	buf, err := audio.DecodePCM16(pcm, s.sampleRate, 1)
	if err != nil {
		return Scheduled{}, fmt.Errorf("decode agent audio: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.pruneLocked(now)

	start := s.cursor
	if now > start {
		start = now
	}
	src, err := s.output.Start(buf, start)
	if err != nil {
		return Scheduled{}, fmt.Errorf("start agent audio: %w", err)
	}
	dur := buf.Duration()
	s.cursor = start + dur
	s.sources = append(s.sources, tracked{src: src, end: start + dur})
	return Scheduled{Source: src, Start: start, Duration: dur}, nil
}

// Interrupt stops every scheduled source and rewinds the cursor so the next
// chunk starts at the current clock time. It returns the number of sources stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	sources := s.sources
	s.sources = nil
	s.cursor = 0
	s.mu.Unlock()

	for _, t := range sources {
		_ = t.src.Stop()
	}
	return len(sources)
}

// Reset rewinds the cursor for a new connection.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
}

func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Pending reports sources that have not yet reached their end time.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.clock.Now())
	return len(s.sources)
}

func (s *Scheduler) pruneLocked(now float64) {
	kept := s.sources[:0]
	for _, t := range s.sources {
		if t.end > now {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(s.sources); i++ {
		s.sources[i] = tracked{}
	}
	s.sources = kept
}
