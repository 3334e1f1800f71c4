package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/drhvac/voicedesk/internal/audio"
	"github.com/drhvac/voicedesk/internal/protocol"
)

// recorder renders agent_audio chunks on the server's connection clock, so the
// output WAV has the gaps and cuts a browser would have played.
type recorder struct {
	mu       sync.Mutex
	timeline *audio.Timeline
	starts   map[string]float64
	// offset maps local elapsed time to the server clock.
	offset  float64
	synced  bool
	started time.Time
	now     func() time.Time
}

func newRecorder(rate int) *recorder {
	r := &recorder{timeline: audio.NewTimeline(rate), starts: make(map[string]float64), now: time.Now}
	r.started = r.now()
	return r
}

func (r *recorder) place(msg protocol.AgentAudio) error {
	raw, err := audio.DecodeBase64(msg.PCM16Base64)
	if err != nil {
		return err
	}
	buf, err := audio.DecodePCM16(raw, msg.SampleRate, 1)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", msg.SourceID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.synced {
		r.offset = msg.ServerNow - r.now().Sub(r.started).Seconds()
		r.synced = true
	}
	r.starts[msg.SourceID] = msg.StartAt
	r.timeline.Place(msg.StartAt, audio.Resample(buf.Samples, msg.SampleRate, r.timeline.SampleRate()))
	return nil
}

// stop cuts the timeline where the first stopped chunk would have been
// silenced: now for a chunk already playing, its start for one still queued.
func (r *recorder) stop(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	earliest, found := 0.0, false
	for _, id := range ids {
		at, ok := r.starts[id]
		if !ok {
			continue
		}
		delete(r.starts, id)
		if !found || at < earliest {
			earliest, found = at, true
		}
	}
	if !found {
		return
	}
	cut := max(earliest, r.serverNow())
	r.timeline.Truncate(cut)
}

func (r *recorder) serverNow() float64 {
	return r.now().Sub(r.started).Seconds() + r.offset
}

func (r *recorder) duration() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeline.Duration()
}

func (r *recorder) wav() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeline.WAV()
}
