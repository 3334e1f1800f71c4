package capture

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/drhvac/voicedesk/internal/audio"
	"github.com/drhvac/voicedesk/internal/observability"
)

// Gate reports whether the owning live session still accepts audio.
type Gate interface {
	Active() bool
}

type Sender interface {
	SendAudio(ctx context.Context, blob audio.Blob) error
}

// Tap observes raw blocks, for example a level visualizer.
type Tap interface {
	Write(samples []float32)
}

type PipelineConfig struct {
	// QueueSize bounds encoded blocks waiting to be sent.
	QueueSize int
	Tap       Tap
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

// Pipeline forwards microphone blocks to a live session. A reader goroutine
// gates, encodes and enqueues; one sender goroutine drains the FIFO so a slow
// send never stalls capture and blocks go out in capture order.
type Pipeline struct {
	gate    Gate
	sender  Sender
	cfg     PipelineConfig
	queue   chan audio.Blob
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
	started bool
	mu      sync.Mutex
}

func NewPipeline(gate Gate, sender Sender, cfg PipelineConfig) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		gate:   gate,
		sender: sender,
		cfg:    cfg,
		queue:  make(chan audio.Blob, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start attaches the stream. A pipeline attaches at most one stream.
func (p *Pipeline) Start(stream Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.ctx.Err() != nil || stream == nil {
		return
	}
	p.started = true
	p.discardBuffered(stream)

	p.wg.Add(2)
	go p.readLoop(stream)
	go p.sendLoop()
}

// Stop detaches from the stream without stopping it. Idempotent, and safe on a
// pipeline that never started.
func (p *Pipeline) Stop() {
	p.once.Do(p.cancel)
}

// Wait blocks until both goroutines have exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// discardBuffered drops blocks captured before this pipeline attached. They
// were recorded while no session was active.
func (p *Pipeline) discardBuffered(stream Stream) {
	blocks := stream.Blocks()
	for {
		select {
		case _, ok := <-blocks:
			if !ok {
				return
			}
			p.cfg.Metrics.CaptureBlock("dropped_inactive")
		default:
			return
		}
	}
}

func (p *Pipeline) readLoop(stream Stream) {
	defer p.wg.Done()
	rate := stream.SampleRate()
	blocks := stream.Blocks()
	for {
		select {
		case <-p.ctx.Done():
			return
		case block, ok := <-blocks:
			if !ok {
				return
			}
			p.handle(block, rate)
		}
	}
}

func (p *Pipeline) handle(block []float32, rate int) {
	if p.ctx.Err() != nil || !p.gate.Active() {
		p.cfg.Metrics.CaptureBlock("dropped_inactive")
		return
	}
	if p.cfg.Tap != nil {
		p.cfg.Tap.Write(block)
	}
	if rate > 0 && rate != audio.CaptureSampleRate {
		block = audio.Resample(block, rate, audio.CaptureSampleRate)
	}
	blob := audio.NewPCMBlob(block, audio.CaptureSampleRate)
	select {
	case p.queue <- blob:
		p.cfg.Metrics.CaptureBlock("queued")
	default:
		p.cfg.Metrics.CaptureBlock("dropped_queue_full")
		p.cfg.Logger.Warn().Int("queue_size", cap(p.queue)).Msg("capture send queue full; dropping block")
	}
}

func (p *Pipeline) sendLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case blob := <-p.queue:
			// re-check: the session may have closed while the block waited
			if !p.gate.Active() {
				p.cfg.Metrics.CaptureBlock("dropped_inactive")
				continue
			}
			if err := p.sender.SendAudio(p.ctx, blob); err != nil {
				if p.ctx.Err() != nil {
					return
				}
				p.cfg.Metrics.CaptureBlock("send_failed")
				p.cfg.Logger.Debug().Err(err).Msg("capture send failed")
				continue
			}
			p.cfg.Metrics.CaptureBlock("sent")
		}
	}
}
