package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// PublisherConfig holds Kafka settings for lead events.
type PublisherConfig struct {
	Brokers []string
	Topic   string
}

// Event is the payload published for each captured lead.
type Event struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Lead     Lead   `json:"lead"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends lead events to a CRM topic. Without brokers it only logs.
type Publisher struct {
	writer  messageWriter
	topic   string
	enabled bool
	log     zerolog.Logger
}

func NewPublisher(cfg PublisherConfig, logger zerolog.Logger) *Publisher {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		logger.Info().Msg("kafka disabled, lead events are log-only")
		return &Publisher{topic: cfg.Topic, log: logger}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	logger.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka lead publisher initialized")
	return &Publisher{writer: writer, topic: cfg.Topic, enabled: true, log: logger}
}

func (p *Publisher) Enabled() bool { return p != nil && p.enabled }

// Publish writes one lead event keyed by session id.
func (p *Publisher) Publish(ctx context.Context, lead Lead) error {
	payload, err := json.Marshal(Event{Type: "lead.captured", Priority: lead.Priority(), Lead: lead})
	if err != nil {
		return fmt.Errorf("encode lead event: %w", err)
	}
	p.log.Debug().Str("topic", p.topic).Str("lead_id", lead.ID).Str("priority", lead.Priority()).Msg("publishing lead event")
	if !p.Enabled() {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(lead.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("lead.captured")},
			{Key: "priority", Value: []byte(lead.Priority())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write lead event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
