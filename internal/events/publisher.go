package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Envelope is the wire form of an event on the topic.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a topic keyed by tab id, so one tab's
// events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaPublisher accepts a comma-separated broker list.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	var addrs []string
	for _, a := range strings.Split(brokers, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(addrs...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		now: time.Now,
	}
}

func newKafkaPublisherWith(w messageWriter, now func() time.Time) *KafkaPublisher {
	return &KafkaPublisher{writer: w, now: now}
}

func (p *KafkaPublisher) Dispatch(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", e.Type(), err)
	}
	value, err := json.Marshal(Envelope{Type: e.Type(), OccurredAt: p.now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.Key()), Value: value}); err != nil {
		return fmt.Errorf("events: write %s: %w", e.Type(), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs events instead of shipping them. Used when no brokers
// are configured.
type LogPublisher struct{}

func (LogPublisher) Dispatch(_ context.Context, e Event) error {
	log.Info().Str("event", e.Type()).Str("key", e.Key()).Interface("payload", e).Msg("events: dispatched")
	return nil
}

func (LogPublisher) Close() error { return nil }
