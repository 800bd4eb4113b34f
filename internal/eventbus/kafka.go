package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/metalagman/steward/internal/model"
)

// DefaultWriteTimeout bounds a single publish.
const DefaultWriteTimeout = 5 * time.Second

// Writer is the subset of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes agent events as JSON, keyed by cycle id so the
// events of one cycle stay ordered within a partition.
type KafkaPublisher struct {
	writer  Writer
	timeout time.Duration
}

// NewKafkaPublisher creates an asynchronous publisher for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn().Err(err).Int("messages", len(msgs)).Str("topic", topic).Msg("failed to publish agent events")
			}
		},
	}
	return NewPublisher(w)
}

// NewPublisher wraps an existing writer.
func NewPublisher(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: DefaultWriteTimeout}
}

// Listen publishes ev. Failures are logged.
func (p *KafkaPublisher) Listen(ev model.AgentEvent) {
	msg, err := Message(ev)
	if err != nil {
		log.Warn().Err(err).Str("agent", ev.Agent).Msg("failed to encode agent event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Warn().Err(err).Str("agent", ev.Agent).Str("cycle_id", ev.CycleID).Msg("failed to publish agent event")
	}
}

// Close flushes pending messages and releases the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Message encodes ev as a kafka message.
func Message(ev model.AgentEvent) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.CycleID),
		Value: data,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "agent", Value: []byte(ev.Agent)},
		},
	}, nil
}
