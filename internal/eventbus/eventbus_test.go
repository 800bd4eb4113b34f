package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/steward/internal/model"
)

func TestFanout(t *testing.T) {
	t.Parallel()

	var got []string
	listener := Fanout(
		func(ev model.AgentEvent) { got = append(got, "first:"+string(ev.Type)) },
		nil,
		func(model.AgentEvent) { panic("broken dashboard") },
		func(ev model.AgentEvent) { got = append(got, "last:"+string(ev.Type)) },
	)

	listener(model.AgentEvent{Type: model.EventStarted, Agent: "a"})
	LogListener(model.AgentEvent{Type: model.EventCompleted, Usage: &model.Usage{LatencyMS: 3}})

	assert.Equal(t, []string{"first:started", "last:started"}, got)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := NewPublisher(w)
	ts := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	p.Listen(model.AgentEvent{Type: model.EventAction, Agent: "crm", CycleID: "c-1", Timestamp: ts, Action: "reading inbox"})

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "c-1", string(msg.Key))
	assert.Equal(t, ts, msg.Time)
	assert.Equal(t, []kafka.Header{
		{Key: "event_type", Value: []byte("action")},
		{Key: "agent", Value: []byte("crm")},
	}, msg.Headers)

	var decoded model.AgentEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "reading inbox", decoded.Action)

	w.err = errors.New("broker down")
	p.Listen(model.AgentEvent{Type: model.EventStarted, CycleID: "c-2"})
	assert.Len(t, w.msgs, 1)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaPublisher(t *testing.T) {
	t.Parallel()

	p := NewKafkaPublisher([]string{"127.0.0.1:1"}, "events")
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "events", w.Topic)
	assert.True(t, w.Async)
	require.NoError(t, p.Close())
}
