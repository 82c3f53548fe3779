package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/actionflow/internal/eventbus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestNotifier_Handle(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, "actionflow.events", nil)

	evt := eventbus.NewEvent(eventbus.EventActionExecutionSuccess, eventbus.ActionPayload{
		BatchID: "b1", ActionID: "a1", ToolName: "projects_create", Sequence: 1, Round: 1,
	}, "executor", nil)
	require.NoError(t, n.Handle(context.Background(), evt))

	require.Len(t, pub.sent, 1)
	sent := pub.sent[0]
	assert.Equal(t, "actionflow.events", sent.exchange)
	assert.Equal(t, "actionflow.action_execution_success", sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)

	var decoded struct {
		ID      string                 `json:"id"`
		Type    string                 `json:"type"`
		Source  string                 `json:"source"`
		Payload map[string]interface{} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(sent.msg.Body, &decoded))
	assert.Equal(t, sent.msg.MessageId, decoded.ID)
	assert.Equal(t, "action_execution_success", decoded.Type)
	assert.Equal(t, "executor", decoded.Source)
	assert.Equal(t, "projects_create", decoded.Payload["tool_name"])
}

func TestNotifier_PublishError(t *testing.T) {
	n := NewNotifier(&fakePublisher{err: errors.New("channel closed")}, "x", nil)
	err := n.Handle(context.Background(), eventbus.NewEvent(eventbus.EventDeadlock, nil, "orchestrator", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x/actionflow.deadlock_detected")
}

func TestNotifier_AttachForwardsBusEvents(t *testing.T) {
	pub := &fakePublisher{}
	bus := eventbus.NewChannelEventBus(eventbus.WithWorkerCount(1))
	_, err := NewNotifier(pub, "events", nil).Attach(bus)
	require.NoError(t, err)

	for _, typ := range []eventbus.EventType{eventbus.EventBatchExecutionStarted, eventbus.EventBatchExecutionSuccess} {
		require.NoError(t, bus.Publish(context.Background(), eventbus.NewEvent(typ, eventbus.BatchPayload{BatchID: "b"}, "executor", nil)))
	}
	require.NoError(t, bus.Close())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.sent, 2)
	keys := []string{pub.sent[0].key, pub.sent[1].key}
	assert.ElementsMatch(t, []string{"actionflow.batch_execution_started", "actionflow.batch_execution_success"}, keys)
}
