package queue

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryQueue_FanOut(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop())

	var a, b [][]byte
	require.NoError(t, q.Subscribe(SubjectChargerStatus, func(d []byte) error { a = append(a, d); return nil }))
	require.NoError(t, q.Subscribe(SubjectChargerStatus, func(d []byte) error { b = append(b, d); return nil }))
	require.NoError(t, q.Subscribe(SubjectTransactionCompleted, func(d []byte) error {
		t.Fatal("wrong subject delivered")
		return nil
	}))

	require.NoError(t, q.Publish(SubjectChargerStatus, []byte("x")))
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestMemoryQueue_HandlerErrorDoesNotFailPublish(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop())
	calls := 0
	require.NoError(t, q.Subscribe("s", func([]byte) error { calls++; return errors.New("boom") }))
	require.NoError(t, q.Subscribe("s", func([]byte) error { calls++; return nil }))

	assert.NoError(t, q.Publish("s", nil))
	assert.Equal(t, 2, calls)
}

func TestMemoryQueue_CloseDropsSubscribers(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop())
	calls := 0
	require.NoError(t, q.Subscribe("s", func([]byte) error { calls++; return nil }))
	require.NoError(t, q.Close())
	require.NoError(t, q.Publish("s", nil))
	assert.Zero(t, calls)
}

func TestPublishEvent(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop())
	var got Event
	require.NoError(t, q.Subscribe(SubjectTransactionCompleted, func(d []byte) error {
		return json.Unmarshal(d, &got)
	}))

	err := PublishEvent(q, SubjectTransactionCompleted, Event{
		Type:      "transaction_completed",
		ChargerID: "CP-1",
		Data:      map[string]string{"transaction_id": "tx-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "transaction_completed", got.Type)
	assert.Equal(t, "CP-1", got.ChargerID)
	assert.False(t, got.OccurredAt.IsZero())
	assert.Equal(t, map[string]interface{}{"transaction_id": "tx-1"}, got.Data)
}

func TestNew(t *testing.T) {
	q, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	q, err = New(Config{Driver: "none"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	_, err = New(Config{Driver: "carrier-pigeon"}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(Config{Driver: "kafka"}, zap.NewNop())
	assert.Error(t, err, "kafka without brokers")
}
