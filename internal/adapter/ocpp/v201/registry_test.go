package v201

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func detachedConn(t *testing.T, id string) *Connection {
	t.Helper()
	c, err := NewConnection(id, nil, ConnectionConfig{}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewConnectionRequiresID(t *testing.T) {
	_, err := NewConnection("", nil, ConnectionConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestConnectionAfterClose(t *testing.T) {
	c := detachedConn(t, "cp-1")
	assert.Equal(t, StateConnecting, c.State())

	c.Close(1000, "")
	assert.Equal(t, StateClosed, c.State())

	call, err := NewCall("1", ActionHeartbeat, nil)
	require.NoError(t, err)
	assert.True(t, errors.Is(c.Send(t.Context(), call), ErrConnectionClosed))

	_, err = c.Receive(t.Context())
	assert.True(t, errors.Is(err, ErrConnectionClosed))
}

func TestRegistrySupersedes(t *testing.T) {
	r := NewRegistry(4, zap.NewNop())
	first := detachedConn(t, "station_07")
	second := detachedConn(t, "station_07")

	assert.Nil(t, r.Register("station_07", first))
	assert.Same(t, first, r.Register("station_07", second))

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("superseded connection was not closed")
	}

	assert.Equal(t, 1, r.Len())
	got, ok := r.Lookup("station_07")
	require.True(t, ok)
	assert.Same(t, second, got)

	// The old actor's cleanup must not evict its replacement.
	assert.False(t, r.Unregister("station_07", first))
	assert.True(t, r.Unregister("station_07", second))
	assert.False(t, r.Unregister("station_07", second))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryUnregisterUnconditional(t *testing.T) {
	r := NewRegistry(1, zap.NewNop())
	r.Register("cp", detachedConn(t, "cp"))
	assert.True(t, r.Unregister("cp", nil))
	_, ok := r.Lookup("cp")
	assert.False(t, ok)
}

func TestRegistryListStatusesIsSnapshot(t *testing.T) {
	r := NewRegistry(8, zap.NewNop())
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("cp-%02d", i)
		r.Register(id, detachedConn(t, id))
	}
	assert.Equal(t, 20, r.Len())

	statuses := r.ListStatuses()
	require.Len(t, statuses, 20)

	r.Unregister("cp-00", nil)
	assert.Contains(t, statuses, "cp-00")
	assert.Len(t, r.ListStatuses(), 19)
}

func TestPendingTable(t *testing.T) {
	p := NewPendingTable()
	req := newPendingRequest("id-1", ActionRequestStartTransaction, "cp-1")

	require.NoError(t, p.Add(req))
	err := p.Add(newPendingRequest("id-1", ActionRequestStopTransaction, "cp-1"))
	assert.True(t, errors.Is(err, ErrDuplicateRequestID))

	reply := &Message{Type: CallResult, ID: "id-1"}
	_, ok := p.Complete("cp-other", reply)
	assert.False(t, ok, "reply from another charger must not complete the request")

	got, ok := p.Complete("cp-1", reply)
	require.True(t, ok)
	assert.Same(t, req, got)
	assert.Same(t, reply, <-req.Reply())
	assert.Equal(t, 0, p.Len())

	_, ok = p.Complete("cp-1", reply)
	assert.False(t, ok)
}

func TestPendingSweep(t *testing.T) {
	p := NewPendingTable()
	old := newPendingRequest("old", ActionRequestStopTransaction, "cp")
	old.IssuedAt = time.Now().Add(-time.Minute)
	require.NoError(t, p.Add(old))
	require.NoError(t, p.Add(newPendingRequest("new", ActionRequestStopTransaction, "cp")))

	expired := p.Sweep(time.Now(), 30*time.Second)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID)
	assert.Equal(t, 1, p.Len())
}

func TestActionRegistry(t *testing.T) {
	s := NewServer(DefaultConfig(), nil, nil, zap.NewNop())

	assert.Equal(t, []string{
		ActionAuthorize,
		ActionBootNotification,
		ActionHeartbeat,
		ActionStatusNotification,
		ActionTransactionEvent,
	}, s.actions.InboundActions())

	_, ok := s.actions.Lookup(ActionRequestStartTransaction)
	assert.False(t, ok)
	assert.True(t, s.actions.IsCommand(ActionRequestStopTransaction))
	assert.False(t, s.actions.IsCommand(ActionHeartbeat))

	_, ok = s.actions.Lookup("DataTransfer")
	assert.False(t, ok)
}

func TestChargerIDFromPath(t *testing.T) {
	tests := []struct {
		prefix, path, want string
		ok                 bool
	}{
		{"/", "/station_07", "station_07", true},
		{"/", "/", "", false},
		{"/", "//", "", false},
		{"/ocpp/", "/ocpp/CP-1", "CP-1", true},
		{"/ocpp/", "/ocpp/", "", false},
		{"/ocpp/", "/other/CP-1", "", false},
	}
	for _, tt := range tests {
		got, ok := chargerIDFromPath(tt.prefix, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
	}
}
