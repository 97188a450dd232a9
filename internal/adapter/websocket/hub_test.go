package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_BroadcastReachesClients(t *testing.T) {
	h := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a := &Client{hub: h, send: make(chan []byte, 4)}
	b := &Client{hub: h, send: make(chan []byte, 4)}
	h.register <- a
	h.register <- b
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	h.Broadcast("charger.booted", map[string]string{"id": "CP-1"})

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			var env struct {
				Event string            `json:"event"`
				Data  map[string]string `json:"data"`
			}
			require.NoError(t, json.Unmarshal(msg, &env))
			assert.Equal(t, "charger.booted", env.Event)
			assert.Equal(t, "CP-1", env.Data["id"])
		case <-time.After(time.Second):
			t.Fatal("client did not receive broadcast")
		}
	}
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	h := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := &Client{hub: h, send: make(chan []byte)}
	h.register <- slow
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.Broadcast("charger.status", nil)
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-slow.send
	assert.False(t, open)
}

func TestHub_BroadcastWithoutRunDoesNotBlock(t *testing.T) {
	h := NewHub(zap.NewNop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer+10; i++ {
			h.Broadcast("charger.status", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked")
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	h := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := &Client{hub: h, send: make(chan []byte, 1)}
	h.register <- c
	cancel()
	<-stopped

	_, open := <-c.send
	assert.False(t, open)
	assert.Zero(t, h.ClientCount())
}
