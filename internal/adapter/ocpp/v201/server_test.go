package v201

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/internal/domain"
	"github.com/seu-repo/ocpp-csms/internal/mocks"
)

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	tx      *mocks.MockTransactionService
	devices *mocks.MockDeviceService
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PingInterval = 0
	cfg.CommandTimeout = 2 * time.Second
	cfg.ShutdownGrace = time.Second
	return cfg
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	env := &testEnv{
		tx:      &mocks.MockTransactionService{},
		devices: &mocks.MockDeviceService{},
	}
	env.srv = NewServer(cfg, env.devices, env.tx, zap.NewNop())
	env.http = httptest.NewServer(env.srv.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		env.srv.Shutdown(ctx)
		env.http.Close()
	})
	return env
}

func (e *testEnv) url(id string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/" + id
}

// dial connects as a charger and waits until the server has registered it.
func (e *testEnv) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{Subprotocols: []string{"ocpp2.0.1"}}
	ws, _, err := dialer.Dial(e.url(id), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.Equal(t, "ocpp2.0.1", ws.Subprotocol())

	require.Eventually(t, func() bool {
		c, ok := e.srv.Registry().Lookup(id)
		return ok && c.State() == StateActive
	}, 2*time.Second, 10*time.Millisecond)
	return ws
}

func writeFrame(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, ws.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func readMessage(t *testing.T, ws *websocket.Conn) *Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := Decode(data)
	require.NoError(t, err)
	return msg
}

func call(t *testing.T, ws *websocket.Conn, id, action string, payload interface{}) *Message {
	t.Helper()
	data, err := json.Marshal([]interface{}{Call, id, action, payload})
	require.NoError(t, err)
	writeFrame(t, ws, string(data))
	return readMessage(t, ws)
}

func bootPayload() map[string]interface{} {
	return map[string]interface{}{
		"reason": "PowerUp",
		"chargingStation": map[string]interface{}{
			"model":      "SingleSocketCharger",
			"vendorName": "VendorX",
		},
	}
}

func TestBootNotificationAccepted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "station_07")

	reply := call(t, ws, "boot-1", ActionBootNotification, bootPayload())
	require.Equal(t, CallResult, reply.Type)
	assert.Equal(t, "boot-1", reply.ID)

	var resp BootNotificationResponse
	require.NoError(t, json.Unmarshal(reply.Payload, &resp))
	assert.Equal(t, "Accepted", resp.Status)
	assert.Equal(t, 300, resp.Interval)
	assert.NotEmpty(t, resp.CurrentTime)

	status := env.srv.ListChargerStatuses()["station_07"]
	assert.True(t, status.Connected)
	assert.True(t, status.BootAcknowledged)
	assert.Equal(t, 1, env.devices.Calls("RecordBoot"))
}

func TestEndToEndCompletedTransactionIsPersisted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "station_07")

	reply := call(t, ws, "1", ActionBootNotification, bootPayload())
	require.Equal(t, CallResult, reply.Type)

	reply = call(t, ws, "2", ActionTransactionEvent, map[string]interface{}{
		"eventType": "Ended",
		"timestamp": "2026-03-01T12:00:00Z",
		"transactionData": map[string]interface{}{
			"transactionId": "TX1",
			"chargingPeriods": []interface{}{
				map[string]interface{}{
					"dimensions": []interface{}{
						map[string]interface{}{"name": "Energy.Active.Import.Register", "value": 5000},
					},
				},
			},
		},
	})
	require.Equal(t, CallResult, reply.Type)
	assert.JSONEq(t, `{}`, string(reply.Payload))

	saved := env.tx.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "TX1", saved[0].TransactionID)
	assert.Equal(t, "station_07", saved[0].ChargerID)
	assert.Equal(t, 5.0, saved[0].EnergyDeliveredKWh)
}

func TestTransactionLifecycleTracksOpenSessions(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "cp-tx")

	event := func(id, eventType string, wh int) {
		reply := call(t, ws, id, ActionTransactionEvent, map[string]interface{}{
			"eventType": eventType,
			"transactionInfo": map[string]interface{}{
				"transactionId": "TX9",
				"totalCost":     "12.5",
				"chargingPeriods": []interface{}{
					map[string]interface{}{"dimensions": []interface{}{
						map[string]interface{}{"name": "Energy.Active.Import.Register", "value": wh},
					}},
				},
			},
		})
		require.Equal(t, CallResult, reply.Type)
	}

	event("s", "Started", 0)
	event("u", "Updated", 1200)
	assert.Equal(t, []string{"TX9"}, env.srv.ListChargerStatuses()["cp-tx"].OpenTransactions)
	assert.Empty(t, env.tx.Saved())

	event("e", "Ended", 3400)
	assert.Empty(t, env.srv.ListChargerStatuses()["cp-tx"].OpenTransactions)

	saved := env.tx.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, 3.4, saved[0].EnergyDeliveredKWh)
	assert.Equal(t, 12.5, saved[0].TotalCost)
}

func TestTransactionEventAlwaysAcknowledged(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.tx.SaveCompletedTransactionFunc = func(context.Context, *domain.TransactionRecord) error {
		return errors.New("database down")
	}
	ws := env.dial(t, "cp-1")

	reply := call(t, ws, "bad-shape", ActionTransactionEvent, map[string]interface{}{"eventType": 5})
	require.Equal(t, CallResult, reply.Type)
	assert.JSONEq(t, `{}`, string(reply.Payload))

	reply = call(t, ws, "save-fails", ActionTransactionEvent, map[string]interface{}{
		"eventType":       "Ended",
		"transactionData": map[string]interface{}{"transactionId": "TX2"},
	})
	require.Equal(t, CallResult, reply.Type)
	assert.Len(t, env.tx.Saved(), 1)
}

func TestEndedWithNumericTransactionIDIsPersisted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "cp-num")

	reply := call(t, ws, "num-id", ActionTransactionEvent, map[string]interface{}{
		"eventType": "Ended",
		"transactionData": map[string]interface{}{
			"transactionId": 123,
			"chargingPeriods": []interface{}{
				map[string]interface{}{"dimensions": []interface{}{
					map[string]interface{}{"name": "Energy.Active.Import.Register", "value": 2500},
				}},
			},
		},
	})
	require.Equal(t, CallResult, reply.Type)
	assert.JSONEq(t, `{}`, string(reply.Payload))

	saved := env.tx.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "123", saved[0].TransactionID)
	assert.Equal(t, 2.5, saved[0].EnergyDeliveredKWh)
}

func TestEndedWithMistypedSiblingFieldsIsPersisted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "cp-seq")

	reply := call(t, ws, "seq", ActionTransactionEvent, map[string]interface{}{
		"eventType":     "Ended",
		"seqNo":         "7",
		"triggerReason": 42,
		"evse":          map[string]interface{}{"id": "1"},
		"idToken":       "not-an-object",
		"transactionInfo": map[string]interface{}{
			"transactionId": "TX-SEQ",
			"totalCost":     "n/a",
			"chargingState": 3,
		},
		"meterValue": []interface{}{
			"garbage",
			map[string]interface{}{"sampledValue": []interface{}{
				map[string]interface{}{"measurand": "Energy.Active.Import.Register", "value": true},
				map[string]interface{}{"measurand": "Energy.Active.Import.Register", "value": "4.2"},
			}},
		},
	})
	require.Equal(t, CallResult, reply.Type)
	assert.JSONEq(t, `{}`, string(reply.Payload))

	saved := env.tx.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "TX-SEQ", saved[0].TransactionID)
	assert.Equal(t, "cp-seq", saved[0].ChargerID)
	assert.Equal(t, 4.2, saved[0].EnergyDeliveredKWh)
	assert.Zero(t, saved[0].TotalCost)
}

func TestUnknownActionRepliesNotImplemented(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "cp-1")

	for _, action := range []string{"DataTransfer", ActionRequestStartTransaction} {
		reply := call(t, ws, "x-"+action, action, map[string]interface{}{})
		require.Equal(t, CallError, reply.Type)
		assert.Equal(t, "x-"+action, reply.ID)
		assert.Equal(t, ErrorCodeNotImplemented, reply.ErrorCode)
	}

	reply := call(t, ws, "hb", ActionHeartbeat, nil)
	assert.Equal(t, CallResult, reply.Type)
}

func TestHandlerFailureRepliesInternalError(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "cp-1")

	reply := call(t, ws, "sn", ActionStatusNotification, map[string]interface{}{"evseId": "not-a-number"})
	require.Equal(t, CallError, reply.Type)
	assert.Equal(t, ErrorCodeInternalError, reply.ErrorCode)

	reply = call(t, ws, "hb", ActionHeartbeat, nil)
	assert.Equal(t, CallResult, reply.Type)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "cp-1")

	writeFrame(t, ws, `{"not":"an array"}`)
	writeFrame(t, ws, `[2,"short"]`)
	writeFrame(t, ws, `[3,"unknown-reply",{}]`)

	reply := call(t, ws, "after", ActionHeartbeat, nil)
	assert.Equal(t, "after", reply.ID)
	assert.Equal(t, CallResult, reply.Type)
}

func TestDuplicateHeartbeatOnlyRefreshesLiveness(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "cp-1")

	first := call(t, ws, "hb-1", ActionHeartbeat, nil)
	seen := env.srv.ListChargerStatuses()["cp-1"].LastSeen
	second := call(t, ws, "hb-1", ActionHeartbeat, nil)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, env.devices.Calls("RecordHeartbeat"))
	assert.Equal(t, 0, env.devices.Calls("RecordBoot"))

	status := env.srv.ListChargerStatuses()["cp-1"]
	assert.False(t, status.BootAcknowledged)
	assert.False(t, status.LastSeen.Before(seen))
}

func TestAuthorizeAlwaysAccepted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "cp-1")

	reply := call(t, ws, "a", ActionAuthorize, map[string]interface{}{
		"idToken": map[string]interface{}{"idToken": "RFID-1", "type": "ISO14443"},
	})
	require.Equal(t, CallResult, reply.Type)
	assert.JSONEq(t, `{"idTokenInfo":{"status":"Accepted","idToken":"RFID-1"}}`, string(reply.Payload))
}

func TestSecondHandshakeSupersedesFirst(t *testing.T) {
	env := newTestEnv(t, testConfig())
	first := env.dial(t, "dup")
	firstConn, _ := env.srv.Registry().Lookup("dup")

	second := env.dial(t, "dup")
	require.Eventually(t, func() bool {
		c, ok := env.srv.Registry().Lookup("dup")
		return ok && c != firstConn
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	assert.Equal(t, 1, env.srv.Registry().Len())
	reply := call(t, second, "hb", ActionHeartbeat, nil)
	assert.Equal(t, CallResult, reply.Type)

	// Give the superseded actor time to run its cleanup; the new entry must survive it.
	time.Sleep(100 * time.Millisecond)
	_, ok := env.srv.Registry().Lookup("dup")
	assert.True(t, ok)
}

func TestEmptyChargerIDRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())

	dialer := websocket.Dialer{Subprotocols: []string{"ocpp2.0.1"}}
	_, resp, err := dialer.Dial(env.url(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, env.srv.Registry().Len())
}

func TestSubprotocolPolicy(t *testing.T) {
	lenient := newTestEnv(t, testConfig())
	ws, _, err := websocket.DefaultDialer.Dial(lenient.url("legacy"), nil)
	require.NoError(t, err)
	ws.Close()

	cfg := testConfig()
	cfg.Security = DefaultSecurityConfig()
	cfg.Security.RequireSubprotocol = true
	strict := newTestEnv(t, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(strict.url("legacy"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	strict.dial(t, "modern")
}

func TestAllowListRejectsUnknownCharger(t *testing.T) {
	cfg := testConfig()
	cfg.Security = DefaultSecurityConfig()
	cfg.Security.AllowedChargePointIDs = []string{"known"}
	env := newTestEnv(t, cfg)

	dialer := websocket.Dialer{Subprotocols: []string{"ocpp2.0.1"}}
	_, resp, err := dialer.Dial(env.url("stranger"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	env.dial(t, "known")
}

func TestCommandToUnregisteredCharger(t *testing.T) {
	env := newTestEnv(t, testConfig())

	assert.False(t, env.srv.RequestStartTransaction(t.Context(), "ghost", 1, 1))
	assert.False(t, env.srv.RequestStopTransaction(t.Context(), "ghost", "TX1"))

	_, err := env.srv.SendCommand(t.Context(), "ghost", ActionRequestStartTransaction, nil)
	assert.True(t, errors.Is(err, ErrChargerNotConnected))
	assert.Equal(t, 0, env.srv.pending.Len())
}

func TestUnknownCommandRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.dial(t, "cp-1")

	_, err := env.srv.SendCommand(t.Context(), "cp-1", ActionHeartbeat, nil)
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

// answer reads one Call from the charger side and replies with frame(id).
// The Call is delivered only after the reply is written, so the next answer
// never shares the connection with a writer still in flight.
func answer(t *testing.T, ws *websocket.Conn, wantAction string, frame func(id string) string) <-chan *Message {
	got := make(chan *Message, 1)
	go func() {
		defer close(got)
		ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := Decode(data)
		if err != nil || msg.Action != wantAction {
			return
		}
		ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame(msg.ID))); err != nil {
			return
		}
		got <- msg
	}()
	return got
}

func TestRequestStartTransactionRoundTrip(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "cp-1")

	calls := answer(t, ws, ActionRequestStartTransaction, func(id string) string {
		return `[3,"` + id + `",{"status":"Accepted","transactionId":"TX-77"}]`
	})

	assert.True(t, env.srv.RequestStartTransaction(t.Context(), "cp-1", 1, 2))

	msg, ok := <-calls
	require.True(t, ok, "charger never received the command")
	var req RequestStartTransactionRequest
	require.NoError(t, json.Unmarshal(msg.Payload, &req))
	require.NotNil(t, req.EvseId)
	require.NotNil(t, req.ConnectorId)
	assert.Equal(t, 1, *req.EvseId)
	assert.Equal(t, 2, *req.ConnectorId)
	assert.Equal(t, "Central", req.IdToken.Type)

	assert.Equal(t, 0, env.srv.pending.Len())
}

func TestRequestStopTransactionOutcomes(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "cp-1")

	calls := answer(t, ws, ActionRequestStopTransaction, func(id string) string {
		return `[3,"` + id + `",{"status":"Rejected"}]`
	})
	assert.False(t, env.srv.RequestStopTransaction(t.Context(), "cp-1", ""))
	msg := <-calls
	require.NotNil(t, msg)
	assert.JSONEq(t, `{"transactionId":"default_transaction"}`, string(msg.Payload))

	calls = answer(t, ws, ActionRequestStopTransaction, func(id string) string {
		return `[4,"` + id + `","GenericError","cannot stop"]`
	})
	_, err := env.srv.RemoteStopTransaction(t.Context(), "cp-1", "TX1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GenericError")
	require.NotNil(t, <-calls)

	assert.Equal(t, 0, env.srv.pending.Len())
}

func TestCommandTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.CommandTimeout = 150 * time.Millisecond
	env := newTestEnv(t, cfg)
	env.dial(t, "silent")

	_, err := env.srv.SendCommand(t.Context(), "silent", ActionRequestStopTransaction, RequestStopTransactionRequest{TransactionId: "TX"})
	assert.True(t, errors.Is(err, ErrCommandTimeout))
	assert.Equal(t, 0, env.srv.pending.Len())
}

func TestLivenessClosesAfterMissedWindows(t *testing.T) {
	cfg := testConfig()
	cfg.LivenessWindow = 50 * time.Millisecond
	cfg.MaxMissedWindows = 2
	env := newTestEnv(t, cfg)
	ws := env.dial(t, "sleepy")

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.Eventually(t, func() bool {
		return env.srv.Registry().Len() == 0 && env.devices.Calls("RecordConnection") == 2
	}, time.Second, 10*time.Millisecond)
}

func TestLivenessWithoutLimitKeepsConnection(t *testing.T) {
	cfg := testConfig()
	cfg.LivenessWindow = 20 * time.Millisecond
	cfg.MaxMissedWindows = 0
	env := newTestEnv(t, cfg)
	ws := env.dial(t, "patient")

	time.Sleep(150 * time.Millisecond)

	reply := call(t, ws, "hb", ActionHeartbeat, nil)
	assert.Equal(t, CallResult, reply.Type)
	assert.Equal(t, 1, env.srv.Registry().Len())
}

func TestShutdownClosesConnections(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ws := env.dial(t, "cp-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.srv.Shutdown(ctx))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, env.srv.Registry().Len())

	dialer := websocket.Dialer{Subprotocols: []string{"ocpp2.0.1"}}
	_, resp, err := dialer.Dial(env.url("late"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestShutdownFlushesReplyOfInFlightCall(t *testing.T) {
	env := newTestEnv(t, testConfig())
	entered := make(chan struct{})
	release := make(chan struct{})
	env.devices.RecordBootFunc = func(context.Context, string, domain.StationInfo) error {
		close(entered)
		<-release
		return nil
	}
	ws := env.dial(t, "cp-drain")

	data, err := json.Marshal([]interface{}{Call, "boot-late", ActionBootNotification, bootPayload()})
	require.NoError(t, err)
	writeFrame(t, ws, string(data))
	<-entered

	shutdownDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shutdownDone <- env.srv.Shutdown(ctx)
	}()
	require.Eventually(t, func() bool { return env.srv.baseCtx.Err() != nil }, time.Second, 5*time.Millisecond)
	close(release)

	reply := readMessage(t, ws)
	assert.Equal(t, CallResult, reply.Type)
	assert.Equal(t, "boot-late", reply.ID)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.NoError(t, <-shutdownDone)
}
