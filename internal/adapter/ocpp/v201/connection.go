package v201

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/internal/domain"
)

type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateActive
	StateFaulted
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateActive:
		return "Active"
	case StateFaulted:
		return "Faulted"
	case StateClosed:
		return "Closed"
	}
	return "Unknown"
}

// ConnectionConfig tunes one connection actor.
type ConnectionConfig struct {
	LivenessWindow time.Duration // 0 disables the receive timeout
	PingInterval   time.Duration // 0 disables websocket pings
	WriteTimeout   time.Duration
	SendQueueSize  int
	ProtocolDebug  bool
	MaxHistory     int
}

// Connection owns one charger's websocket. A reader goroutine feeds inbound
// frames to Receive and a single writer goroutine drains the send queue, so
// the socket never sees concurrent writers.
type Connection struct {
	id  string
	ws  *websocket.Conn
	cfg ConnectionConfig
	log *zap.Logger

	ledger *domain.TransactionLedger

	state       atomic.Int32
	lastSeen    atomic.Int64
	bootAck     atomic.Bool
	connectedAt time.Time

	inbound  chan []byte
	outbound chan []byte
	done     chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	endErr    error

	lifecycle     sync.Mutex
	writerRunning bool
	closeCode     int
	closeReason   string
}

// NewConnection wraps an upgraded socket. The charger id must be non-empty;
// otherwise the socket is closed and the actor never becomes Active.
func NewConnection(id string, ws *websocket.Conn, cfg ConnectionConfig, log *zap.Logger) (*Connection, error) {
	if id == "" {
		if ws != nil {
			ws.Close()
		}
		return nil, errors.New("charge point id required")
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	now := time.Now().UTC()
	c := &Connection{
		id:          id,
		ws:          ws,
		cfg:         cfg,
		log:         log.With(zap.String("charger_id", id)),
		ledger:      domain.NewTransactionLedger(id, cfg.MaxHistory),
		connectedAt: now,
		inbound:     make(chan []byte),
		outbound:    make(chan []byte, cfg.SendQueueSize),
		done:        make(chan struct{}),
	}
	c.lastSeen.Store(now.UnixNano())
	c.state.Store(int32(StateConnecting))
	return c, nil
}

// Start launches the reader and writer and moves the actor to Active.
func (c *Connection) Start() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		return
	}
	c.writerRunning = true
	go c.readLoop()
	go c.writeLoop()
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) State() ConnectionState { return ConnectionState(c.state.Load()) }

func (c *Connection) Ledger() *domain.TransactionLedger { return c.ledger }

func (c *Connection) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()).UTC() }

func (c *Connection) Touch() { c.lastSeen.Store(time.Now().UTC().UnixNano()) }

func (c *Connection) BootAcknowledged() bool { return c.bootAck.Load() }

func (c *Connection) AcknowledgeBoot() { c.bootAck.Store(true) }

// Done is closed once the actor has stopped.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Status returns a point-in-time copy of the connection's observable state.
func (c *Connection) Status() domain.ChargerStatus {
	return domain.ChargerStatus{
		ChargerID:        c.id,
		Connected:        c.State() == StateActive,
		BootAcknowledged: c.BootAcknowledged(),
		LastSeen:         c.LastSeen(),
		OpenTransactions: c.ledger.OpenTransactionIDs(),
	}
}

// Send encodes m and queues it for the writer. It only fails when the
// message cannot be encoded or the connection is no longer usable.
func (c *Connection) Send(ctx context.Context, m *Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return c.SendRaw(ctx, data)
}

func (c *Connection) SendRaw(ctx context.Context, data []byte) error {
	switch c.State() {
	case StateFaulted:
		return ErrConnectionFaulted
	case StateClosed:
		return ErrConnectionClosed
	}

	select {
	case c.outbound <- data:
		return nil
	case <-c.done:
		return c.terminalError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks for the next inbound frame. It returns ErrReceiveTimeout
// when the liveness window elapses with the connection still open, and
// ErrConnectionClosed or ErrConnectionFaulted once the stream has ended.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	var timeout <-chan time.Time
	if c.cfg.LivenessWindow > 0 {
		timer := time.NewTimer(c.cfg.LivenessWindow)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data, ok := <-c.inbound:
		if !ok {
			return nil, c.terminalError()
		}
		return data, nil
	case <-timeout:
		return nil, ErrReceiveTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.terminalError()
	}
}

// Close stops the actor and sends a close frame with the given code and
// reason. Frames already queued are flushed first, within one write timeout.
func (c *Connection) Close(code int, reason string) {
	c.shutdown(StateClosed, ErrConnectionClosed, code, reason)
}

func (c *Connection) fault(err error) {
	c.log.Warn("Connection faulted", zap.Error(err))
	c.shutdown(StateFaulted, fmt.Errorf("%w: %v", ErrConnectionFaulted, err), 0, "")
}

func (c *Connection) shutdown(state ConnectionState, endErr error, code int, reason string) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.endErr = endErr
		c.errMu.Unlock()

		c.lifecycle.Lock()
		c.state.Store(int32(state))
		c.closeCode, c.closeReason = code, reason
		writer := c.writerRunning
		c.lifecycle.Unlock()
		close(c.done)

		if c.ws == nil {
			return
		}
		// A running writer flushes the queue and sends the close frame itself.
		if writer && code != 0 {
			return
		}
		c.closeSocket(code, reason)
	})
}

func (c *Connection) closeSocket(code int, reason string) {
	if code != 0 {
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	}
	c.ws.Close()
}

func (c *Connection) terminalError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.endErr != nil {
		return c.endErr
	}
	return ErrConnectionClosed
}

func (c *Connection) readLoop() {
	defer close(c.inbound)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("Charge point closed the connection")
				c.shutdown(StateClosed, ErrConnectionClosed, 0, "")
			} else {
				c.fault(err)
			}
			return
		}

		c.Touch()
		if c.cfg.ProtocolDebug {
			c.log.Debug("<< frame", zap.ByteString("raw", data))
		}

		select {
		case c.inbound <- data:
		case <-c.done:
			return
		}
	}
}

func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer c.drop()

	for {
		select {
		case data := <-c.outbound:
			if c.cfg.ProtocolDebug {
				c.log.Debug(">> frame", zap.ByteString("raw", data))
			}
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fault(err)
				return
			}
		case <-ping:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fault(err)
				return
			}
		case <-c.done:
			if c.closeCode != 0 {
				c.flush()
				c.closeSocket(c.closeCode, c.closeReason)
			}
			return
		}
	}
}

// flush writes the frames still queued at a graceful close. All of them
// share a single write deadline.
func (c *Connection) flush() {
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	for {
		select {
		case data := <-c.outbound:
			if c.cfg.ProtocolDebug {
				c.log.Debug(">> frame", zap.ByteString("raw", data))
			}
			c.ws.SetWriteDeadline(deadline)
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn("Failed to flush queued frame", zap.Error(err))
				return
			}
		default:
			return
		}
	}
}

// drop discards whatever was still queued when the writer stopped.
func (c *Connection) drop() {
	dropped := 0
	for {
		select {
		case <-c.outbound:
			dropped++
		default:
			if dropped > 0 {
				c.log.Warn("Dropped queued frames", zap.Int("count", dropped))
			}
			return
		}
	}
}
