package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	v201 "github.com/seu-repo/ocpp-csms/internal/adapter/ocpp/v201"
	"github.com/seu-repo/ocpp-csms/internal/domain"
)

const callTimeout = 30 * time.Second

// Config describes one simulated charging station.
type Config struct {
	ServerURL       string
	ChargerID       string
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	IdToken         string
	EnergyWh        float64
	PricePerKWh     float64
	SessionDuration time.Duration
	UpdateInterval  time.Duration
	ProtocolDebug   bool
}

// Simulator plays the charging station side of OCPP-J over one websocket.
type Simulator struct {
	cfg  Config
	log  *zap.Logger
	conn *websocket.Conn

	runCtx    context.Context
	cancelRun context.CancelFunc
	readDone  chan struct{}
	wg        sync.WaitGroup

	mu        sync.Mutex
	pending   map[string]chan *v201.Message
	heartbeat time.Duration

	sessionMu   sync.Mutex
	activeTx    string
	stopSession context.CancelFunc
}

func NewSimulator(cfg Config, log *zap.Logger) *Simulator {
	if cfg.SerialNumber == "" {
		cfg.SerialNumber = cfg.ChargerID
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 5 * time.Second
	}
	if cfg.SessionDuration < cfg.UpdateInterval {
		cfg.SessionDuration = cfg.UpdateInterval
	}
	return &Simulator{
		cfg:       cfg,
		log:       log.With(zap.String("charger_id", cfg.ChargerID)),
		pending:   make(map[string]chan *v201.Message),
		heartbeat: 30 * time.Second,
		readDone:  make(chan struct{}),
	}
}

// Connect opens the websocket and starts reading frames.
func (s *Simulator) Connect(ctx context.Context) error {
	url := strings.TrimSuffix(s.cfg.ServerURL, "/") + "/" + s.cfg.ChargerID

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{"ocpp2.0.1"},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 20)
	if conn.Subprotocol() == "" {
		s.log.Warn("Central system did not confirm a subprotocol")
	}

	s.conn = conn
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	go s.readLoop()

	s.log.Info("Connected to central system", zap.String("url", url))
	return nil
}

// Boot announces the station, reports it Available and starts heartbeats.
func (s *Simulator) Boot(ctx context.Context) error {
	var resp v201.BootNotificationResponse
	err := s.call(ctx, v201.ActionBootNotification, v201.BootNotificationRequest{
		ChargingStation: v201.ChargingStation{
			Model:           s.cfg.Model,
			VendorName:      s.cfg.Vendor,
			SerialNumber:    s.cfg.SerialNumber,
			FirmwareVersion: s.cfg.FirmwareVersion,
		},
		Reason: "PowerUp",
	}, &resp)
	if err != nil {
		return fmt.Errorf("boot notification: %w", err)
	}
	s.log.Info("Boot acknowledged", zap.String("status", resp.Status), zap.Int("interval", resp.Interval))

	if resp.Interval > 0 {
		s.mu.Lock()
		s.heartbeat = time.Duration(resp.Interval) * time.Second
		s.mu.Unlock()
	}

	if err := s.status(ctx, domain.ChargePointStatusAvailable); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.heartbeatLoop()
	return nil
}

// Wait blocks until ctx is done or the central system closes the connection.
func (s *Simulator) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.readDone:
		return errors.New("connection closed by central system")
	}
}

// ActiveTransaction returns the id of the running session, if any.
func (s *Simulator) ActiveTransaction() string {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.activeTx
}

// RunSession charges cfg.EnergyWh over cfg.SessionDuration, reporting
// Started, periodic Updated and a final Ended event. An empty txID gets a
// generated one. The session ends early when StopSession is called.
func (s *Simulator) RunSession(ctx context.Context, txID string) error {
	if txID == "" {
		txID = uuid.NewString()
	}
	sessCtx, ok := s.beginSession(ctx, txID)
	if !ok {
		return fmt.Errorf("session %s already running", s.ActiveTransaction())
	}
	defer s.endSession()

	log := s.log.With(zap.String("transaction_id", txID))

	if err := s.status(ctx, domain.ChargePointStatusOccupied); err != nil {
		return err
	}

	var auth v201.AuthorizeResponse
	if err := s.call(ctx, v201.ActionAuthorize, v201.AuthorizeRequest{
		IdToken: v201.IdToken{IdToken: s.cfg.IdToken, Type: "ISO14443"},
	}, &auth); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	if auth.IdTokenInfo.Status != "Accepted" {
		return fmt.Errorf("id token %s not accepted: %s", s.cfg.IdToken, auth.IdTokenInfo.Status)
	}

	seq := 0
	if err := s.transactionEvent(ctx, txID, "Started", "Authorized", &seq, 0); err != nil {
		return err
	}
	log.Info("Charging started")

	steps := int(s.cfg.SessionDuration / s.cfg.UpdateInterval)
	ticker := time.NewTicker(s.cfg.UpdateInterval)
	defer ticker.Stop()

	delivered := 0.0
	reason := "EnergyLimitReached"
loop:
	for i := 1; i <= steps; i++ {
		select {
		case <-sessCtx.Done():
			reason = "RemoteStop"
			break loop
		case <-ticker.C:
		}
		delivered = s.cfg.EnergyWh * float64(i) / float64(steps)
		if i == steps {
			break
		}
		if err := s.transactionEvent(ctx, txID, "Updated", "MeterValuePeriodic", &seq, delivered); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := s.transactionEvent(ctx, txID, "Ended", reason, &seq, delivered); err != nil {
		return err
	}
	log.Info("Charging ended", zap.Float64("energy_wh", delivered), zap.String("reason", reason))

	return s.status(ctx, domain.ChargePointStatusAvailable)
}

// StopSession ends the running session if txID matches it or is empty.
func (s *Simulator) StopSession(txID string) bool {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.stopSession == nil || (txID != "" && txID != s.activeTx) {
		return false
	}
	s.stopSession()
	return true
}

func (s *Simulator) beginSession(ctx context.Context, txID string) (context.Context, bool) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.activeTx != "" {
		return nil, false
	}
	sessCtx, cancel := context.WithCancel(ctx)
	s.activeTx = txID
	s.stopSession = cancel
	return sessCtx, true
}

func (s *Simulator) endSession() {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.stopSession != nil {
		s.stopSession()
	}
	s.activeTx = ""
	s.stopSession = nil
}

// Close stops background work and closes the websocket.
func (s *Simulator) Close() error {
	if s.conn == nil {
		return nil
	}
	s.StopSession("")
	s.cancelRun()
	err := s.conn.Close(websocket.StatusNormalClosure, "simulator stopped")
	s.wg.Wait()
	return err
}

func (s *Simulator) status(ctx context.Context, st domain.ChargePointStatus) error {
	err := s.call(ctx, v201.ActionStatusNotification, v201.StatusNotificationRequest{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		ConnectorStatus: string(st),
		EvseId:          1,
		ConnectorId:     1,
	}, nil)
	if err != nil {
		return fmt.Errorf("status notification: %w", err)
	}
	return nil
}

// transactionEvent reports the running total both as a charging period
// dimension (Wh) and as a meter value sample (kWh).
func (s *Simulator) transactionEvent(ctx context.Context, txID, eventType, trigger string, seq *int, energyWh float64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	info := &v201.TransactionInfo{
		TransactionId: v201.TransactionID(txID),
		ChargingState: "Charging",
		ChargingPeriods: []v201.ChargingPeriod{{
			StartPeriod: now,
			Dimensions: []v201.Dimension{
				{Name: domain.EnergyActiveImportRegister, Value: v201.Numeric(energyWh)},
			},
		}},
	}
	if eventType == "Ended" {
		info.ChargingState = "Idle"
		cost := v201.Numeric(energyWh / 1000 * s.cfg.PricePerKWh)
		info.TotalCost = &cost
	}

	req := v201.TransactionEventRequest{
		EventType:       eventType,
		Timestamp:       now,
		TriggerReason:   trigger,
		SeqNo:           *seq,
		TransactionInfo: info,
		Evse:            &v201.Evse{Id: 1, ConnectorId: 1},
		MeterValue: []v201.MeterValue{{
			Timestamp: now,
			SampledValue: []v201.SampledValue{
				{Value: v201.Numeric(energyWh / 1000), Context: "Sample.Periodic", Measurand: domain.EnergyActiveImportRegister, Unit: "kWh"},
			},
		}},
	}
	if eventType == "Started" {
		req.IdToken = &v201.IdToken{IdToken: s.cfg.IdToken, Type: "ISO14443"}
	}
	*seq++

	if err := s.call(ctx, v201.ActionTransactionEvent, req, nil); err != nil {
		return fmt.Errorf("transaction event %s: %w", eventType, err)
	}
	return nil
}

// call sends a Call and waits for its CallResult, decoding it into out.
func (s *Simulator) call(ctx context.Context, action string, payload, out interface{}) error {
	id := uuid.NewString()
	msg, err := v201.NewCall(id, action, payload)
	if err != nil {
		return err
	}

	reply := make(chan *v201.Message, 1)
	s.mu.Lock()
	s.pending[id] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.write(ctx, msg); err != nil {
		return err
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()

	select {
	case res := <-reply:
		if res.Type == v201.CallError {
			return fmt.Errorf("%s rejected: %s %s", action, res.ErrorCode, res.ErrorDescription)
		}
		if out != nil {
			return json.Unmarshal(res.Payload, out)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout waiting for %s response", action)
	case <-s.readDone:
		return errors.New("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) write(ctx context.Context, msg *v201.Message) error {
	data, err := v201.Encode(msg)
	if err != nil {
		return err
	}
	if s.cfg.ProtocolDebug {
		s.log.Debug(">> frame", zap.ByteString("raw", data))
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *Simulator) readLoop() {
	defer close(s.readDone)

	for {
		_, data, err := s.conn.Read(s.runCtx)
		if err != nil {
			if s.runCtx.Err() == nil {
				s.log.Warn("Connection lost", zap.Error(err))
			}
			return
		}
		if s.cfg.ProtocolDebug {
			s.log.Debug("<< frame", zap.ByteString("raw", data))
		}

		msg, err := v201.Decode(data)
		if err != nil {
			s.log.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}

		switch msg.Type {
		case v201.Call:
			s.handleServerCall(msg)
		default:
			s.mu.Lock()
			ch, ok := s.pending[msg.ID]
			s.mu.Unlock()
			if ok {
				ch <- msg
			}
		}
	}
}

func (s *Simulator) handleServerCall(msg *v201.Message) {
	s.log.Info("Command received", zap.String("action", msg.Action))

	var (
		resp  interface{}
		after func()
	)
	switch msg.Action {
	case v201.ActionRequestStartTransaction:
		resp, after = s.remoteStart(msg.Payload)
	case v201.ActionRequestStopTransaction:
		var req v201.RequestStopTransactionRequest
		_ = json.Unmarshal(msg.Payload, &req)
		status := "Rejected"
		if s.StopSession(req.TransactionId) || (req.TransactionId == "default_transaction" && s.StopSession("")) {
			status = "Accepted"
		}
		resp = v201.RequestStopTransactionResponse{Status: status}
	default:
		s.reply(v201.NewCallError(msg.ID, v201.ErrorCodeNotImplemented, "Action "+msg.Action+" not implemented"))
		return
	}

	result, err := v201.NewCallResult(msg.ID, resp)
	if err != nil {
		s.reply(v201.NewCallError(msg.ID, v201.ErrorCodeInternalError, err.Error()))
		return
	}
	s.reply(result)
	if after != nil {
		after()
	}
}

// remoteStart accepts when no session is running. The returned func starts
// the session once the reply has been sent.
func (s *Simulator) remoteStart(payload json.RawMessage) (v201.RequestStartTransactionResponse, func()) {
	var req v201.RequestStartTransactionRequest
	_ = json.Unmarshal(payload, &req)

	if s.ActiveTransaction() != "" {
		return v201.RequestStartTransactionResponse{Status: "Rejected"}, nil
	}

	txID := uuid.NewString()
	start := func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.RunSession(s.runCtx, txID); err != nil && s.runCtx.Err() == nil {
				s.log.Error("Remote session failed", zap.String("transaction_id", txID), zap.Error(err))
			}
		}()
	}
	return v201.RequestStartTransactionResponse{Status: "Accepted", TransactionId: txID}, start
}

func (s *Simulator) reply(msg *v201.Message) {
	ctx, cancel := context.WithTimeout(s.runCtx, 5*time.Second)
	defer cancel()
	if err := s.write(ctx, msg); err != nil {
		s.log.Warn("Failed to send reply", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func (s *Simulator) heartbeatLoop() {
	defer s.wg.Done()

	s.mu.Lock()
	interval := s.heartbeat
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.runCtx.Done():
			return
		case <-s.readDone:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.runCtx, callTimeout)
			var resp v201.HeartbeatResponse
			if err := s.call(ctx, v201.ActionHeartbeat, struct{}{}, &resp); err != nil {
				s.log.Warn("Heartbeat failed", zap.Error(err))
			}
			cancel()
		}
	}
}
