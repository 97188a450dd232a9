package v201

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/internal/domain"
	"github.com/seu-repo/ocpp-csms/internal/observability/telemetry"
)

func (s *Server) registerHandlers() {
	s.actions.Handle(ActionBootNotification, s.handleBootNotification)
	s.actions.Handle(ActionHeartbeat, s.handleHeartbeat)
	s.actions.Handle(ActionStatusNotification, s.handleStatusNotification)
	s.actions.Handle(ActionAuthorize, s.handleAuthorize)
	s.actions.Handle(ActionTransactionEvent, s.handleTransactionEvent)

	s.actions.RegisterCommand(ActionRequestStartTransaction)
	s.actions.RegisterCommand(ActionRequestStopTransaction)
}

// handleAction routes a Call to its handler and writes exactly one reply.
func (s *Server) handleAction(ctx context.Context, c *Connection, msg *Message) {
	start := time.Now()
	telemetry.OCPPMessagesTotal.WithLabelValues(msg.Action, "inbound").Inc()

	ctx, span := s.tracer.Start(ctx, "ocpp."+msg.Action, trace.WithAttributes(
		attribute.String("ocpp.charger_id", c.ID()),
		attribute.String("ocpp.message_id", msg.ID),
	))
	defer span.End()

	log := s.log.With(
		zap.String("charger_id", c.ID()),
		zap.String("action", msg.Action),
		zap.String("message_id", msg.ID),
	)
	log.Debug("Handling OCPP action")

	handler, ok := s.actions.Lookup(msg.Action)
	if !ok {
		telemetry.OCPPErrorsTotal.WithLabelValues("not_implemented").Inc()
		log.Warn("Action not implemented")
		s.sendError(ctx, c, msg.ID, ErrorCodeNotImplemented, fmt.Sprintf("Action %s not implemented", msg.Action))
		return
	}

	payload, err := s.invoke(ctx, handler, c, msg.Payload)
	telemetry.OCPPHandlerLatency.WithLabelValues(msg.Action).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.OCPPErrorsTotal.WithLabelValues("handler").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Error handling action", zap.Error(err))
		s.sendError(ctx, c, msg.ID, ErrorCodeInternalError, "An internal error occurred")
		return
	}

	s.sendCallResult(ctx, c, msg.ID, payload)
}

// invoke runs a handler, turning a panic into an error.
func (s *Server) invoke(ctx context.Context, h HandlerFunc, c *Connection, payload json.RawMessage) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, c, payload)
}

// handleReply completes the pending command a CallResult or CallError belongs to.
func (s *Server) handleReply(c *Connection, msg *Message) {
	req, ok := s.pending.Complete(c.ID(), msg)
	if !ok {
		s.log.Warn("Reply for unknown request discarded",
			zap.String("charger_id", c.ID()),
			zap.String("message_id", msg.ID),
			zap.Stringer("type", msg.Type),
		)
		return
	}
	telemetry.OCPPMessagesTotal.WithLabelValues(req.Action, "reply").Inc()
	s.log.Debug("Command reply received",
		zap.String("charger_id", c.ID()),
		zap.String("action", req.Action),
		zap.String("message_id", msg.ID),
		zap.Duration("latency", time.Since(req.IssuedAt)),
	)
}

func (s *Server) handleBootNotification(ctx context.Context, c *Connection, payload json.RawMessage) (interface{}, error) {
	var req BootNotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		// Boot is accepted even when the station info cannot be read.
		s.log.Warn("Unreadable BootNotification payload", zap.String("charger_id", c.ID()), zap.Error(err))
	}

	c.AcknowledgeBoot()
	c.Touch()

	s.log.Info("BootNotification received",
		zap.String("charger_id", c.ID()),
		zap.String("vendor", req.ChargingStation.VendorName),
		zap.String("model", req.ChargingStation.Model),
		zap.String("reason", req.Reason),
	)

	info := domain.StationInfo{
		Vendor:          req.ChargingStation.VendorName,
		Model:           req.ChargingStation.Model,
		SerialNumber:    req.ChargingStation.SerialNumber,
		FirmwareVersion: req.ChargingStation.FirmwareVersion,
		Reason:          req.Reason,
	}
	s.collaborate(ctx, func(ctx context.Context) error {
		return s.deviceService.RecordBoot(ctx, c.ID(), info)
	}, c.ID(), "record boot")

	return &BootNotificationResponse{
		CurrentTime: time.Now().UTC().Format(time.RFC3339),
		Interval:    int(s.cfg.HeartbeatInterval / time.Second),
		Status:      "Accepted",
	}, nil
}

func (s *Server) handleHeartbeat(ctx context.Context, c *Connection, _ json.RawMessage) (interface{}, error) {
	c.Touch()
	seen := c.LastSeen()

	s.collaborate(ctx, func(ctx context.Context) error {
		return s.deviceService.RecordHeartbeat(ctx, c.ID(), seen)
	}, c.ID(), "record heartbeat")

	return &HeartbeatResponse{
		CurrentTime: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Server) handleStatusNotification(ctx context.Context, c *Connection, payload json.RawMessage) (interface{}, error) {
	var req StatusNotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}

	s.log.Info("Status Notification",
		zap.String("charger_id", c.ID()),
		zap.String("status", req.ConnectorStatus),
		zap.Int("evse_id", req.EvseId),
		zap.Int("connector_id", req.ConnectorId),
	)

	change := domain.ConnectorStatusChange{
		ChargerID:   c.ID(),
		EvseID:      req.EvseId,
		ConnectorID: req.ConnectorId,
		Status:      domain.ChargePointStatus(req.ConnectorStatus),
		Timestamp:   parseTimestamp(req.Timestamp),
	}
	s.collaborate(ctx, func(ctx context.Context) error {
		return s.deviceService.RecordConnectorStatus(ctx, change)
	}, c.ID(), "record connector status")

	return &StatusNotificationResponse{}, nil
}

func (s *Server) handleAuthorize(_ context.Context, c *Connection, payload json.RawMessage) (interface{}, error) {
	var req AuthorizeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}

	token := req.IdToken.IdToken
	if token == "" {
		token = "unknown"
	}

	s.log.Info("Authorization Request",
		zap.String("charger_id", c.ID()),
		zap.String("id_token", token),
		zap.String("type", req.IdToken.Type),
	)

	// Every token is accepted; there is no local authorization list.
	return &AuthorizeResponse{
		IdTokenInfo: IdTokenInfo{
			Status:  "Accepted",
			IdToken: token,
		},
	}, nil
}

// handleTransactionEvent always replies with an empty payload. Extraction or
// persistence problems are logged so the charger's session never stalls.
func (s *Server) handleTransactionEvent(ctx context.Context, c *Connection, payload json.RawMessage) (interface{}, error) {
	ev, skipped, err := decodeTransactionEvent(c.ID(), payload)
	if err != nil {
		s.log.Error("Unreadable TransactionEvent payload", zap.String("charger_id", c.ID()), zap.Error(err))
		return &TransactionEventResponse{}, nil
	}
	if len(skipped) > 0 {
		s.log.Warn("TransactionEvent fields with unexpected types ignored",
			zap.String("charger_id", c.ID()),
			zap.Strings("fields", skipped),
		)
	}

	rec, done := c.Ledger().Apply(ev)
	if rec == nil {
		s.log.Warn("TransactionEvent without transaction id",
			zap.String("charger_id", c.ID()),
			zap.String("event_type", string(ev.EventType)),
		)
		return &TransactionEventResponse{}, nil
	}

	s.log.Info("Transaction event",
		zap.String("charger_id", c.ID()),
		zap.String("event_type", string(ev.EventType)),
		zap.String("transaction_id", rec.TransactionID),
		zap.Float64("energy_kwh", rec.EnergyDeliveredKWh),
		zap.Float64("total_cost", rec.TotalCost),
	)

	if done {
		s.collaborate(ctx, func(ctx context.Context) error {
			return s.txService.SaveCompletedTransaction(ctx, rec)
		}, c.ID(), "save completed transaction")
	}

	return &TransactionEventResponse{}, nil
}

// collaborate calls an external collaborator with a bounded context that
// outlives server shutdown. Failures are logged and never reach the charger.
func (s *Server) collaborate(ctx context.Context, fn func(context.Context) error, chargerID, what string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CollaboratorTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		telemetry.OCPPErrorsTotal.WithLabelValues("collaborator").Inc()
		s.log.Error("Collaborator call failed",
			zap.String("charger_id", chargerID),
			zap.String("operation", what),
			zap.Error(err),
		)
	}
}

func (s *Server) sendCallResult(ctx context.Context, c *Connection, msgID string, payload interface{}) {
	msg, err := NewCallResult(msgID, payload)
	if err != nil {
		s.log.Error("Failed to build CallResult", zap.String("charger_id", c.ID()), zap.Error(err))
		s.sendError(ctx, c, msgID, ErrorCodeInternalError, "An internal error occurred")
		return
	}
	s.send(ctx, c, msg)
}

func (s *Server) sendError(ctx context.Context, c *Connection, msgID, code, desc string) {
	s.send(ctx, c, NewCallError(msgID, code, desc))
}

// send queues a reply. Replies are still delivered while the server drains.
func (s *Server) send(ctx context.Context, c *Connection, msg *Message) {
	if err := c.Send(context.WithoutCancel(ctx), msg); err != nil {
		s.log.Warn("Failed to queue reply",
			zap.String("charger_id", c.ID()),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

func parseTimestamp(v string) time.Time {
	if v == "" {
		return time.Now().UTC()
	}
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Now().UTC()
	}
	return ts.UTC()
}
