package v201

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/internal/domain"
	"github.com/seu-repo/ocpp-csms/internal/observability/telemetry"
)

// defaultStopTransactionID is sent when a stop is requested without an id.
const defaultStopTransactionID = "default_transaction"

const centralIdToken = "test_token"

// CommandResult is the charger's answer to an outbound command.
type CommandResult struct {
	Success bool
	Payload json.RawMessage
	Error   *CommandError
}

type CommandError struct {
	Code        string
	Description string
}

// SendCommand sends a Call to a connected charger and waits for the
// correlated reply. Nothing is written when the charger is not registered.
func (s *Server) SendCommand(ctx context.Context, chargePointID, action string, payload interface{}) (*CommandResult, error) {
	if !s.actions.IsCommand(action) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, action)
	}

	conn, ok := s.registry.Lookup(chargePointID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChargerNotConnected, chargePointID)
	}

	msg, err := NewCall(uuid.NewString(), action, payload)
	if err != nil {
		return nil, err
	}

	req := newPendingRequest(msg.ID, action, chargePointID)
	if err := s.pending.Add(req); err != nil {
		return nil, err
	}
	defer s.pending.Remove(msg.ID)

	if err := conn.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", action, err)
	}
	telemetry.OCPPMessagesTotal.WithLabelValues(action, "outbound").Inc()

	s.log.Info("Command sent",
		zap.String("charger_id", chargePointID),
		zap.String("action", action),
		zap.String("message_id", msg.ID),
	)

	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case reply := <-req.Reply():
		if reply.Type == CallError {
			return &CommandResult{Error: &CommandError{
				Code:        reply.ErrorCode,
				Description: reply.ErrorDescription,
			}}, nil
		}
		return &CommandResult{Success: true, Payload: reply.Payload}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s to %s", ErrCommandTimeout, action, chargePointID)
	case <-conn.Done():
		return nil, conn.terminalError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RemoteStartTransaction requests a charge point to start a transaction
func (s *Server) RemoteStartTransaction(ctx context.Context, chargePointID string, evseID, connectorID int) (*RequestStartTransactionResponse, error) {
	req := RequestStartTransactionRequest{
		IdToken: IdToken{
			IdToken: centralIdToken,
			Type:    "Central",
		},
		RemoteStartId: int(time.Now().UnixNano() % 1000000),
		EvseId:        &evseID,
		ConnectorId:   &connectorID,
	}

	resp, err := s.SendCommand(ctx, chargePointID, ActionRequestStartTransaction, req)
	if err != nil {
		return nil, fmt.Errorf("remote start transaction failed: %w", err)
	}

	if !resp.Success {
		return nil, fmt.Errorf("remote start rejected: %s - %s", resp.Error.Code, resp.Error.Description)
	}

	var response RequestStartTransactionResponse
	if err := json.Unmarshal(resp.Payload, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &response, nil
}

// RemoteStopTransaction requests a charge point to stop a transaction
func (s *Server) RemoteStopTransaction(ctx context.Context, chargePointID, transactionID string) (*RequestStopTransactionResponse, error) {
	if transactionID == "" {
		transactionID = defaultStopTransactionID
	}
	req := RequestStopTransactionRequest{
		TransactionId: transactionID,
	}

	resp, err := s.SendCommand(ctx, chargePointID, ActionRequestStopTransaction, req)
	if err != nil {
		return nil, fmt.Errorf("remote stop transaction failed: %w", err)
	}

	if !resp.Success {
		return nil, fmt.Errorf("remote stop rejected: %s - %s", resp.Error.Code, resp.Error.Description)
	}

	var response RequestStopTransactionResponse
	if err := json.Unmarshal(resp.Payload, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &response, nil
}

// RequestStartTransaction reports whether the charger accepted the start.
func (s *Server) RequestStartTransaction(ctx context.Context, chargerID string, evseID, connectorID int) bool {
	resp, err := s.RemoteStartTransaction(ctx, chargerID, evseID, connectorID)
	if err != nil {
		s.logCommandFailure(chargerID, ActionRequestStartTransaction, err)
		return false
	}
	return resp.Status == "Accepted"
}

// RequestStopTransaction reports whether the charger accepted the stop.
func (s *Server) RequestStopTransaction(ctx context.Context, chargerID, transactionID string) bool {
	resp, err := s.RemoteStopTransaction(ctx, chargerID, transactionID)
	if err != nil {
		s.logCommandFailure(chargerID, ActionRequestStopTransaction, err)
		return false
	}
	return resp.Status == "Accepted"
}

func (s *Server) ListChargerStatuses() map[string]domain.ChargerStatus {
	return s.registry.ListStatuses()
}

func (s *Server) logCommandFailure(chargerID, action string, err error) {
	if errors.Is(err, ErrChargerNotConnected) {
		s.log.Warn("Command for offline charger", zap.String("charger_id", chargerID), zap.String("action", action))
		return
	}
	s.log.Error("Command failed", zap.String("charger_id", chargerID), zap.String("action", action), zap.Error(err))
}
