package v201

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed ocpp message")
	ErrEmptyMessageID   = errors.New("empty message id")

	ErrReceiveTimeout    = errors.New("no message within liveness window")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrConnectionFaulted = errors.New("connection faulted")

	ErrChargerNotConnected = errors.New("charge point not connected")
	ErrDuplicateRequestID  = errors.New("duplicate outbound request id")
	ErrCommandTimeout      = errors.New("command timed out waiting for reply")
	ErrUnknownCommand      = errors.New("unknown outbound command")
)

// Error codes sent in CallError frames.
const (
	ErrorCodeNotImplemented = "NotImplemented"
	ErrorCodeInternalError  = "InternalError"
	ErrorCodeFormation      = "FormationViolation"
)
