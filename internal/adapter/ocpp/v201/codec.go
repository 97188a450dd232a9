package v201

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var emptyObject = json.RawMessage(`{}`)

// Message is a decoded OCPP-J frame. Which fields are set depends on Type.
type Message struct {
	Type             MessageType
	ID               string
	Action           string          // Call only
	Payload          json.RawMessage // Call and CallResult
	ErrorCode        string          // CallError only
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

func NewCall(id, action string, payload interface{}) (*Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: Call, ID: id, Action: action, Payload: raw}, nil
}

func NewCallResult(id string, payload interface{}) (*Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: CallResult, ID: id, Payload: raw}, nil
}

func NewCallError(id, code, description string) *Message {
	return &Message{Type: CallError, ID: id, ErrorCode: code, ErrorDescription: description}
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		if len(p) == 0 || bytes.Equal(p, []byte("null")) {
			return emptyObject, nil
		}
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if bytes.Equal(raw, []byte("null")) {
		return emptyObject, nil
	}
	return raw, nil
}

// Encode renders m as a JSON array frame.
func Encode(m *Message) ([]byte, error) {
	if m.ID == "" {
		return nil, ErrEmptyMessageID
	}

	payload := m.Payload
	if len(payload) == 0 {
		payload = emptyObject
	}

	var frame []interface{}
	switch m.Type {
	case Call:
		if m.Action == "" {
			return nil, fmt.Errorf("%w: call without action", ErrMalformedMessage)
		}
		frame = []interface{}{Call, m.ID, m.Action, payload}
	case CallResult:
		frame = []interface{}{CallResult, m.ID, payload}
	case CallError:
		frame = []interface{}{CallError, m.ID, m.ErrorCode, m.ErrorDescription}
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedMessage, m.Type)
	}

	return json.Marshal(frame)
}

// Decode parses a frame. Every structural problem is reported as ErrMalformedMessage;
// payload contents are kept as raw JSON and never inspected here.
func Decode(data []byte) (*Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: not a json array: %v", ErrMalformedMessage, err)
	}
	if len(raw) < 3 {
		return nil, fmt.Errorf("%w: expected at least 3 elements, got %d", ErrMalformedMessage, len(raw))
	}

	var msgType MessageType
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return nil, fmt.Errorf("%w: invalid message type", ErrMalformedMessage)
	}

	var msgID string
	if err := json.Unmarshal(raw[1], &msgID); err != nil {
		return nil, fmt.Errorf("%w: message id must be a string", ErrMalformedMessage)
	}
	if msgID == "" {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, ErrEmptyMessageID)
	}

	m := &Message{Type: msgType, ID: msgID}

	switch msgType {
	case Call:
		if len(raw) < 4 {
			return nil, fmt.Errorf("%w: call needs 4 elements, got %d", ErrMalformedMessage, len(raw))
		}
		if err := json.Unmarshal(raw[2], &m.Action); err != nil || m.Action == "" {
			return nil, fmt.Errorf("%w: action must be a non-empty string", ErrMalformedMessage)
		}
		payload, err := objectPayload(raw[3])
		if err != nil {
			return nil, err
		}
		m.Payload = payload
	case CallResult:
		payload, err := objectPayload(raw[2])
		if err != nil {
			return nil, err
		}
		m.Payload = payload
	case CallError:
		if err := json.Unmarshal(raw[2], &m.ErrorCode); err != nil {
			return nil, fmt.Errorf("%w: error code must be a string", ErrMalformedMessage)
		}
		if len(raw) > 3 {
			// Some chargers send null or a non-string here; keep whatever is readable.
			_ = json.Unmarshal(raw[3], &m.ErrorDescription)
		}
		if len(raw) > 4 {
			m.ErrorDetails = raw[4]
		}
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedMessage, msgType)
	}

	return m, nil
}

func objectPayload(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return emptyObject, nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload must be an object", ErrMalformedMessage)
	}
	return trimmed, nil
}
