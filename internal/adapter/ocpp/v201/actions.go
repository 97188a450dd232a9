package v201

import (
	"context"
	"encoding/json"
	"sort"
)

// Inbound actions a charge point may send.
const (
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionStatusNotification = "StatusNotification"
	ActionAuthorize          = "Authorize"
	ActionTransactionEvent   = "TransactionEvent"
)

// Outbound commands the central system may send.
const (
	ActionRequestStartTransaction = "RequestStartTransaction"
	ActionRequestStopTransaction  = "RequestStopTransaction"
)

// HandlerFunc handles one inbound Call and returns the CallResult payload.
type HandlerFunc func(ctx context.Context, c *Connection, payload json.RawMessage) (interface{}, error)

// ActionRegistry maps action names to handlers and tracks which actions
// only flow from the central system to the charger.
type ActionRegistry struct {
	inbound  map[string]HandlerFunc
	outbound map[string]struct{}
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		inbound:  make(map[string]HandlerFunc),
		outbound: make(map[string]struct{}),
	}
}

func (r *ActionRegistry) Handle(action string, h HandlerFunc) {
	r.inbound[action] = h
}

func (r *ActionRegistry) RegisterCommand(action string) {
	r.outbound[action] = struct{}{}
}

// Lookup returns the handler for an inbound action. Outbound-only commands
// are never handled even if a charger sends them.
func (r *ActionRegistry) Lookup(action string) (HandlerFunc, bool) {
	if _, isCommand := r.outbound[action]; isCommand {
		return nil, false
	}
	h, ok := r.inbound[action]
	return h, ok
}

func (r *ActionRegistry) IsCommand(action string) bool {
	_, ok := r.outbound[action]
	return ok
}

func (r *ActionRegistry) InboundActions() []string {
	actions := make([]string, 0, len(r.inbound))
	for a := range r.inbound {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	return actions
}
