package v201

import (
	"fmt"
	"sync"
	"time"
)

// PendingRequest is an outbound Call waiting for its CallResult or CallError.
type PendingRequest struct {
	ID        string
	Action    string
	ChargerID string
	IssuedAt  time.Time

	reply chan *Message
}

func newPendingRequest(id, action, chargerID string) *PendingRequest {
	return &PendingRequest{
		ID:        id,
		Action:    action,
		ChargerID: chargerID,
		IssuedAt:  time.Now(),
		reply:     make(chan *Message, 1),
	}
}

// Reply yields the correlated response once it arrives.
func (p *PendingRequest) Reply() <-chan *Message { return p.reply }

type PendingTable struct {
	mu      sync.Mutex
	entries map[string]*PendingRequest
}

func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[string]*PendingRequest)}
}

func (t *PendingTable) Add(req *PendingRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[req.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRequestID, req.ID)
	}
	t.entries[req.ID] = req
	return nil
}

// Complete delivers m to the request with the same id, if it was issued to
// chargerID, and removes it from the table.
func (t *PendingTable) Complete(chargerID string, m *Message) (*PendingRequest, bool) {
	t.mu.Lock()
	req, ok := t.entries[m.ID]
	if !ok || req.ChargerID != chargerID {
		t.mu.Unlock()
		return nil, false
	}
	delete(t.entries, m.ID)
	t.mu.Unlock()

	req.reply <- m
	return req, true
}

func (t *PendingTable) Remove(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Sweep drops requests issued before now-maxAge and returns them.
func (t *PendingTable) Sweep(now time.Time, maxAge time.Duration) []*PendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []*PendingRequest
	for id, req := range t.entries {
		if now.Sub(req.IssuedAt) > maxAge {
			expired = append(expired, req)
			delete(t.entries, id)
		}
	}
	return expired
}
