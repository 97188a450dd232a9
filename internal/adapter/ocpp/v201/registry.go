package v201

import (
	"hash/fnv"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/internal/domain"
)

const defaultRegistryShards = 16

// Registry is the process-wide table of attached chargers.
type Registry struct {
	shards []*registryShard
	log    *zap.Logger
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry(shards int, log *zap.Logger) *Registry {
	if shards <= 0 {
		shards = defaultRegistryShards
	}
	r := &Registry{
		shards: make([]*registryShard, shards),
		log:    log,
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{conns: make(map[string]*Connection)}
	}
	return r
}

func (r *Registry) shard(id string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Register installs conn for id. A connection already registered under the
// same id is superseded: it is closed in the background and returned.
func (r *Registry) Register(id string, conn *Connection) *Connection {
	s := r.shard(id)

	s.mu.Lock()
	previous := s.conns[id]
	s.conns[id] = conn
	s.mu.Unlock()

	if previous != nil && previous != conn {
		r.log.Warn("Superseding existing connection", zap.String("charger_id", id))
		go previous.Close(websocket.ClosePolicyViolation, "superseded")
		return previous
	}
	return nil
}

func (r *Registry) Lookup(id string) (*Connection, bool) {
	s := r.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[id]
	return conn, ok
}

// Unregister removes id if it still maps to conn. A nil conn removes the
// entry unconditionally. Removing an absent entry is a no-op.
func (r *Registry) Unregister(id string, conn *Connection) bool {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.conns[id]
	if !ok {
		return false
	}
	if conn != nil && current != conn {
		return false
	}
	delete(s.conns, id)
	return true
}

// ListStatuses returns a snapshot of every registered charger.
func (r *Registry) ListStatuses() map[string]domain.ChargerStatus {
	out := make(map[string]domain.ChargerStatus)
	for _, conn := range r.Connections() {
		out[conn.ID()] = conn.Status()
	}
	return out
}

// Connections returns the registered connections at the time of the call.
func (r *Registry) Connections() []*Connection {
	var conns []*Connection
	for _, s := range r.shards {
		s.mu.RLock()
		for _, conn := range s.conns {
			conns = append(conns, conn)
		}
		s.mu.RUnlock()
	}
	return conns
}

func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}
