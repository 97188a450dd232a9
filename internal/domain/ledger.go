package domain

import (
	"sort"
	"sync"
	"time"
)

const defaultCompletedHistory = 32

// TransactionLedger tracks the sessions of a single charger. Open sessions
// live until their Ended event; finished ones are kept in a short history.
type TransactionLedger struct {
	chargerID  string
	maxHistory int

	mu        sync.Mutex
	open      map[string]*TransactionRecord
	completed []TransactionRecord
}

func NewTransactionLedger(chargerID string, maxHistory int) *TransactionLedger {
	if maxHistory <= 0 {
		maxHistory = defaultCompletedHistory
	}
	return &TransactionLedger{
		chargerID:  chargerID,
		maxHistory: maxHistory,
		open:       make(map[string]*TransactionRecord),
	}
}

// Apply folds one event into the ledger. When the event ends a session the
// detached record is returned with done set; the caller owns it from then on.
// Events without a resolvable transaction id are ignored.
func (l *TransactionLedger) Apply(ev TransactionEvent) (rec *TransactionRecord, done bool) {
	txID := ResolveTransactionID(ev)
	if txID == "" {
		return nil, false
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	energy := ExtractEnergyKWh(ev)
	cost := ResolveTotalCost(ev)

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.open[txID]
	if !ok {
		cur = &TransactionRecord{
			TransactionID: txID,
			ChargerID:     l.chargerID,
			StartedAt:     ts,
		}
		l.open[txID] = cur
	}

	cur.Phase = ev.EventType
	cur.Timestamp = ts
	// Every event carries the running total, so never sum and never go backwards.
	if energy > cur.EnergyDeliveredKWh {
		cur.EnergyDeliveredKWh = energy
	}
	if cost != 0 {
		cur.TotalCost = cost
	}

	if ev.EventType != TransactionEventEnded {
		snapshot := *cur
		return &snapshot, false
	}

	ended := ts
	cur.EndedAt = &ended
	delete(l.open, txID)

	l.completed = append(l.completed, *cur)
	if len(l.completed) > l.maxHistory {
		l.completed = l.completed[len(l.completed)-l.maxHistory:]
	}
	return cur, true
}

// OpenTransactionIDs returns the ids of sessions that have not ended, sorted.
func (l *TransactionLedger) OpenTransactionIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.open))
	for id := range l.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *TransactionLedger) Open(txID string) (TransactionRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.open[txID]
	if !ok {
		return TransactionRecord{}, false
	}
	return *rec, true
}

// Completed returns a copy of the recently finished sessions, oldest first.
func (l *TransactionLedger) Completed() []TransactionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]TransactionRecord, len(l.completed))
	copy(out, l.completed)
	return out
}

// ResolveTransactionID reads the id from the primary section, then the alternate one.
func ResolveTransactionID(ev TransactionEvent) string {
	if ev.Data != nil && ev.Data.TransactionID != "" {
		return ev.Data.TransactionID
	}
	if ev.Info != nil {
		return ev.Info.TransactionID
	}
	return ""
}

// ResolveTotalCost returns the reported cost, 0 when absent. A zero cost in
// the primary section falls through to the alternate one.
func ResolveTotalCost(ev TransactionEvent) float64 {
	if ev.Data != nil && ev.Data.TotalCost != 0 {
		return ev.Data.TotalCost
	}
	if ev.Info != nil {
		return ev.Info.TotalCost
	}
	return 0
}

// ExtractEnergyKWh resolves the delivered energy of an event.
//
// Charging periods report Wh and are converted; the legacy meterValue shape
// already reports kWh. When periods are present the meter values are not
// consulted, even if no period carries the energy register.
func ExtractEnergyKWh(ev TransactionEvent) float64 {
	if periods := chargingPeriods(ev); len(periods) > 0 {
		for _, p := range periods {
			for _, d := range p.Dimensions {
				if d.Name == EnergyActiveImportRegister {
					return d.Value / 1000.0
				}
			}
		}
		return 0
	}

	for _, mv := range ev.MeterValues {
		for _, sv := range mv.SampledValues {
			if sv.Name == EnergyActiveImportRegister {
				return sv.Value
			}
		}
	}
	return 0
}

func chargingPeriods(ev TransactionEvent) []ChargingPeriod {
	if ev.Data != nil && len(ev.Data.ChargingPeriods) > 0 {
		return ev.Data.ChargingPeriods
	}
	if ev.Info != nil {
		return ev.Info.ChargingPeriods
	}
	return nil
}
