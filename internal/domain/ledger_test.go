package domain

import (
	"testing"
	"time"
)

func energyPeriod(name string, wh float64) []ChargingPeriod {
	return []ChargingPeriod{{Dimensions: []Measurement{{Name: name, Value: wh}}}}
}

func TestExtractEnergyKWh(t *testing.T) {
	tests := []struct {
		name string
		ev   TransactionEvent
		want float64
	}{
		{
			name: "charging periods in Wh",
			ev: TransactionEvent{Data: &TransactionDetails{
				TransactionID:   "TX1",
				ChargingPeriods: energyPeriod(EnergyActiveImportRegister, 1500),
			}},
			want: 1.5,
		},
		{
			name: "meter value already in kWh",
			ev: TransactionEvent{MeterValues: []MeterSample{{
				SampledValues: []Measurement{{Name: EnergyActiveImportRegister, Value: 2.0}},
			}}},
			want: 2.0,
		},
		{
			name: "nothing reported",
			ev:   TransactionEvent{Data: &TransactionDetails{TransactionID: "TX1"}},
			want: 0,
		},
		{
			name: "first matching period wins",
			ev: TransactionEvent{Data: &TransactionDetails{ChargingPeriods: []ChargingPeriod{
				{Dimensions: []Measurement{{Name: "Power.Active.Import", Value: 7000}}},
				{Dimensions: []Measurement{{Name: EnergyActiveImportRegister, Value: 3000}}},
				{Dimensions: []Measurement{{Name: EnergyActiveImportRegister, Value: 9000}}},
			}}},
			want: 3.0,
		},
		{
			name: "periods without register do not fall back to meter values",
			ev: TransactionEvent{
				Data: &TransactionDetails{ChargingPeriods: energyPeriod("Power.Active.Import", 7000)},
				MeterValues: []MeterSample{{
					SampledValues: []Measurement{{Name: EnergyActiveImportRegister, Value: 4.0}},
				}},
			},
			want: 0,
		},
		{
			name: "periods taken from alternate section",
			ev: TransactionEvent{
				Data: &TransactionDetails{},
				Info: &TransactionDetails{ChargingPeriods: energyPeriod(EnergyActiveImportRegister, 2500)},
			},
			want: 2.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractEnergyKWh(tt.ev); got != tt.want {
				t.Errorf("ExtractEnergyKWh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveTransactionID(t *testing.T) {
	ev := TransactionEvent{Info: &TransactionDetails{TransactionID: "ALT"}}
	if got := ResolveTransactionID(ev); got != "ALT" {
		t.Errorf("expected alternate id, got %q", got)
	}

	ev.Data = &TransactionDetails{TransactionID: "PRIMARY"}
	if got := ResolveTransactionID(ev); got != "PRIMARY" {
		t.Errorf("expected primary id, got %q", got)
	}

	if got := ResolveTransactionID(TransactionEvent{}); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
}

func TestLedgerLifecycle(t *testing.T) {
	l := NewTransactionLedger("station_07", 2)
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	rec, done := l.Apply(TransactionEvent{
		EventType: TransactionEventStarted,
		Timestamp: start,
		Data:      &TransactionDetails{TransactionID: "TX1"},
	})
	if done || rec == nil {
		t.Fatalf("started event must not complete the session")
	}
	if ids := l.OpenTransactionIDs(); len(ids) != 1 || ids[0] != "TX1" {
		t.Fatalf("unexpected open ids %v", ids)
	}

	l.Apply(TransactionEvent{
		EventType: TransactionEventUpdated,
		Timestamp: start.Add(time.Minute),
		Data: &TransactionDetails{
			TransactionID:   "TX1",
			TotalCost:       300,
			ChargingPeriods: energyPeriod(EnergyActiveImportRegister, 2000),
		},
	})
	// A lower reading must not move the running total backwards.
	l.Apply(TransactionEvent{
		EventType: TransactionEventUpdated,
		Timestamp: start.Add(2 * time.Minute),
		Data: &TransactionDetails{
			TransactionID:   "TX1",
			ChargingPeriods: energyPeriod(EnergyActiveImportRegister, 1000),
		},
	})

	open, ok := l.Open("TX1")
	if !ok {
		t.Fatalf("TX1 should still be open")
	}
	if open.EnergyDeliveredKWh != 2.0 {
		t.Errorf("expected 2.0 kWh, got %v", open.EnergyDeliveredKWh)
	}
	if open.TotalCost != 300 {
		t.Errorf("expected cost 300, got %v", open.TotalCost)
	}

	rec, done = l.Apply(TransactionEvent{
		EventType: TransactionEventEnded,
		Timestamp: start.Add(time.Hour),
		Data: &TransactionDetails{
			TransactionID:   "TX1",
			TotalCost:       750,
			ChargingPeriods: energyPeriod(EnergyActiveImportRegister, 5000),
		},
	})
	if !done {
		t.Fatalf("ended event must complete the session")
	}
	if rec.EnergyDeliveredKWh != 5.0 || rec.TotalCost != 750 {
		t.Errorf("unexpected final record %+v", rec)
	}
	if rec.ChargerID != "station_07" || !rec.StartedAt.Equal(start) || rec.EndedAt == nil {
		t.Errorf("unexpected record metadata %+v", rec)
	}
	if len(l.OpenTransactionIDs()) != 0 {
		t.Errorf("ended session still open")
	}
	if len(l.Completed()) != 1 {
		t.Errorf("expected one completed session")
	}
}

func TestLedgerIgnoresEventsWithoutID(t *testing.T) {
	l := NewTransactionLedger("cp", 0)
	rec, done := l.Apply(TransactionEvent{EventType: TransactionEventEnded})
	if rec != nil || done {
		t.Fatalf("expected event without id to be ignored")
	}
}

func TestLedgerHistoryIsBounded(t *testing.T) {
	l := NewTransactionLedger("cp", 2)
	for _, id := range []string{"A", "B", "C"} {
		l.Apply(TransactionEvent{EventType: TransactionEventEnded, Data: &TransactionDetails{TransactionID: id}})
	}
	got := l.Completed()
	if len(got) != 2 || got[0].TransactionID != "B" || got[1].TransactionID != "C" {
		t.Fatalf("unexpected history %+v", got)
	}
}
