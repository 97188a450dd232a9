package domain

import (
	"errors"
	"time"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrAmbiguousTransaction = errors.New("transaction id is used by more than one charger")
)

// TransactionEventType is the phase reported by a TransactionEvent.
type TransactionEventType string

const (
	TransactionEventStarted TransactionEventType = "Started"
	TransactionEventUpdated TransactionEventType = "Updated"
	TransactionEventEnded   TransactionEventType = "Ended"
)

// EnergyActiveImportRegister is the measurand carrying the cumulative imported energy.
const EnergyActiveImportRegister = "Energy.Active.Import.Register"

// TransactionRecord is one charging session as tracked by the ledger and
// handed to persistence once it has ended.
type TransactionRecord struct {
	ChargerID          string               `json:"charger_id" gorm:"primaryKey"`
	TransactionID      string               `json:"transaction_id" gorm:"primaryKey;index"`
	Phase              TransactionEventType `json:"phase"`
	EnergyDeliveredKWh float64              `json:"energy_delivered" gorm:"column:energy_delivered_kwh"` // kWh, running total
	TotalCost          float64              `json:"total_cost"`
	StartedAt          time.Time            `json:"started_at"`
	Timestamp          time.Time            `json:"timestamp"` // last observation
	EndedAt            *time.Time           `json:"ended_at,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// TableName keeps the historical table name used by the reporting side.
func (TransactionRecord) TableName() string {
	return "charging_sessions"
}

// Measurement is a named value attached to a charging period (dimension)
// or to a meter sample (measurand).
type Measurement struct {
	Name  string
	Value float64
}

type ChargingPeriod struct {
	Dimensions []Measurement
}

type MeterSample struct {
	SampledValues []Measurement
}

// TransactionDetails is one of the two transaction sections a charger may send.
// Some implementations use "transactionData", others "transactionInfo".
type TransactionDetails struct {
	TransactionID   string
	TotalCost       float64
	ChargingPeriods []ChargingPeriod
}

// TransactionEvent is the plain-data view of a TransactionEvent request.
type TransactionEvent struct {
	ChargerID   string
	EventType   TransactionEventType
	Timestamp   time.Time
	Data        *TransactionDetails // primary section
	Info        *TransactionDetails // alternate section
	MeterValues []MeterSample
}
