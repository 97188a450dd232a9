package domain

import (
	"time"
)

type ChargePointStatus string

const (
	ChargePointStatusAvailable   ChargePointStatus = "Available"
	ChargePointStatusOccupied    ChargePointStatus = "Occupied"
	ChargePointStatusReserved    ChargePointStatus = "Reserved"
	ChargePointStatusUnavailable ChargePointStatus = "Unavailable"
	ChargePointStatusFaulted     ChargePointStatus = "Faulted"
	ChargePointStatusOffline     ChargePointStatus = "Offline"
)

// ChargePoint is the persisted view of a charger.
type ChargePoint struct {
	ID              string            `json:"id" gorm:"primaryKey"`
	Vendor          string            `json:"vendor"`
	Model           string            `json:"model"`
	SerialNumber    string            `json:"serial_number"`
	FirmwareVersion string            `json:"firmware_version"`
	Status          ChargePointStatus `json:"status"`
	Connected       bool              `json:"connected"`
	LastBootReason  string            `json:"last_boot_reason"`
	LastSeen        time.Time         `json:"last_seen"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// StationInfo is what a charger reports about itself at boot.
type StationInfo struct {
	Vendor          string `json:"vendor"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serial_number,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// ConnectorStatusChange is a StatusNotification reduced to what observers need.
type ConnectorStatusChange struct {
	ChargerID   string            `json:"charger_id"`
	EvseID      int               `json:"evse_id"`
	ConnectorID int               `json:"connector_id"`
	Status      ChargePointStatus `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
}

// ChargerStatus is a point-in-time snapshot of one registry entry.
type ChargerStatus struct {
	ChargerID        string    `json:"charger_id"`
	Connected        bool      `json:"connected"`
	BootAcknowledged bool      `json:"boot_acknowledged"`
	LastSeen         time.Time `json:"last_seen"`
	OpenTransactions []string  `json:"open_transactions,omitempty"`
}
