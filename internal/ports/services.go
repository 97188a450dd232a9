package ports

import (
	"context"
	"time"

	"github.com/seu-repo/ocpp-csms/internal/domain"
)

// TransactionService is the persistence collaborator for finished sessions.
type TransactionService interface {
	SaveCompletedTransaction(ctx context.Context, record *domain.TransactionRecord) error
	GetTransaction(ctx context.Context, chargerID, id string) (*domain.TransactionRecord, error)
	ListChargerTransactions(ctx context.Context, chargerID string, limit int) ([]domain.TransactionRecord, error)
}

// DeviceService receives charger lifecycle and status changes.
type DeviceService interface {
	RecordConnection(ctx context.Context, chargerID string, connected bool) error
	RecordBoot(ctx context.Context, chargerID string, info domain.StationInfo) error
	RecordConnectorStatus(ctx context.Context, change domain.ConnectorStatusChange) error
	RecordHeartbeat(ctx context.Context, chargerID string, seen time.Time) error
	GetDevice(ctx context.Context, id string) (*domain.ChargePoint, error)
	ListDevices(ctx context.Context) ([]domain.ChargePoint, error)
}

// CentralSystem is what the control plane may ask of the OCPP endpoint.
type CentralSystem interface {
	ListChargerStatuses() map[string]domain.ChargerStatus
	RequestStartTransaction(ctx context.Context, chargerID string, evseID, connectorID int) bool
	RequestStopTransaction(ctx context.Context, chargerID, transactionID string) bool
}

// StatusBroadcaster pushes status events to live dashboards.
type StatusBroadcaster interface {
	Broadcast(event string, payload interface{})
}
