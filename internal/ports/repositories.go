package ports

import (
	"context"
	"time"

	"github.com/seu-repo/ocpp-csms/internal/domain"
)

type ChargePointRepository interface {
	Save(ctx context.Context, cp *domain.ChargePoint) error
	FindByID(ctx context.Context, id string) (*domain.ChargePoint, error)
	FindAll(ctx context.Context) ([]domain.ChargePoint, error)
	UpdateStatus(ctx context.Context, id string, status domain.ChargePointStatus) error
	Touch(ctx context.Context, id string, seen time.Time) error
}

type TransactionRepository interface {
	Save(ctx context.Context, tx *domain.TransactionRecord) error
	// FindByID looks a transaction up by charger and id. An empty chargerID
	// matches any charger and fails with ErrAmbiguousTransaction when the id
	// is used by more than one.
	FindByID(ctx context.Context, chargerID, id string) (*domain.TransactionRecord, error)
	FindByChargerID(ctx context.Context, chargerID string, limit int) ([]domain.TransactionRecord, error)
}

// Cache is a string key/value store with expiry.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// EnergySink receives finished sessions as time series points.
type EnergySink interface {
	WriteSession(ctx context.Context, record *domain.TransactionRecord) error
	Close()
}
