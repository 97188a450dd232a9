package mocks

import (
	"context"
	"time"

	"github.com/seu-repo/ocpp-csms/internal/domain"
)

// MockChargePointRepository is a mock implementation of ChargePointRepository
type MockChargePointRepository struct {
	SaveFunc         func(ctx context.Context, cp *domain.ChargePoint) error
	FindByIDFunc     func(ctx context.Context, id string) (*domain.ChargePoint, error)
	FindAllFunc      func(ctx context.Context) ([]domain.ChargePoint, error)
	UpdateStatusFunc func(ctx context.Context, id string, status domain.ChargePointStatus) error
	TouchFunc        func(ctx context.Context, id string, seen time.Time) error
}

func (m *MockChargePointRepository) Save(ctx context.Context, cp *domain.ChargePoint) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, cp)
	}
	return nil
}

func (m *MockChargePointRepository) FindByID(ctx context.Context, id string) (*domain.ChargePoint, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockChargePointRepository) FindAll(ctx context.Context) ([]domain.ChargePoint, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc(ctx)
	}
	return []domain.ChargePoint{}, nil
}

func (m *MockChargePointRepository) UpdateStatus(ctx context.Context, id string, status domain.ChargePointStatus) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *MockChargePointRepository) Touch(ctx context.Context, id string, seen time.Time) error {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, id, seen)
	}
	return nil
}

// MockTransactionRepository is a mock implementation of TransactionRepository
type MockTransactionRepository struct {
	SaveFunc            func(ctx context.Context, tx *domain.TransactionRecord) error
	FindByIDFunc        func(ctx context.Context, chargerID, id string) (*domain.TransactionRecord, error)
	FindByChargerIDFunc func(ctx context.Context, chargerID string, limit int) ([]domain.TransactionRecord, error)
}

func (m *MockTransactionRepository) Save(ctx context.Context, tx *domain.TransactionRecord) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx)
	}
	return nil
}

func (m *MockTransactionRepository) FindByID(ctx context.Context, chargerID, id string) (*domain.TransactionRecord, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, chargerID, id)
	}
	return nil, nil
}

func (m *MockTransactionRepository) FindByChargerID(ctx context.Context, chargerID string, limit int) ([]domain.TransactionRecord, error) {
	if m.FindByChargerIDFunc != nil {
		return m.FindByChargerIDFunc(ctx, chargerID, limit)
	}
	return []domain.TransactionRecord{}, nil
}

// MockEnergySink is a mock implementation of EnergySink
type MockEnergySink struct {
	WriteSessionFunc func(ctx context.Context, record *domain.TransactionRecord) error
	Closed           bool
}

func (m *MockEnergySink) WriteSession(ctx context.Context, record *domain.TransactionRecord) error {
	if m.WriteSessionFunc != nil {
		return m.WriteSessionFunc(ctx, record)
	}
	return nil
}

func (m *MockEnergySink) Close() {
	m.Closed = true
}
