package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/seu-repo/ocpp-csms/internal/domain"
)

// MockTransactionService records every completed transaction it receives.
type MockTransactionService struct {
	SaveCompletedTransactionFunc func(ctx context.Context, record *domain.TransactionRecord) error
	GetTransactionFunc           func(ctx context.Context, chargerID, id string) (*domain.TransactionRecord, error)
	ListChargerTransactionsFunc  func(ctx context.Context, chargerID string, limit int) ([]domain.TransactionRecord, error)

	mu    sync.Mutex
	saved []domain.TransactionRecord
}

func (m *MockTransactionService) SaveCompletedTransaction(ctx context.Context, record *domain.TransactionRecord) error {
	m.mu.Lock()
	m.saved = append(m.saved, *record)
	m.mu.Unlock()

	if m.SaveCompletedTransactionFunc != nil {
		return m.SaveCompletedTransactionFunc(ctx, record)
	}
	return nil
}

func (m *MockTransactionService) GetTransaction(ctx context.Context, chargerID, id string) (*domain.TransactionRecord, error) {
	if m.GetTransactionFunc != nil {
		return m.GetTransactionFunc(ctx, chargerID, id)
	}
	return nil, nil
}

func (m *MockTransactionService) ListChargerTransactions(ctx context.Context, chargerID string, limit int) ([]domain.TransactionRecord, error) {
	if m.ListChargerTransactionsFunc != nil {
		return m.ListChargerTransactionsFunc(ctx, chargerID, limit)
	}
	return []domain.TransactionRecord{}, nil
}

// Saved returns a copy of the records passed to SaveCompletedTransaction.
func (m *MockTransactionService) Saved() []domain.TransactionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TransactionRecord, len(m.saved))
	copy(out, m.saved)
	return out
}

// MockDeviceService is a mock implementation of DeviceService interface
type MockDeviceService struct {
	RecordConnectionFunc      func(ctx context.Context, chargerID string, connected bool) error
	RecordBootFunc            func(ctx context.Context, chargerID string, info domain.StationInfo) error
	RecordConnectorStatusFunc func(ctx context.Context, change domain.ConnectorStatusChange) error
	RecordHeartbeatFunc       func(ctx context.Context, chargerID string, seen time.Time) error
	GetDeviceFunc             func(ctx context.Context, id string) (*domain.ChargePoint, error)
	ListDevicesFunc           func(ctx context.Context) ([]domain.ChargePoint, error)

	mu    sync.Mutex
	calls map[string]int
}

func (m *MockDeviceService) count(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// Calls returns how many times the named method was invoked.
func (m *MockDeviceService) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *MockDeviceService) RecordConnection(ctx context.Context, chargerID string, connected bool) error {
	m.count("RecordConnection")
	if m.RecordConnectionFunc != nil {
		return m.RecordConnectionFunc(ctx, chargerID, connected)
	}
	return nil
}

func (m *MockDeviceService) RecordBoot(ctx context.Context, chargerID string, info domain.StationInfo) error {
	m.count("RecordBoot")
	if m.RecordBootFunc != nil {
		return m.RecordBootFunc(ctx, chargerID, info)
	}
	return nil
}

func (m *MockDeviceService) RecordConnectorStatus(ctx context.Context, change domain.ConnectorStatusChange) error {
	m.count("RecordConnectorStatus")
	if m.RecordConnectorStatusFunc != nil {
		return m.RecordConnectorStatusFunc(ctx, change)
	}
	return nil
}

func (m *MockDeviceService) RecordHeartbeat(ctx context.Context, chargerID string, seen time.Time) error {
	m.count("RecordHeartbeat")
	if m.RecordHeartbeatFunc != nil {
		return m.RecordHeartbeatFunc(ctx, chargerID, seen)
	}
	return nil
}

func (m *MockDeviceService) GetDevice(ctx context.Context, id string) (*domain.ChargePoint, error) {
	if m.GetDeviceFunc != nil {
		return m.GetDeviceFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockDeviceService) ListDevices(ctx context.Context) ([]domain.ChargePoint, error) {
	if m.ListDevicesFunc != nil {
		return m.ListDevicesFunc(ctx)
	}
	return []domain.ChargePoint{}, nil
}

// MockCentralSystem is a mock implementation of CentralSystem
type MockCentralSystem struct {
	ListChargerStatusesFunc     func() map[string]domain.ChargerStatus
	RequestStartTransactionFunc func(ctx context.Context, chargerID string, evseID, connectorID int) bool
	RequestStopTransactionFunc  func(ctx context.Context, chargerID, transactionID string) bool
}

func (m *MockCentralSystem) ListChargerStatuses() map[string]domain.ChargerStatus {
	if m.ListChargerStatusesFunc != nil {
		return m.ListChargerStatusesFunc()
	}
	return map[string]domain.ChargerStatus{}
}

func (m *MockCentralSystem) RequestStartTransaction(ctx context.Context, chargerID string, evseID, connectorID int) bool {
	if m.RequestStartTransactionFunc != nil {
		return m.RequestStartTransactionFunc(ctx, chargerID, evseID, connectorID)
	}
	return false
}

func (m *MockCentralSystem) RequestStopTransaction(ctx context.Context, chargerID, transactionID string) bool {
	if m.RequestStopTransactionFunc != nil {
		return m.RequestStopTransactionFunc(ctx, chargerID, transactionID)
	}
	return false
}

// MockBroadcaster keeps every broadcast event.
type MockBroadcaster struct {
	mu     sync.Mutex
	Events []string
}

func (m *MockBroadcaster) Broadcast(event string, payload interface{}) {
	m.mu.Lock()
	m.Events = append(m.Events, event)
	m.mu.Unlock()
}
