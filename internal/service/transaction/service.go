package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/internal/adapter/queue"
	"github.com/seu-repo/ocpp-csms/internal/domain"
	"github.com/seu-repo/ocpp-csms/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-csms/internal/ports"
)

var (
	ErrInvalidRecord          = errors.New("transaction record without id")
	ErrTransactionNotFound    = domain.ErrTransactionNotFound
	ErrPersistenceUnavailable = errors.New("transaction store unavailable")
)

const defaultHistoryLimit = 50

// BreakerConfig tunes the circuit in front of the transaction store.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

type Service struct {
	repo ports.TransactionRepository
	sink ports.EnergySink
	mq   queue.MessageQueue
	cb   *gobreaker.CircuitBreaker
	log  *zap.Logger
}

// NewService builds the completed-session collaborator. sink and mq are optional.
func NewService(repo ports.TransactionRepository, sink ports.EnergySink, mq queue.MessageQueue, breaker BreakerConfig, log *zap.Logger) *Service {
	return &Service{
		repo: repo,
		sink: sink,
		mq:   mq,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "transaction-store",
			MaxRequests: breaker.MaxRequests,
			Interval:    breaker.Interval,
			Timeout:     breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= breaker.MinRequests && failureRatio >= breaker.FailureRatio
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warn("Circuit breaker state changed",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		log: log,
	}
}

// SaveCompletedTransaction stores a finished session. Only the store write
// decides the outcome; queue and time-series fan-out are best effort.
func (s *Service) SaveCompletedTransaction(ctx context.Context, record *domain.TransactionRecord) error {
	if record == nil || record.TransactionID == "" {
		return ErrInvalidRecord
	}

	start := time.Now()
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.repo.Save(ctx, record)
	})
	telemetry.DatabaseLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.CompletedSessionsTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("save transaction %s: %w", record.TransactionID, ErrPersistenceUnavailable)
		}
		return fmt.Errorf("save transaction %s: %w", record.TransactionID, err)
	}

	telemetry.CompletedSessionsTotal.WithLabelValues("saved").Inc()
	if record.EnergyDeliveredKWh > 0 {
		telemetry.EnergyDeliveredTotal.Add(record.EnergyDeliveredKWh)
	}

	s.log.Info("Transaction completed",
		zap.String("charger_id", record.ChargerID),
		zap.String("transaction_id", record.TransactionID),
		zap.Float64("energy_kwh", record.EnergyDeliveredKWh),
		zap.Float64("total_cost", record.TotalCost),
	)

	s.publish(record)
	if s.sink != nil {
		if err := s.sink.WriteSession(ctx, record); err != nil {
			s.log.Warn("Failed to write session to energy sink",
				zap.String("transaction_id", record.TransactionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) publish(record *domain.TransactionRecord) {
	if s.mq == nil {
		return
	}
	err := queue.PublishEvent(s.mq, queue.SubjectTransactionCompleted, queue.Event{
		Type:      "transaction_completed",
		ChargerID: record.ChargerID,
		Data:      record,
	})
	if err != nil {
		s.log.Warn("Failed to publish transaction event",
			zap.String("transaction_id", record.TransactionID),
			zap.Error(err),
		)
	}
}

// GetTransaction loads a stored session. chargerID may be empty when the id
// is known to be unique.
func (s *Service) GetTransaction(ctx context.Context, chargerID, id string) (*domain.TransactionRecord, error) {
	tx, err := s.repo.FindByID(ctx, chargerID, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

func (s *Service) ListChargerTransactions(ctx context.Context, chargerID string, limit int) ([]domain.TransactionRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.repo.FindByChargerID(ctx, chargerID, limit)
}
