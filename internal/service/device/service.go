package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/internal/adapter/queue"
	"github.com/seu-repo/ocpp-csms/internal/domain"
	"github.com/seu-repo/ocpp-csms/internal/ports"
)

const DefaultSnapshotTTL = 10 * time.Minute

type Service struct {
	repo  ports.ChargePointRepository
	cache ports.Cache
	mq    queue.MessageQueue
	hub   ports.StatusBroadcaster
	ttl   time.Duration
	log   *zap.Logger
}

// NewService builds the charger status collaborator. cache, mq and hub may be nil.
func NewService(repo ports.ChargePointRepository, cache ports.Cache, mq queue.MessageQueue, hub ports.StatusBroadcaster, log *zap.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		mq:    mq,
		hub:   hub,
		ttl:   DefaultSnapshotTTL,
		log:   log,
	}
}

// WithSnapshotTTL overrides how long cached snapshots live.
func (s *Service) WithSnapshotTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func cacheKey(id string) string {
	return "charger:" + id
}

func (s *Service) RecordConnection(ctx context.Context, chargerID string, connected bool) error {
	cp, err := s.load(ctx, chargerID)
	if err != nil {
		return err
	}

	cp.Connected = connected
	cp.LastSeen = time.Now().UTC()
	switch {
	case !connected:
		cp.Status = domain.ChargePointStatusOffline
	case cp.Status == "" || cp.Status == domain.ChargePointStatusOffline:
		cp.Status = domain.ChargePointStatusAvailable
	}

	event := "connected"
	if !connected {
		event = "disconnected"
	}
	return s.store(ctx, cp, event)
}

func (s *Service) RecordBoot(ctx context.Context, chargerID string, info domain.StationInfo) error {
	cp, err := s.load(ctx, chargerID)
	if err != nil {
		return err
	}

	if info.Vendor != "" {
		cp.Vendor = info.Vendor
	}
	if info.Model != "" {
		cp.Model = info.Model
	}
	if info.SerialNumber != "" {
		cp.SerialNumber = info.SerialNumber
	}
	if info.FirmwareVersion != "" {
		cp.FirmwareVersion = info.FirmwareVersion
	}
	cp.LastBootReason = info.Reason
	cp.Connected = true
	cp.LastSeen = time.Now().UTC()
	if cp.Status == "" || cp.Status == domain.ChargePointStatusOffline {
		cp.Status = domain.ChargePointStatusAvailable
	}

	return s.store(ctx, cp, "booted")
}

func (s *Service) RecordConnectorStatus(ctx context.Context, change domain.ConnectorStatusChange) error {
	cp, err := s.load(ctx, change.ChargerID)
	if err != nil {
		return err
	}

	cp.Status = change.Status
	cp.LastSeen = change.Timestamp
	if cp.LastSeen.IsZero() {
		cp.LastSeen = time.Now().UTC()
	}

	return s.store(ctx, cp, "status")
}

// RecordHeartbeat only bumps last-seen. The cached snapshot is dropped
// rather than rewritten so heartbeats never reach the broker.
func (s *Service) RecordHeartbeat(ctx context.Context, chargerID string, seen time.Time) error {
	if err := s.repo.Touch(ctx, chargerID, seen); err != nil {
		return fmt.Errorf("touch %s: %w", chargerID, err)
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey(chargerID)); err != nil {
			s.log.Debug("Failed to drop cached snapshot", zap.String("charger_id", chargerID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) GetDevice(ctx context.Context, id string) (*domain.ChargePoint, error) {
	if s.cache != nil {
		if val, err := s.cache.Get(ctx, cacheKey(id)); err == nil && val != "" {
			var cp domain.ChargePoint
			if err := json.Unmarshal([]byte(val), &cp); err == nil {
				return &cp, nil
			}
		}
	}

	cp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		s.cacheSnapshot(ctx, cp)
	}
	return cp, nil
}

func (s *Service) ListDevices(ctx context.Context) ([]domain.ChargePoint, error) {
	return s.repo.FindAll(ctx)
}

func (s *Service) load(ctx context.Context, id string) (*domain.ChargePoint, error) {
	cp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	if cp == nil {
		cp = &domain.ChargePoint{ID: id}
	}
	return cp, nil
}

// store persists cp and then fans the new snapshot out. Only the
// repository error is returned.
func (s *Service) store(ctx context.Context, cp *domain.ChargePoint, event string) error {
	if err := s.repo.Save(ctx, cp); err != nil {
		return fmt.Errorf("save %s: %w", cp.ID, err)
	}

	s.cacheSnapshot(ctx, cp)

	if s.mq != nil {
		err := queue.PublishEvent(s.mq, queue.SubjectChargerStatus, queue.Event{
			Type:      event,
			ChargerID: cp.ID,
			Data:      cp,
		})
		if err != nil {
			s.log.Warn("Failed to publish charger status", zap.String("charger_id", cp.ID), zap.Error(err))
		}
	}
	if s.hub != nil {
		s.hub.Broadcast("charger."+event, cp)
	}

	s.log.Debug("Charger status updated",
		zap.String("charger_id", cp.ID),
		zap.String("event", event),
		zap.String("status", string(cp.Status)),
	)
	return nil
}

func (s *Service) cacheSnapshot(ctx context.Context, cp *domain.ChargePoint) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(cp.ID), string(data), s.ttl); err != nil {
		s.log.Warn("Failed to cache charger snapshot", zap.String("charger_id", cp.ID), zap.Error(err))
	}
}
