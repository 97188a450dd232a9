package postgres

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seu-repo/ocpp-csms/internal/domain"
)

type ChargePointRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewChargePointRepository(db *gorm.DB, log *zap.Logger) *ChargePointRepository {
	return &ChargePointRepository{
		db:  db,
		log: log,
	}
}

// Save inserts cp or overwrites every column of the existing row.
func (r *ChargePointRepository) Save(ctx context.Context, cp *domain.ChargePoint) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(chargePointColumns),
		}).
		Create(cp)
	if result.Error != nil {
		r.log.Error("Failed to save charge point", zap.String("charger_id", cp.ID), zap.Error(result.Error))
		return result.Error
	}
	return nil
}

var chargePointColumns = []string{
	"vendor", "model", "serial_number", "firmware_version",
	"status", "connected", "last_boot_reason", "last_seen", "updated_at",
}

func (r *ChargePointRepository) FindByID(ctx context.Context, id string) (*domain.ChargePoint, error) {
	var cp domain.ChargePoint
	result := r.db.WithContext(ctx).First(&cp, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &cp, nil
}

func (r *ChargePointRepository) FindAll(ctx context.Context) ([]domain.ChargePoint, error) {
	var cps []domain.ChargePoint
	result := r.db.WithContext(ctx).Order("id").Find(&cps)
	if result.Error != nil {
		return nil, result.Error
	}
	return cps, nil
}

func (r *ChargePointRepository) UpdateStatus(ctx context.Context, id string, status domain.ChargePointStatus) error {
	return r.db.WithContext(ctx).
		Model(&domain.ChargePoint{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// Touch records a sign of life. Unknown ids are ignored.
func (r *ChargePointRepository) Touch(ctx context.Context, id string, seen time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.ChargePoint{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_seen": seen, "connected": true}).Error
}
