package postgres

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seu-repo/ocpp-csms/internal/domain"
)

type TransactionRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewTransactionRepository(db *gorm.DB, log *zap.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log,
	}
}

// Save is idempotent per (charger, transaction id); a repeated Ended event
// overwrites the stored session. Stations pick their own ids, so the same id
// from two chargers is two sessions.
func (r *TransactionRepository) Save(ctx context.Context, tx *domain.TransactionRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "charger_id"}, {Name: "transaction_id"}},
			UpdateAll: true,
		}).
		Create(tx).Error
}

func (r *TransactionRepository) FindByID(ctx context.Context, chargerID, id string) (*domain.TransactionRecord, error) {
	q := r.db.WithContext(ctx).Where("transaction_id = ?", id)
	if chargerID != "" {
		q = q.Where("charger_id = ?", chargerID)
	}

	var txs []domain.TransactionRecord
	if err := q.Limit(2).Find(&txs).Error; err != nil {
		return nil, err
	}
	switch len(txs) {
	case 0:
		return nil, nil
	case 1:
		return &txs[0], nil
	}
	return nil, domain.ErrAmbiguousTransaction
}

func (r *TransactionRepository) FindByChargerID(ctx context.Context, chargerID string, limit int) ([]domain.TransactionRecord, error) {
	var txs []domain.TransactionRecord
	err := r.db.WithContext(ctx).
		Where("charger_id = ?", chargerID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}).
		Limit(limit).
		Find(&txs).Error
	return txs, err
}
