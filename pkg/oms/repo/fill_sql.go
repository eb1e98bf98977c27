package repo

import (
	"context"

	"github.com/joripage/oms-core/pkg/oms/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const fillPageSize = 5000

type FillSQLRepo struct {
	db *gorm.DB
}

func NewFillSQLRepo(db *gorm.DB) *FillSQLRepo {
	return &FillSQLRepo{
		db: db,
	}
}

func (r *FillSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// BulkCreate inserts fills; a fill id already stored is skipped, so redelivered fills are harmless.
func (r *FillSQLRepo) BulkCreate(ctx context.Context, records []*model.Fill) ([]*model.Fill, error) {
	if len(records) == 0 {
		return records, nil
	}
	return records, r.dbWithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fill_id"}},
		DoNothing: true,
	}).Omit("id").Create(records).Error
}

// ListAll returns every stored fill in insertion order, for rebuilding the ledger.
func (r *FillSQLRepo) ListAll(ctx context.Context) ([]*model.Fill, error) {
	var out []*model.Fill
	var batch []*model.Fill
	err := r.dbWithContext(ctx).FindInBatches(&batch, fillPageSize, func(tx *gorm.DB, _ int) error {
		out = append(out, batch...)
		return nil
	}).Error
	return out, err
}
