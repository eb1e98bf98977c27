package repo

import (
	"context"

	"github.com/joripage/oms-core/pkg/oms/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PositionSQLRepo struct {
	db *gorm.DB
}

func NewPositionSQLRepo(db *gorm.DB) *PositionSQLRepo {
	return &PositionSQLRepo{
		db: db,
	}
}

func (r *PositionSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Upsert stores position snapshots keyed by (account, symbol).
func (r *PositionSQLRepo) Upsert(ctx context.Context, records []*model.Position) error {
	if len(records) == 0 {
		return nil
	}
	return r.dbWithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quantity", "average_price", "last_price", "realized_pnl", "updated_at",
		}),
	}).Omit("id").Create(records).Error
}
