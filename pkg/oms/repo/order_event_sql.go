package repo

import (
	"context"

	"github.com/joripage/oms-core/pkg/oms/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderEventSQLRepo struct {
	db *gorm.DB
}

func NewOrderEventSQLRepo(db *gorm.DB) *OrderEventSQLRepo {
	return &OrderEventSQLRepo{
		db: db,
	}
}

func (r *OrderEventSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// BulkCreate inserts events; an event already stored is skipped.
func (r *OrderEventSQLRepo) BulkCreate(ctx context.Context, records []*model.OrderEvent) ([]*model.OrderEvent, error) {
	if len(records) == 0 {
		return records, nil
	}
	return records, r.dbWithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(records).Error
}

func (r *OrderEventSQLRepo) ListByOrderID(ctx context.Context, orderID string) ([]*model.OrderEvent, error) {
	var out []*model.OrderEvent
	err := r.dbWithContext(ctx).Where("order_id = ?", orderID).Order("timestamp").Find(&out).Error
	return out, err
}
