package repo

import (
	"context"

	"github.com/joripage/oms-core/pkg/oms/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderSQLRepo struct {
	db *gorm.DB
}

func NewOrderSQLRepo(db *gorm.DB) *OrderSQLRepo {
	return &OrderSQLRepo{
		db: db,
	}
}

func (r *OrderSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Upsert writes the latest snapshot of each order, keyed by order id.
func (r *OrderSQLRepo) Upsert(ctx context.Context, records []*model.Order) error {
	if len(records) == 0 {
		return nil
	}
	return r.dbWithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "reason", "filled_quantity", "avg_fill_price", "updated_at",
		}),
	}).Omit("id").Create(records).Error
}

func (r *OrderSQLRepo) GetByOrderID(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	if err := r.dbWithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}
