package repo

import (
	"context"

	"github.com/joripage/oms-core/pkg/oms/model"
)

type IOrder interface {
	Upsert(ctx context.Context, records []*model.Order) error
	GetByOrderID(ctx context.Context, orderID string) (*model.Order, error)
}

type IOrderEvent interface {
	BulkCreate(ctx context.Context, records []*model.OrderEvent) ([]*model.OrderEvent, error)
	ListByOrderID(ctx context.Context, orderID string) ([]*model.OrderEvent, error)
}

type IFill interface {
	BulkCreate(ctx context.Context, records []*model.Fill) ([]*model.Fill, error)
	ListAll(ctx context.Context) ([]*model.Fill, error)
}

type IPosition interface {
	Upsert(ctx context.Context, records []*model.Position) error
}
