package oms

import (
	"context"

	"github.com/joripage/oms-core/pkg/oms/model"
)

// IOMS is the inbound surface of the order core.
type IOMS interface {
	Submit(ctx context.Context, req *model.SubmitOrder) (model.SubmitResult, error)
	Cancel(ctx context.Context, orderID string) (model.OrderStatus, error)
	GetOrder(orderID string) (model.Order, error)
	GetPosition(account, symbol string) model.Position
	History(orderID string) []*model.OrderEvent
}

// EventConsumer accepts adapter events from the inbound stream. A nil error acknowledges the event.
type EventConsumer interface {
	Consume(ctx context.Context, ev *model.AdapterEvent) error
}

var (
	_ IOMS          = (*OMS)(nil)
	_ EventConsumer = (*OMS)(nil)
)
