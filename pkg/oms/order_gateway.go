package oms

import (
	"context"

	"github.com/joripage/oms-core/pkg/oms/model"
)

// OrderGateway carries outbound messages to the execution adapter and downstream consumers.
type OrderGateway interface {
	PublishRoute(ctx context.Context, route model.RouteOrder) error
	PublishCancel(ctx context.Context, req model.CancelRequest) error
	PublishPositionUpdate(ctx context.Context, update model.PositionUpdate) error
}

// Journal takes records to persist. Implementations must not block the caller.
type Journal interface {
	EnqueueOrder(order model.Order)
	EnqueueFill(fill model.Fill)
	EnqueueEvent(ev model.OrderEvent)
}

type nopJournal struct{}

func (nopJournal) EnqueueOrder(model.Order)      {}
func (nopJournal) EnqueueFill(model.Fill)        {}
func (nopJournal) EnqueueEvent(model.OrderEvent) {}
