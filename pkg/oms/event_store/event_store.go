package eventstore

import "github.com/joripage/oms-core/pkg/oms/model"

// EventStore keeps the transition history of live orders.
type EventStore interface {
	AddEvent(ev *model.OrderEvent)
	History(orderID string) []*model.OrderEvent
	DeleteChain(orderID string)
}
