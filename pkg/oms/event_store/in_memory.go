package eventstore

import (
	"sync"

	"github.com/joripage/oms-core/pkg/oms/model"
)

type chain struct {
	mu     sync.RWMutex
	events []*model.OrderEvent
}

// InMemoryEventStore locks each order's chain on its own so writers of
// different orders never contend.
type InMemoryEventStore struct {
	orders sync.Map // orderID -> *chain
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{}
}

func (s *InMemoryEventStore) AddEvent(ev *model.OrderEvent) {
	v, _ := s.orders.LoadOrStore(ev.OrderID, &chain{})
	c := v.(*chain)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, ev)
}

// History returns the events of an order in the order they were added.
func (s *InMemoryEventStore) History(orderID string) []*model.OrderEvent {
	v, ok := s.orders.Load(orderID)
	if !ok {
		return nil
	}
	c := v.(*chain)

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*model.OrderEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (s *InMemoryEventStore) DeleteChain(orderID string) {
	s.orders.Delete(orderID)
}
