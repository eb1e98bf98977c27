package oms

import (
	"context"
	"sync"
	"time"

	"github.com/joripage/oms-core/pkg/oms/model"
	"go.uber.org/zap"
)

// orderEntry serializes every mutation of one order.
type orderEntry struct {
	mu          sync.Mutex
	order       *model.Order
	fills       map[string]struct{}
	cancelTimer *time.Timer
	closedAt    time.Time
}

// tombstone is what survives of an evicted terminal order: enough to book a
// late fill against the ledger and to recognise a redelivered one.
type tombstone struct {
	mu        sync.Mutex
	orderID   string
	account   string
	symbol    string
	side      model.OrderSide
	status    model.OrderStatus
	fills     map[string]struct{}
	evictedAt time.Time
}

func newTombstone(e *orderEntry, at time.Time) *tombstone {
	fills := make(map[string]struct{}, len(e.fills))
	for id := range e.fills {
		fills[id] = struct{}{}
	}
	return &tombstone{
		orderID:   e.order.OrderID,
		account:   e.order.Account,
		symbol:    e.order.Symbol,
		side:      e.order.Side,
		status:    e.order.Status,
		fills:     fills,
		evictedAt: at,
	}
}

func (s *OMS) getTombstone(orderID string) (*tombstone, bool) {
	v, ok := s.tombstones.Load(orderID)
	if !ok {
		return nil, false
	}
	return v.(*tombstone), true
}

func (s *OMS) addOrderToMap(order *model.Order) *orderEntry {
	e := &orderEntry{order: order, fills: make(map[string]struct{})}
	s.orderIDMapping.Store(order.OrderID, e)
	return e
}

func (s *OMS) getEntry(orderID string) (*orderEntry, bool) {
	v, ok := s.orderIDMapping.Load(orderID)
	if !ok {
		return nil, false
	}
	return v.(*orderEntry), true
}

func (s *OMS) deleteOrderByOrderID(orderID string) {
	s.orderIDMapping.Delete(orderID)
	s.eventstore.DeleteChain(orderID)
}

// GetOrder returns a copy of the order.
func (s *OMS) GetOrder(orderID string) (model.Order, error) {
	e, ok := s.getEntry(orderID)
	if !ok {
		return model.Order{}, ErrOrderNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return *e.order, nil
}

func (s *OMS) startCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// cleanup evicts orders that have been terminal for longer than the retention,
// leaving a tombstone behind, and drops tombstones past their own retention.
func (s *OMS) cleanup(ctx context.Context) {
	now := s.now()
	cutoff := now.Add(-s.cfg.Retention)
	evicted, buried := 0, 0

	s.orderIDMapping.Range(func(k, v any) bool {
		e := v.(*orderEntry)
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.order.IsEnd() && e.closedAt.Before(cutoff) {
			s.tombstones.Store(k, newTombstone(e, now))
			s.deleteOrderByOrderID(k.(string))
			evicted++
		}
		return true
	})

	tombCutoff := now.Add(-s.cfg.TombstoneRetention)
	s.tombstones.Range(func(k, v any) bool {
		if v.(*tombstone).evictedAt.Before(tombCutoff) {
			s.tombstones.Delete(k)
			buried++
		}
		return true
	})

	if evicted > 0 || buried > 0 {
		s.logger.Debug(ctx, "evicted terminal orders", zap.Int("count", evicted), zap.Int("tombstones_dropped", buried))
	}
}
