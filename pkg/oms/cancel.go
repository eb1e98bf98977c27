package oms

import (
	"context"
	"time"

	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/oms/model"
	"go.uber.org/zap"
)

// Cancel asks the venue to pull a working order. Repeating the request while
// the cancel is outstanding is a no-op that returns the current status.
func (s *OMS) Cancel(ctx context.Context, orderID string) (model.OrderStatus, error) {
	ctx = logging.WithOrderID(ctx, orderID)
	e, ok := s.getEntry(orderID)
	if !ok {
		return "", ErrOrderNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.order
	switch order.Status {
	case model.OrderStatusCancelPending:
		return order.Status, nil
	case model.OrderStatusCancelUnconfirmed:
		// nudge the venue again, the ack decides the outcome
		s.sendCancel(ctx, orderID)
		return order.Status, nil
	}

	if !order.CanCancel() || !s.transition(ctx, e, model.OrderStatusCancelPending, model.ReasonNone) {
		return order.Status, ErrInvalidOrderStatus
	}

	s.sendCancel(ctx, orderID)
	e.cancelTimer = time.AfterFunc(s.cfg.CancelAckTimeout, func() {
		s.onCancelTimeout(orderID)
	})
	return order.Status, nil
}

func (s *OMS) sendCancel(ctx context.Context, orderID string) {
	err := s.dispatcher.enqueue(&dispatchJob{kind: dispatchCancel, cancel: model.CancelRequest{OrderID: orderID}})
	if err != nil {
		s.logger.Error(ctx, "cancel queue full", zap.Error(err))
	}
}

func (s *OMS) onCancelTimeout(orderID string) {
	ctx := logging.WithOrderID(context.Background(), orderID)
	e, ok := s.getEntry(orderID)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelTimer = nil
	if e.order.Status != model.OrderStatusCancelPending {
		return
	}
	if s.transition(ctx, e, model.OrderStatusCancelUnconfirmed, model.ReasonNone) {
		s.metrics.CancelUnconfirmed.Inc()
		s.logger.Error(ctx, "cancel not acknowledged by venue",
			zap.Duration("timeout", s.cfg.CancelAckTimeout),
			zap.String("account", e.order.Account),
			zap.String("symbol", e.order.Symbol))
	}
}

// HandleCancelAck resolves an outstanding cancel. An accepted cancel closes the
// order; a refused one returns it to its working status.
func (s *OMS) HandleCancelAck(ctx context.Context, ack *model.CancelAck) error {
	ctx = logging.WithOrderID(ctx, ack.OrderID)
	e, ok := s.getEntry(ack.OrderID)
	if !ok {
		s.logger.Warn(ctx, "cancel ack for unknown order")
		return ErrOrderNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.order
	if order.Status != model.OrderStatusCancelPending && order.Status != model.OrderStatusCancelUnconfirmed {
		s.logger.Warn(ctx, "unexpected cancel ack",
			zap.String("status", string(order.Status)),
			zap.String("ack", string(ack.Status)))
		return ErrInvalidOrderStatus
	}

	if e.cancelTimer != nil {
		e.cancelTimer.Stop()
		e.cancelTimer = nil
	}

	switch ack.Status {
	case model.CancelAckAccepted:
		s.transition(ctx, e, model.OrderStatusCancelled, model.ReasonNone)
		s.balances.Release(order.Account, order.OrderID)
	case model.CancelAckRejected:
		working := model.OrderStatusRouted
		if order.FilledQuantity.IsPositive() {
			working = model.OrderStatusPartiallyFilled
		}
		s.transition(ctx, e, working, model.ReasonNone)
		s.logger.Info(ctx, "cancel refused by venue")
	default:
		s.logger.Warn(ctx, "cancel ack with unknown status", zap.String("ack", string(ack.Status)))
		return ErrInvalidOrderStatus
	}
	return nil
}
