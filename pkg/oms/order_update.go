package oms

import (
	"context"
	"fmt"

	"github.com/joripage/oms-core/pkg/ledger"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/oms/model"
	"go.uber.org/zap"
)

// Consume dispatches one adapter event. Anomalies are logged, counted and
// acknowledged; only a malformed envelope is returned as an error.
func (s *OMS) Consume(ctx context.Context, ev *model.AdapterEvent) error {
	var err error
	switch {
	case ev.Kind == model.EventKindFill && ev.Fill != nil:
		err = s.ProcessFill(ctx, ev.Fill)
	case ev.Kind == model.EventKindVenueReject && ev.VenueReject != nil:
		err = s.HandleVenueReject(ctx, ev.VenueReject)
	case ev.Kind == model.EventKindCancelAck && ev.CancelAck != nil:
		err = s.HandleCancelAck(ctx, ev.CancelAck)
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidEvent, ev.Kind)
	}
	if err != nil && IsAnomaly(err) {
		return nil
	}
	return err
}

// ProcessFill applies an execution to the ledger, the balance book and the order.
// Fills are idempotent by fill id.
func (s *OMS) ProcessFill(ctx context.Context, fill *model.Fill) error {
	ctx = logging.WithOrderID(ctx, fill.OrderID)
	fields := []zap.Field{zap.String("fill_id", fill.FillID)}

	if fill.FillID == "" || !fill.Quantity.IsPositive() || !fill.Price.IsPositive() {
		return s.fillAnomaly(ctx, "malformed", ErrInvalidFill, fields...)
	}

	e, ok := s.getEntry(fill.OrderID)
	if !ok {
		if t, ok := s.getTombstone(fill.OrderID); ok {
			return s.processEvictedFill(ctx, t, fill, fields)
		}
		return s.fillAnomaly(ctx, "unknown_order", ErrUnknownOrderFill, fields...)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.order
	if _, seen := e.fills[fill.FillID]; seen {
		return s.fillAnomaly(ctx, "duplicate", ErrDuplicateFill, fields...)
	}

	switch order.Status {
	case model.OrderStatusRejected, model.OrderStatusFilled:
		return s.fillAnomaly(ctx, "closed_order", ErrFillOnClosedOrder, append(fields, zap.String("status", string(order.Status)))...)
	case model.OrderStatusNew, model.OrderStatusRiskCheck:
		return s.fillAnomaly(ctx, "not_routed", ErrInvalidOrderStatus, fields...)
	}

	applied, pos, ok, err := s.settleFill(order.OrderID, order.Account, order.Symbol, order.Side, fill)
	if err != nil {
		return s.fillAnomaly(ctx, "malformed", fmt.Errorf("%w: %v", ErrInvalidFill, err), fields...)
	}
	e.fills[fill.FillID] = struct{}{}
	if !ok {
		return s.fillAnomaly(ctx, "duplicate", ErrDuplicateFill, fields...)
	}
	s.afterSettle(ctx, applied, pos)
	ts := applied.Timestamp

	if order.Status == model.OrderStatusCancelled {
		s.metrics.FillAnomalies.WithLabelValues("late_fill").Inc()
		s.logger.Warn(ctx, "fill after cancel applied to ledger only", fields...)
		return nil
	}

	from := order.Status
	order.UpdateFill(fill.Quantity, fill.Price, ts)
	if order.FilledQuantity.GreaterThan(order.Quantity) {
		s.metrics.FillAnomalies.WithLabelValues("overfill").Inc()
		s.logger.Warn(ctx, "order overfilled",
			zap.String("filled", order.FilledQuantity.String()),
			zap.String("quantity", order.Quantity.String()))
	}

	switch {
	case order.IsFullyFilled():
		order.Status = model.OrderStatusFilled
		s.balances.Release(order.Account, order.OrderID)
	case from == model.OrderStatusCancelPending || from == model.OrderStatusCancelUnconfirmed:
		// the cancel is still outstanding
	default:
		order.Status = model.OrderStatusPartiallyFilled
	}
	s.recordTransition(e, model.NewOrderEventFill(*order, from, &applied))
	return nil
}

// processEvictedFill books a fill for an order that has left memory. Only a
// cancelled order can still execute; it reaches the ledger and balances only.
func (s *OMS) processEvictedFill(ctx context.Context, t *tombstone, fill *model.Fill, fields []zap.Field) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.fills[fill.FillID]; seen {
		return s.fillAnomaly(ctx, "duplicate", ErrDuplicateFill, fields...)
	}
	if t.status != model.OrderStatusCancelled {
		return s.fillAnomaly(ctx, "closed_order", ErrFillOnClosedOrder, append(fields, zap.String("status", string(t.status)))...)
	}

	applied, pos, ok, err := s.settleFill(t.orderID, t.account, t.symbol, t.side, fill)
	if err != nil {
		return s.fillAnomaly(ctx, "malformed", fmt.Errorf("%w: %v", ErrInvalidFill, err), fields...)
	}
	t.fills[fill.FillID] = struct{}{}
	if !ok {
		return s.fillAnomaly(ctx, "duplicate", ErrDuplicateFill, fields...)
	}
	s.afterSettle(ctx, applied, pos)

	s.metrics.FillAnomalies.WithLabelValues("late_fill").Inc()
	s.logger.Warn(ctx, "fill after cancel applied to ledger only", append(fields, zap.Bool("evicted", true))...)
	return nil
}

// settleFill applies fill to the ledger. ok is false when the ledger already
// holds the fill id.
func (s *OMS) settleFill(orderID, account, symbol string, side model.OrderSide, fill *model.Fill) (model.Fill, model.Position, bool, error) {
	applied := *fill
	if applied.Timestamp.IsZero() {
		applied.Timestamp = s.now()
	}
	applied.Account, applied.Symbol, applied.Side = account, symbol, side

	pos, ok, err := s.ledger.ApplyFill(ledger.FillInput{
		Account:   account,
		Symbol:    symbol,
		Side:      side,
		Qty:       fill.Quantity,
		Price:     fill.Price,
		FillID:    fill.FillID,
		Timestamp: applied.Timestamp,
	})
	return applied, pos, ok, err
}

// afterSettle moves cash, marks the symbol, journals the fill and publishes the position.
func (s *OMS) afterSettle(ctx context.Context, applied model.Fill, pos model.Position) {
	s.metrics.FillsApplied.Inc()
	s.balances.Settle(applied.Account, applied.OrderID, applied.Side, applied.Quantity, applied.Price)
	if s.prices != nil {
		s.prices.UpdateMark(applied.Symbol, applied.Price)
	}
	s.journal.EnqueueFill(applied)
	s.publishPosition(ctx, pos, applied.FillID)
}

// HandleVenueReject closes a working order the venue refused. Quantity already
// filled stays booked; the remainder is released.
func (s *OMS) HandleVenueReject(ctx context.Context, rej *model.VenueReject) error {
	ctx = logging.WithOrderID(ctx, rej.OrderID)
	e, ok := s.getEntry(rej.OrderID)
	if !ok {
		s.logger.Warn(ctx, "venue reject for unknown order", zap.String("venue_reason", rej.Reason))
		return ErrOrderNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !s.transition(ctx, e, model.OrderStatusRejected, model.ReasonVenueRejected) {
		return ErrInvalidOrderStatus
	}
	s.balances.Release(e.order.Account, e.order.OrderID)
	s.logger.Info(ctx, "order rejected by venue", zap.String("venue_reason", rej.Reason))
	return nil
}

func (s *OMS) publishPosition(ctx context.Context, pos model.Position, fillID string) {
	err := s.dispatcher.enqueue(&dispatchJob{
		kind: dispatchPosition,
		position: model.PositionUpdate{
			Account:      pos.Account,
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity,
			AveragePrice: pos.AveragePrice,
			LastPrice:    pos.LastPrice,
			RealizedPnL:  pos.RealizedPnL,
			FillID:       fillID,
			Timestamp:    pos.UpdatedAt,
		},
	})
	if err != nil {
		s.logger.Warn(ctx, "position update dropped", zap.Error(err))
	}
}

func (s *OMS) fillAnomaly(ctx context.Context, kind string, err error, fields ...zap.Field) error {
	s.metrics.FillAnomalies.WithLabelValues(kind).Inc()
	s.logger.Warn(ctx, "fill dropped", append(fields, zap.String("kind", kind), zap.Error(err))...)
	return err
}
