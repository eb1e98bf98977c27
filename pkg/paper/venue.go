// Package paper is a simulated execution adapter. It fills routed orders at
// once and acknowledges cancels for orders it still holds open.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	RejectNoPrice = "no_reference_price"
)

// Emitter delivers adapter events back to the core.
type Emitter interface {
	Emit(ev *model.AdapterEvent) error
}

// MarkSource prices market orders.
type MarkSource interface {
	Mark(symbol string) (decimal.Decimal, bool)
}

type Config struct {
	// Slices splits each fill into this many executions; 0 or 1 fills in one.
	Slices int
	// Rest leaves routed orders working instead of filling them, so they can be cancelled.
	Rest bool
}

type Venue struct {
	cfg     Config
	emitter Emitter
	marks   MarkSource
	logger  *logging.Logger
	now     func() time.Time

	mu   sync.Mutex
	open map[string]model.RouteOrder
}

func NewVenue(cfg Config, emitter Emitter, marks MarkSource, logger *logging.Logger) *Venue {
	if cfg.Slices <= 0 {
		cfg.Slices = 1
	}
	return &Venue{
		cfg:     cfg,
		emitter: emitter,
		marks:   marks,
		logger:  logger.Named("paper-venue"),
		now:     time.Now,
		open:    make(map[string]model.RouteOrder),
	}
}

func (v *Venue) HandleRoute(ctx context.Context, route model.RouteOrder) {
	price, ok := v.executionPrice(route)
	if !ok {
		v.emit(ctx, &model.AdapterEvent{
			Kind:        model.EventKindVenueReject,
			VenueReject: &model.VenueReject{OrderID: route.OrderID, Reason: RejectNoPrice},
		})
		return
	}

	if v.cfg.Rest {
		v.mu.Lock()
		v.open[route.OrderID] = route
		v.mu.Unlock()
		return
	}

	slice := route.Quantity.Div(decimal.NewFromInt(int64(v.cfg.Slices)))
	remaining := route.Quantity
	for i := 1; i <= v.cfg.Slices; i++ {
		qty := slice
		if i == v.cfg.Slices {
			qty = remaining
		}
		remaining = remaining.Sub(qty)
		v.emit(ctx, &model.AdapterEvent{
			Kind: model.EventKindFill,
			Fill: &model.Fill{
				FillID:    fmt.Sprintf("%s-%d", route.OrderID, i),
				OrderID:   route.OrderID,
				Quantity:  qty,
				Price:     price,
				Timestamp: v.now(),
			},
		})
	}
}

// HandleCancel accepts cancels of resting orders and refuses the rest.
func (v *Venue) HandleCancel(ctx context.Context, req model.CancelRequest) {
	v.mu.Lock()
	_, resting := v.open[req.OrderID]
	delete(v.open, req.OrderID)
	v.mu.Unlock()

	status := model.CancelAckRejected
	if resting {
		status = model.CancelAckAccepted
	}
	v.emit(ctx, &model.AdapterEvent{
		Kind:      model.EventKindCancelAck,
		CancelAck: &model.CancelAck{OrderID: req.OrderID, Status: status},
	})
}

func (v *Venue) executionPrice(route model.RouteOrder) (decimal.Decimal, bool) {
	if route.Price.Valid {
		return route.Price.Decimal, true
	}
	if route.StopPrice.Valid {
		return route.StopPrice.Decimal, true
	}
	if v.marks == nil {
		return decimal.Zero, false
	}
	return v.marks.Mark(route.Symbol)
}

func (v *Venue) emit(ctx context.Context, ev *model.AdapterEvent) {
	if err := v.emitter.Emit(ev); err != nil {
		v.logger.Error(ctx, "emit adapter event failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
