package paper

import (
	"context"
	"sync"
	"testing"

	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []*model.AdapterEvent
}

func (c *captureEmitter) Emit(ev *model.AdapterEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

type marks map[string]decimal.Decimal

func (m marks) Mark(symbol string) (decimal.Decimal, bool) {
	p, ok := m[symbol]
	return p, ok
}

func TestRouteFillsInSlices(t *testing.T) {
	em := &captureEmitter{}
	v := NewVenue(Config{Slices: 3}, em, nil, logging.NewNop())

	v.HandleRoute(context.Background(), model.RouteOrder{
		OrderID:  "o1",
		Quantity: decimal.NewFromInt(10),
		Price:    decimal.NewNullDecimal(decimal.NewFromInt(25)),
	})

	require.Len(t, em.events, 3)
	total := decimal.Zero
	for i, ev := range em.events {
		require.Equal(t, model.EventKindFill, ev.Kind)
		assert.Equal(t, "o1", ev.Fill.OrderID)
		assert.True(t, ev.Fill.Price.Equal(decimal.NewFromInt(25)))
		assert.Equal(t, []string{"o1-1", "o1-2", "o1-3"}[i], ev.Fill.FillID)
		total = total.Add(ev.Fill.Quantity)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(10)))
}

func TestMarketOrderUsesMarkOrRejects(t *testing.T) {
	em := &captureEmitter{}
	v := NewVenue(Config{}, em, marks{"X": decimal.NewFromInt(7)}, logging.NewNop())

	v.HandleRoute(context.Background(), model.RouteOrder{OrderID: "m1", Symbol: "X", Type: model.OrderTypeMarket, Quantity: decimal.NewFromInt(1)})
	v.HandleRoute(context.Background(), model.RouteOrder{OrderID: "m2", Symbol: "Y", Type: model.OrderTypeMarket, Quantity: decimal.NewFromInt(1)})

	require.Len(t, em.events, 2)
	assert.True(t, em.events[0].Fill.Price.Equal(decimal.NewFromInt(7)))
	require.NotNil(t, em.events[1].VenueReject)
	assert.Equal(t, RejectNoPrice, em.events[1].VenueReject.Reason)
}

func TestCancelAckDependsOnRestingOrder(t *testing.T) {
	em := &captureEmitter{}
	v := NewVenue(Config{Rest: true}, em, nil, logging.NewNop())
	ctx := context.Background()

	v.HandleRoute(ctx, model.RouteOrder{OrderID: "r1", Quantity: decimal.NewFromInt(1), Price: decimal.NewNullDecimal(decimal.NewFromInt(1))})
	assert.Empty(t, em.events)

	v.HandleCancel(ctx, model.CancelRequest{OrderID: "r1"})
	v.HandleCancel(ctx, model.CancelRequest{OrderID: "r1"})

	require.Len(t, em.events, 2)
	assert.Equal(t, model.CancelAckAccepted, em.events[0].CancelAck.Status)
	assert.Equal(t, model.CancelAckRejected, em.events[1].CancelAck.Status)
}
