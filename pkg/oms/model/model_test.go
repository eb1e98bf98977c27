package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func TestSubmitOrderValidate(t *testing.T) {
	base := func() SubmitOrder {
		return SubmitOrder{
			Account:  "A",
			Symbol:   "BTC-USD",
			Side:     OrderSideBuy,
			Type:     OrderTypeLimit,
			Quantity: decimal.RequireFromString("0.1"),
			Price:    price("45000"),
		}
	}

	cases := []struct {
		name   string
		mutate func(*SubmitOrder)
		field  string
	}{
		{"valid limit", func(*SubmitOrder) {}, ""},
		{"missing account", func(o *SubmitOrder) { o.Account = " " }, "account"},
		{"missing symbol", func(o *SubmitOrder) { o.Symbol = "" }, "symbol"},
		{"bad side", func(o *SubmitOrder) { o.Side = "HOLD" }, "side"},
		{"bad type", func(o *SubmitOrder) { o.Type = "ICEBERG" }, "type"},
		{"zero qty", func(o *SubmitOrder) { o.Quantity = decimal.Zero }, "quantity"},
		{"negative qty", func(o *SubmitOrder) { o.Quantity = decimal.NewFromInt(-1) }, "quantity"},
		{"limit without price", func(o *SubmitOrder) { o.Price = decimal.NullDecimal{} }, "price"},
		{"market with price", func(o *SubmitOrder) { o.Type = OrderTypeMarket }, "price"},
		{"market without price", func(o *SubmitOrder) {
			o.Type = OrderTypeMarket
			o.Price = decimal.NullDecimal{}
		}, ""},
		{"stop without stop price", func(o *SubmitOrder) {
			o.Type = OrderTypeStop
			o.Price = decimal.NullDecimal{}
		}, "stop_price"},
		{"stop limit", func(o *SubmitOrder) {
			o.Type = OrderTypeStopLimit
			o.StopPrice = price("44000")
		}, ""},
		{"stop price on limit", func(o *SubmitOrder) { o.StopPrice = price("44000") }, "stop_price"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base()
			tc.mutate(&req)
			err := req.Validate()
			if tc.field == "" {
				require.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, OrderStatusNew.CanTransition(OrderStatusRiskCheck))
	assert.True(t, OrderStatusRiskCheck.CanTransition(OrderStatusRouted))
	assert.True(t, OrderStatusRouted.CanTransition(OrderStatusPartiallyFilled))
	assert.True(t, OrderStatusCancelPending.CanTransition(OrderStatusCancelUnconfirmed))
	assert.True(t, OrderStatusCancelUnconfirmed.CanTransition(OrderStatusCancelled))
	for _, working := range []OrderStatus{OrderStatusRouted, OrderStatusPartiallyFilled, OrderStatusCancelPending, OrderStatusCancelUnconfirmed} {
		assert.True(t, working.CanTransition(OrderStatusRejected), working)
	}

	assert.False(t, OrderStatusRouted.CanTransition(OrderStatusNew))
	assert.False(t, OrderStatusPartiallyFilled.CanTransition(OrderStatusRouted))
	for _, terminal := range []OrderStatus{OrderStatusRejected, OrderStatusFilled, OrderStatusCancelled} {
		assert.True(t, terminal.IsTerminal())
		assert.False(t, terminal.CanTransition(OrderStatusCancelPending))
	}
	assert.False(t, OrderStatusCancelUnconfirmed.IsTerminal())
}

func TestOrderUpdateFill(t *testing.T) {
	o := &Order{Quantity: decimal.NewFromInt(10)}
	now := time.Now()

	o.UpdateFill(decimal.NewFromInt(4), decimal.NewFromInt(100), now)
	o.UpdateFill(decimal.NewFromInt(6), decimal.NewFromInt(110), now)

	assert.True(t, o.FilledQuantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, o.AvgFillPrice.Equal(decimal.NewFromInt(106)), o.AvgFillPrice.String())
	assert.True(t, o.IsFullyFilled())
	assert.True(t, o.LeavesQuantity().IsZero())
}
