package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusNew               OrderStatus = "NEW"
	OrderStatusRiskCheck         OrderStatus = "RISK_CHECK"
	OrderStatusRejected          OrderStatus = "REJECTED"
	OrderStatusRouted            OrderStatus = "ROUTED"
	OrderStatusPartiallyFilled   OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled            OrderStatus = "FILLED"
	OrderStatusCancelPending     OrderStatus = "CANCEL_PENDING"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
	OrderStatusCancelUnconfirmed OrderStatus = "CANCEL_UNCONFIRMED"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() decimal.Decimal {
	if s == OrderSideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// HasLimitPrice reports whether orders of this type must carry a limit price.
func (t OrderType) HasLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// HasStopPrice reports whether orders of this type must carry a stop price.
func (t OrderType) HasStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

type Order struct {
	ID int64 `gorm:"primaryKey;autoIncrement"`

	// init info
	OrderID   string              `gorm:"uniqueIndex;size:64"`
	Account   string              `gorm:"index;size:64"`
	Symbol    string              `gorm:"size:32"`
	Side      OrderSide           `gorm:"size:8"`
	Type      OrderType           `gorm:"size:16"`
	Quantity  decimal.Decimal     `gorm:"type:numeric"`
	Price     decimal.NullDecimal `gorm:"type:numeric"`
	StopPrice decimal.NullDecimal `gorm:"type:numeric"`

	// calculated info
	Status         OrderStatus     `gorm:"size:24"`
	Reason         RejectReason    `gorm:"size:32"`
	FilledQuantity decimal.Decimal `gorm:"type:numeric"`
	AvgFillPrice   decimal.Decimal `gorm:"type:numeric"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Order) TableName() string {
	return "orders"
}

// IsEnd reports whether the order reached a terminal status.
func (o *Order) IsEnd() bool {
	return o.Status.IsTerminal()
}

// CanCancel reports whether a cancel request is legal for the order.
func (o *Order) CanCancel() bool {
	return !o.Status.IsTerminal()
}

// LeavesQuantity is the quantity still working at the venue.
func (o *Order) LeavesQuantity() decimal.Decimal {
	leaves := o.Quantity.Sub(o.FilledQuantity)
	if leaves.IsNegative() {
		return decimal.Zero
	}
	return leaves
}

// UpdateFill accumulates a fill into FilledQuantity and the average fill price.
func (o *Order) UpdateFill(qty, price decimal.Decimal, ts time.Time) {
	total := o.FilledQuantity.Add(qty)
	if total.IsPositive() {
		o.AvgFillPrice = o.AvgFillPrice.Mul(o.FilledQuantity).Add(price.Mul(qty)).Div(total)
	}
	o.FilledQuantity = total
	o.UpdatedAt = ts
}

// IsFullyFilled reports whether the filled quantity covers the order quantity.
func (o *Order) IsFullyFilled() bool {
	return o.FilledQuantity.GreaterThanOrEqual(o.Quantity)
}

// RouteOrder builds the outbound venue instruction for the order.
func (o *Order) RouteOrder() RouteOrder {
	return RouteOrder{
		OrderID:   o.OrderID,
		Account:   o.Account,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Quantity:  o.Quantity,
		Price:     o.Price,
		StopPrice: o.StopPrice,
		Type:      o.Type,
	}
}
