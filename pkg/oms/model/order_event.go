package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderEvent records one status transition of an order.
type OrderEvent struct {
	EventID   string          `json:"event_id" gorm:"primaryKey;size:160"`
	OrderID   string          `json:"order_id" gorm:"index;size:64"`
	From      OrderStatus     `json:"from" gorm:"size:24"`
	To        OrderStatus     `json:"to" gorm:"size:24"`
	Reason    RejectReason    `json:"reason,omitempty" gorm:"size:32"`
	FillID    string          `json:"fill_id,omitempty" gorm:"size:64"`
	Qty       decimal.Decimal `json:"qty" gorm:"type:numeric"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric"`
	Timestamp time.Time       `json:"timestamp"`
}

func (OrderEvent) TableName() string {
	return "order_events"
}

func NewOrderEvent(order Order, from OrderStatus, ts time.Time) *OrderEvent {
	return &OrderEvent{
		EventID:   NewEventID(order.OrderID, order.Status, ts),
		OrderID:   order.OrderID,
		From:      from,
		To:        order.Status,
		Reason:    order.Reason,
		Timestamp: ts,
	}
}

func NewOrderEventFill(order Order, from OrderStatus, fill *Fill) *OrderEvent {
	return &OrderEvent{
		EventID:   fmt.Sprintf("%s-%s", order.OrderID, fill.FillID),
		OrderID:   order.OrderID,
		From:      from,
		To:        order.Status,
		FillID:    fill.FillID,
		Qty:       fill.Quantity,
		Price:     fill.Price,
		Timestamp: fill.Timestamp,
	}
}

func NewEventID(orderID string, status OrderStatus, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%d", orderID, status, ts.UnixNano())
}
