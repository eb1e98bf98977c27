package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill confirms that all or part of an order executed at the venue.
type Fill struct {
	ID        int64           `json:"-" gorm:"primaryKey;autoIncrement"`
	FillID    string          `json:"fill_id" gorm:"uniqueIndex;size:64"`
	OrderID   string          `json:"order_id" gorm:"index;size:64"`
	Account   string          `json:"account,omitempty" gorm:"size:64"`
	Symbol    string          `json:"symbol,omitempty" gorm:"size:32"`
	Side      OrderSide       `json:"side,omitempty" gorm:"size:8"`
	Quantity  decimal.Decimal `json:"qty" gorm:"type:numeric"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric"`
	Timestamp time.Time       `json:"timestamp"`
}

func (Fill) TableName() string {
	return "fills"
}

// RouteOrder asks the execution adapter to place an order at the venue.
type RouteOrder struct {
	OrderID   string              `json:"order_id"`
	Account   string              `json:"account"`
	Symbol    string              `json:"symbol"`
	Side      OrderSide           `json:"side"`
	Quantity  decimal.Decimal     `json:"qty"`
	Price     decimal.NullDecimal `json:"price"`
	StopPrice decimal.NullDecimal `json:"stop_price"`
	Type      OrderType           `json:"type"`
}

// CancelRequest asks the execution adapter to pull an order from the venue.
type CancelRequest struct {
	OrderID string `json:"order_id"`
}

// VenueReject reports that the venue refused a routed order.
type VenueReject struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type CancelAckStatus string

const (
	CancelAckAccepted CancelAckStatus = "accepted"
	CancelAckRejected CancelAckStatus = "rejected"
)

// CancelAck is the venue's answer to a cancel request.
type CancelAck struct {
	OrderID string          `json:"order_id"`
	Status  CancelAckStatus `json:"status"`
}

// PositionUpdate is emitted after a fill moved a position.
type PositionUpdate struct {
	Account      string          `json:"account"`
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"qty"`
	AveragePrice decimal.Decimal `json:"avg_price"`
	LastPrice    decimal.Decimal `json:"last_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	FillID       string          `json:"fill_id"`
	Timestamp    time.Time       `json:"timestamp"`
}

type EventKind string

const (
	EventKindFill        EventKind = "fill"
	EventKindVenueReject EventKind = "order_rejected_by_venue"
	EventKindCancelAck   EventKind = "cancel_ack"
)

// AdapterEvent is one inbound message from the execution adapter. Exactly one payload is set.
type AdapterEvent struct {
	Kind        EventKind    `json:"kind"`
	Fill        *Fill        `json:"fill,omitempty"`
	VenueReject *VenueReject `json:"order_rejected_by_venue,omitempty"`
	CancelAck   *CancelAck   `json:"cancel_ack,omitempty"`
}

// OrderID returns the order the event refers to.
func (e *AdapterEvent) OrderID() string {
	switch {
	case e.Fill != nil:
		return e.Fill.OrderID
	case e.VenueReject != nil:
		return e.VenueReject.OrderID
	case e.CancelAck != nil:
		return e.CancelAck.OrderID
	}
	return ""
}
