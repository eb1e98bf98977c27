package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SubmitOrder is the inbound submit_order request.
type SubmitOrder struct {
	Account   string              `json:"account"`
	Symbol    string              `json:"symbol"`
	Side      OrderSide           `json:"side"`
	Type      OrderType           `json:"type"`
	Quantity  decimal.Decimal     `json:"quantity"`
	Price     decimal.NullDecimal `json:"price"`
	StopPrice decimal.NullDecimal `json:"stop_price"`
}

// ValidationError reports a malformed order. It is returned before any risk check.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate checks the request schema.
func (r *SubmitOrder) Validate() error {
	if strings.TrimSpace(r.Account) == "" {
		return invalid("account", "is required")
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return invalid("symbol", "is required")
	}
	if !r.Side.Valid() {
		return invalid("side", fmt.Sprintf("%q is not supported", r.Side))
	}
	if !r.Type.Valid() {
		return invalid("type", fmt.Sprintf("%q is not supported", r.Type))
	}
	if !r.Quantity.IsPositive() {
		return invalid("quantity", "must be positive")
	}

	switch {
	case r.Type.HasLimitPrice():
		if !r.Price.Valid || !r.Price.Decimal.IsPositive() {
			return invalid("price", "must be positive for "+string(r.Type))
		}
	case r.Price.Valid:
		if r.Type == OrderTypeMarket {
			return invalid("price", "must be empty for MARKET")
		}
		if !r.Price.Decimal.IsPositive() {
			return invalid("price", "must be positive")
		}
	}

	if r.Type.HasStopPrice() {
		if !r.StopPrice.Valid || !r.StopPrice.Decimal.IsPositive() {
			return invalid("stop_price", "must be positive for "+string(r.Type))
		}
	} else if r.StopPrice.Valid {
		return invalid("stop_price", "is only allowed for stop orders")
	}

	return nil
}

// CancelOrder is the inbound cancel_order request.
type CancelOrder struct {
	OrderID string `json:"order_id"`
}

// SubmitResult is returned synchronously by submit.
type SubmitResult struct {
	OrderID string       `json:"order_id"`
	Status  OrderStatus  `json:"status"`
	Reason  RejectReason `json:"reason,omitempty"`
}
