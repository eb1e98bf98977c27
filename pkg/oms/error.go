package oms

import "errors"

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidOrderStatus = errors.New("invalid order status")
	ErrDuplicateFill      = errors.New("duplicate fill")
	ErrUnknownOrderFill   = errors.New("fill for unknown order")
	ErrFillOnClosedOrder  = errors.New("fill for closed order")
	ErrInvalidFill        = errors.New("invalid fill")
	ErrAdapterUnavailable = errors.New("execution adapter unavailable")
	ErrInvalidEvent       = errors.New("invalid adapter event")
)

// IsAnomaly reports whether err is an inbound event the core logged and dropped.
// Such events must be acknowledged, redelivering them cannot succeed.
func IsAnomaly(err error) bool {
	return errors.Is(err, ErrDuplicateFill) ||
		errors.Is(err, ErrUnknownOrderFill) ||
		errors.Is(err, ErrFillOnClosedOrder) ||
		errors.Is(err, ErrInvalidFill) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrInvalidOrderStatus)
}
