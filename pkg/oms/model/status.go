package model

// transitions lists every legal lifecycle edge. Anything else is rejected by CanTransition.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusNew:       {OrderStatusRiskCheck, OrderStatusRejected},
	OrderStatusRiskCheck: {OrderStatusRouted, OrderStatusRejected},
	OrderStatusRouted: {
		OrderStatusPartiallyFilled,
		OrderStatusFilled,
		OrderStatusCancelPending,
		OrderStatusRejected,
	},
	// a venue reject of a working order closes whatever quantity is left
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled,
		OrderStatusFilled,
		OrderStatusCancelPending,
		OrderStatusRejected,
	},
	// a refused cancel, even a late one, puts the order back to its working state
	OrderStatusCancelPending: {
		OrderStatusCancelled,
		OrderStatusCancelUnconfirmed,
		OrderStatusFilled,
		OrderStatusRouted,
		OrderStatusPartiallyFilled,
		OrderStatusRejected,
	},
	OrderStatusCancelUnconfirmed: {
		OrderStatusCancelled,
		OrderStatusFilled,
		OrderStatusRouted,
		OrderStatusPartiallyFilled,
		OrderStatusRejected,
	},
}

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusRejected, OrderStatusFilled, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}
