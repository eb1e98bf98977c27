package riskrule

import (
	"github.com/joripage/oms-core/pkg/account"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
)

// Request is everything a rule may look at. It is built once per check from snapshots.
type Request struct {
	Order    *model.Order
	Limits   Limits
	Price    decimal.Decimal // reference price used for notional
	Notional decimal.Decimal
	Current  model.Position
	NextQty  decimal.Decimal
	Balance  account.Balance
	Equity   decimal.Decimal // cash plus signed market value of all positions
	VaR      decimal.Decimal // cached portfolio VaR
	Sigma    float64         // volatility of the order's symbol
	Z        float64
}

// Increases reports whether the order grows the absolute exposure in the symbol.
func (r *Request) Increases() bool {
	return r.NextQty.Abs().GreaterThan(r.Current.Quantity.Abs())
}

// RiskRule is one pre-trade check. It returns ReasonNone when the order passes.
type RiskRule interface {
	Name() string
	Check(req *Request) model.RejectReason
}

// DefaultRules returns the checks in their fixed evaluation order.
func DefaultRules() []RiskRule {
	return []RiskRule{
		OrderSizeRule{},
		PositionLimitRule{},
		ConcentrationRule{},
		BuyingPowerRule{},
		VaRRule{},
	}
}
