package riskrule

import (
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
)

// OrderSizeRule bounds the notional of a single order.
type OrderSizeRule struct{}

func (OrderSizeRule) Name() string { return "order_size" }

func (OrderSizeRule) Check(req *Request) model.RejectReason {
	if isSet(req.Limits.MaxOrderNotional) && req.Notional.GreaterThan(req.Limits.MaxOrderNotional) {
		return model.ReasonOrderSizeLimit
	}
	return model.ReasonNone
}

// PositionLimitRule bounds the notional of the resulting position.
type PositionLimitRule struct{}

func (PositionLimitRule) Name() string { return "position_limit" }

func (PositionLimitRule) Check(req *Request) model.RejectReason {
	if !req.Increases() || !isSet(req.Limits.MaxPositionNotional) {
		return model.ReasonNone
	}
	if req.NextQty.Abs().Mul(req.Price).GreaterThan(req.Limits.MaxPositionNotional) {
		return model.ReasonPositionLimit
	}
	return model.ReasonNone
}

// ConcentrationRule bounds the share of account equity held in one symbol after the order.
type ConcentrationRule struct{}

func (ConcentrationRule) Name() string { return "concentration" }

func (ConcentrationRule) Check(req *Request) model.RejectReason {
	if !req.Increases() || !isSet(req.Limits.MaxConcentration) {
		return model.ReasonNone
	}
	if !req.Equity.IsPositive() {
		return model.ReasonConcentrationLimit
	}
	share := req.NextQty.Abs().Mul(req.Price).Div(req.Equity)
	if share.GreaterThan(req.Limits.MaxConcentration) {
		return model.ReasonConcentrationLimit
	}
	return model.ReasonNone
}

// BuyingPowerRule requires the cash left after the order to stay above the minimum.
// Buys spend their notional; sells only consume buying power for the part that opens a short.
type BuyingPowerRule struct{}

func (BuyingPowerRule) Name() string { return "buying_power" }

func (BuyingPowerRule) Check(req *Request) model.RejectReason {
	required := decimal.Zero
	switch {
	case req.Order.Side == model.OrderSideBuy:
		required = req.Notional
	case req.NextQty.IsNegative():
		required = decimal.Min(req.NextQty.Abs(), req.Order.Quantity).Mul(req.Price)
	}
	if required.IsZero() {
		return model.ReasonNone
	}
	if req.Balance.Available().Sub(required).LessThan(req.Limits.MinBuyingPower) {
		return model.ReasonBuyingPower
	}
	return model.ReasonNone
}

// VaRRule adds the order's marginal VaR to the cached portfolio estimate.
type VaRRule struct{}

func (VaRRule) Name() string { return "var" }

func (VaRRule) Check(req *Request) model.RejectReason {
	if !isSet(req.Limits.MaxVaR) {
		return model.ReasonNone
	}
	projected := req.VaR
	if req.Increases() {
		added := req.NextQty.Abs().Sub(req.Current.Quantity.Abs()).Mul(req.Price)
		projected = projected.Add(added.Mul(decimal.NewFromFloat(req.Z * req.Sigma)))
	}
	if projected.GreaterThan(req.Limits.MaxVaR) {
		return model.ReasonVaRLimit
	}
	return model.ReasonNone
}

func isSet(v decimal.Decimal) bool {
	return v.IsPositive()
}
