package riskrule

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Limits are the bounds applied to one account. A non-positive bound is disabled,
// except MinBuyingPower where zero means cash may not go negative.
type Limits struct {
	MaxOrderNotional    decimal.Decimal
	MaxPositionNotional decimal.Decimal
	MaxConcentration    decimal.Decimal // fraction of equity, 0.25 = 25%
	MinBuyingPower      decimal.Decimal
	MaxVaR              decimal.Decimal
}

// LimitsOverride holds an account's deviations from the global limits. Only
// the set fields apply, so an account can lower a bound to zero.
type LimitsOverride struct {
	MaxOrderNotional    decimal.NullDecimal
	MaxPositionNotional decimal.NullDecimal
	MaxConcentration    decimal.NullDecimal
	MinBuyingPower      decimal.NullDecimal
	MaxVaR              decimal.NullDecimal
}

// merge overlays the set fields of o on l.
func (l Limits) merge(o LimitsOverride) Limits {
	pick := func(base decimal.Decimal, override decimal.NullDecimal) decimal.Decimal {
		if !override.Valid {
			return base
		}
		return override.Decimal
	}
	return Limits{
		MaxOrderNotional:    pick(l.MaxOrderNotional, o.MaxOrderNotional),
		MaxPositionNotional: pick(l.MaxPositionNotional, o.MaxPositionNotional),
		MaxConcentration:    pick(l.MaxConcentration, o.MaxConcentration),
		MinBuyingPower:      pick(l.MinBuyingPower, o.MinBuyingPower),
		MaxVaR:              pick(l.MaxVaR, o.MaxVaR),
	}
}

// RiskLimits is an immutable snapshot of global and per-account limits.
type RiskLimits struct {
	Version  int64
	Global   Limits
	accounts map[string]LimitsOverride
}

// NewRiskLimits copies accounts so the snapshot cannot be mutated by the caller.
func NewRiskLimits(version int64, global Limits, accounts map[string]LimitsOverride) *RiskLimits {
	cp := make(map[string]LimitsOverride, len(accounts))
	for k, v := range accounts {
		cp[k] = v
	}
	return &RiskLimits{Version: version, Global: global, accounts: cp}
}

// For returns the effective limits of account: global bounds overlaid with the account's overrides.
func (r *RiskLimits) For(account string) Limits {
	if o, ok := r.accounts[account]; ok {
		return r.Global.merge(o)
	}
	return r.Global
}

// LimitStore publishes RiskLimits snapshots. Readers never block; Replace swaps the whole snapshot.
type LimitStore struct {
	current atomic.Pointer[RiskLimits]
}

func NewLimitStore(initial *RiskLimits) *LimitStore {
	s := &LimitStore{}
	if initial == nil {
		initial = NewRiskLimits(0, Limits{}, nil)
	}
	s.current.Store(initial)
	return s
}

func (s *LimitStore) Load() *RiskLimits {
	return s.current.Load()
}

func (s *LimitStore) Replace(next *RiskLimits) {
	if next == nil {
		return
	}
	s.current.Store(next)
}
