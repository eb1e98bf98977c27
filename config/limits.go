package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	riskrule "github.com/joripage/oms-core/pkg/oms/risk_rule"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyLimits      = errors.New("limits file is empty")
	ErrMissingGlobal    = errors.New("limits file has no global section")
	ErrMissingVersion   = errors.New("limits file version must be positive")
	ErrVersionNotRaised = errors.New("limits version did not increase")
)

// LimitsFile is the on-disk form of a risk limits snapshot. Amounts are
// strings so they round-trip through decimal without float loss.
type LimitsFile struct {
	Version  int64                  `yaml:"version"`
	Global   *LimitsEntry           `yaml:"global"`
	Accounts map[string]LimitsEntry `yaml:"accounts"`
}

// LimitsEntry is one set of bounds. An omitted field inherits the global
// value for accounts and is disabled for the global entry; "0" is explicit.
type LimitsEntry struct {
	MaxOrderNotional    string `yaml:"max_order_notional"`
	MaxPositionNotional string `yaml:"max_position_notional"`
	MaxConcentration    string `yaml:"max_concentration"`
	MinBuyingPower      string `yaml:"min_buying_power"`
	MaxVaR              string `yaml:"max_var"`
}

func (e LimitsEntry) toOverride() (riskrule.LimitsOverride, error) {
	var o riskrule.LimitsOverride
	fields := []struct {
		name string
		raw  string
		dst  *decimal.NullDecimal
	}{
		{"max_order_notional", e.MaxOrderNotional, &o.MaxOrderNotional},
		{"max_position_notional", e.MaxPositionNotional, &o.MaxPositionNotional},
		{"max_concentration", e.MaxConcentration, &o.MaxConcentration},
		{"min_buying_power", e.MinBuyingPower, &o.MinBuyingPower},
		{"max_var", e.MaxVaR, &o.MaxVaR},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return riskrule.LimitsOverride{}, fmt.Errorf("%s: %w", f.name, err)
		}
		if d.IsNegative() && f.name != "min_buying_power" {
			return riskrule.LimitsOverride{}, fmt.Errorf("%s: must not be negative", f.name)
		}
		*f.dst = decimal.NewNullDecimal(d)
	}
	return o, nil
}

func (e LimitsEntry) toLimits() (riskrule.Limits, error) {
	o, err := e.toOverride()
	if err != nil {
		return riskrule.Limits{}, err
	}
	return riskrule.Limits{
		MaxOrderNotional:    o.MaxOrderNotional.Decimal,
		MaxPositionNotional: o.MaxPositionNotional.Decimal,
		MaxConcentration:    o.MaxConcentration.Decimal,
		MinBuyingPower:      o.MinBuyingPower.Decimal,
		MaxVaR:              o.MaxVaR.Decimal,
	}, nil
}

// ParseLimits decodes a YAML limits document into an immutable snapshot. A
// document without a version or a global section is refused, so a truncated
// file never replaces real limits with disabled ones.
func ParseLimits(data []byte) (*riskrule.RiskLimits, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyLimits
	}
	var file LimitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if file.Version <= 0 {
		return nil, ErrMissingVersion
	}
	if file.Global == nil {
		return nil, ErrMissingGlobal
	}

	global, err := file.Global.toLimits()
	if err != nil {
		return nil, fmt.Errorf("global: %w", err)
	}
	accounts := make(map[string]riskrule.LimitsOverride, len(file.Accounts))
	for account, entry := range file.Accounts {
		o, err := entry.toOverride()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", account, err)
		}
		accounts[account] = o
	}
	return riskrule.NewRiskLimits(file.Version, global, accounts), nil
}

func LoadLimits(path string) (*riskrule.RiskLimits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseLimits(data)
}
