package riskrule

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
)

type tickSizeBand struct {
	MaxPrice decimal.Decimal `json:"maxPrice"` // 0 = no upper bound
	Step     decimal.Decimal `json:"step"`
}

// TickSizeRule holds the price grid of every symbol. Symbols without bands accept any price.
type TickSizeRule struct {
	Config map[string][]tickSizeBand
}

// NewTickSizeRuleFromFile loads bands from a JSON file: {"SYMBOL": [{"maxPrice": "10", "step": "0.01"}, ...]}.
func NewTickSizeRuleFromFile(path string) (*TickSizeRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg map[string][]tickSizeBand
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse tick size file %s: %w", path, err)
	}

	return &TickSizeRule{Config: cfg}, nil
}

// Check rejects limit or stop prices that are not a multiple of the band's step.
func (r *TickSizeRule) Check(order *model.SubmitOrder) error {
	if r == nil {
		return nil
	}
	bands, ok := r.Config[order.Symbol]
	if !ok {
		return nil
	}

	for field, p := range map[string]decimal.NullDecimal{"price": order.Price, "stop_price": order.StopPrice} {
		if !p.Valid {
			continue
		}
		if step, ok := stepFor(bands, p.Decimal); ok && !p.Decimal.Mod(step).IsZero() {
			return &model.ValidationError{Field: field, Reason: fmt.Sprintf("%s is not on tick %s", p.Decimal, step)}
		}
	}
	return nil
}

func stepFor(bands []tickSizeBand, price decimal.Decimal) (decimal.Decimal, bool) {
	for _, band := range bands {
		if band.MaxPrice.IsZero() || price.LessThanOrEqual(band.MaxPrice) {
			return band.Step, band.Step.IsPositive()
		}
	}
	return decimal.Zero, false
}
