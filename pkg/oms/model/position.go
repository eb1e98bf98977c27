package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the net holding of one account in one symbol.
type Position struct {
	ID           int64           `json:"-" gorm:"primaryKey;autoIncrement"`
	Account      string          `json:"account" gorm:"uniqueIndex:idx_position_key;size:64"`
	Symbol       string          `json:"symbol" gorm:"uniqueIndex:idx_position_key;size:32"`
	Quantity     decimal.Decimal `json:"qty" gorm:"type:numeric"`
	AveragePrice decimal.Decimal `json:"avg_price" gorm:"type:numeric"`
	LastPrice    decimal.Decimal `json:"last_price" gorm:"type:numeric"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl" gorm:"column:realized_pnl;type:numeric"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// IsFlat reports whether the position holds no quantity.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// Exposure is the absolute market value of the position at price.
func (p Position) Exposure(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price).Abs()
}
