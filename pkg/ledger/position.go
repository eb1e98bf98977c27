package ledger

import (
	"time"

	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
)

// applyFill returns p moved by signedQty at price.
//
// Adding to a position (or opening one) blends the average price by quantity.
// Reducing keeps the average and books realized P&L on the closed part; a fill
// that crosses zero re-opens the remainder at the fill price.
func applyFill(p model.Position, signedQty, price decimal.Decimal, ts time.Time) model.Position {
	cur := p.Quantity
	next := cur.Add(signedQty)

	if cur.IsZero() || cur.Sign() == signedQty.Sign() {
		p.AveragePrice = cur.Abs().Mul(p.AveragePrice).
			Add(signedQty.Abs().Mul(price)).
			Div(next.Abs())
	} else {
		closed := decimal.Min(cur.Abs(), signedQty.Abs())
		pnl := price.Sub(p.AveragePrice).Mul(closed)
		if cur.IsNegative() {
			pnl = pnl.Neg()
		}
		p.RealizedPnL = p.RealizedPnL.Add(pnl)

		switch {
		case next.IsZero():
			p.AveragePrice = decimal.Zero
		case next.Sign() != cur.Sign():
			p.AveragePrice = price
		}
	}

	p.Quantity = next
	p.LastPrice = price
	p.UpdatedAt = ts
	return p
}
