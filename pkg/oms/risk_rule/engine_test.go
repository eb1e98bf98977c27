package riskrule

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/joripage/oms-core/pkg/account"
	"github.com/joripage/oms-core/pkg/ledger"
	"github.com/joripage/oms-core/pkg/metrics"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	ledger   *ledger.Ledger
	balances *account.BalanceBook
	prices   *PriceBook
	vars     *VaRCache
	limits   *LimitStore
	engine   *Engine
}

func defaultLimits() Limits {
	return Limits{
		MaxOrderNotional:    dec("50000"),
		MaxPositionNotional: dec("100000"),
		MaxConcentration:    dec("0.25"),
		MinBuyingPower:      dec("0"),
		MaxVaR:              dec("20000"),
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   ledger.New(),
		balances: account.NewBalanceBook(),
		prices:   NewPriceBook(20, 0.02),
		vars:     NewVaRCache(),
		limits:   NewLimitStore(NewRiskLimits(1, defaultLimits(), nil)),
	}
	f.engine = f.newEngine(cfg, f.ledger)
	return f
}

func (f *fixture) newEngine(cfg Config, positions PortfolioReader) *Engine {
	return NewEngine(cfg, EngineDeps{
		Limits:    f.limits,
		Positions: positions,
		Balances:  f.balances,
		Prices:    f.prices,
		VaR:       f.vars,
		Metrics:   metrics.New(),
	})
}

func limitOrder(account, symbol string, side model.OrderSide, qty, px string) *model.Order {
	return &model.Order{
		OrderID:  "o-" + account + "-" + symbol,
		Account:  account,
		Symbol:   symbol,
		Side:     side,
		Type:     model.OrderTypeLimit,
		Quantity: dec(qty),
		Price:    decimal.NewNullDecimal(dec(px)),
	}
}

func (f *fixture) hold(t *testing.T, account, symbol, qty, px string) {
	t.Helper()
	_, _, err := f.ledger.ApplyFill(ledger.FillInput{
		Account: account, Symbol: symbol, Side: model.OrderSideBuy,
		Qty: dec(qty), Price: dec(px), FillID: "seed-" + account + "-" + symbol,
	})
	require.NoError(t, err)
	f.prices.UpdateMark(symbol, dec(px))
}

func TestApprovesOrderWithinLimits(t *testing.T) {
	f := newFixture(t, Config{Timeout: 50 * time.Millisecond})
	f.balances.Deposit("A", dec("100000"))

	res := f.engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "0.1", "45000"))
	assert.True(t, res.Approved)
	assert.Equal(t, model.ReasonNone, res.Reason)
	assert.Positive(t, res.Elapsed)
}

func TestRejectsOrderAboveMaxNotional(t *testing.T) {
	f := newFixture(t, Config{Timeout: 50 * time.Millisecond})
	f.balances.Deposit("A", dec("10000000"))

	res := f.engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "2", "45000"))
	assert.False(t, res.Approved)
	assert.Equal(t, model.ReasonOrderSizeLimit, res.Reason)
}

func TestRejectsResultingPositionAboveLimit(t *testing.T) {
	f := newFixture(t, Config{Timeout: 50 * time.Millisecond})
	f.limits.Replace(NewRiskLimits(2, Limits{MaxOrderNotional: dec("50000"), MaxPositionNotional: dec("60000")}, nil))
	f.balances.Deposit("A", dec("1000000"))
	f.hold(t, "A", "X", "1", "45000")

	res := f.engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "0.5", "45000"))
	assert.Equal(t, model.ReasonPositionLimit, res.Reason)

	// reducing is always allowed by the position rule
	res = f.engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideSell, "0.5", "45000"))
	assert.True(t, res.Approved)
}

func TestRejectsConcentrationBreach(t *testing.T) {
	f := newFixture(t, Config{Timeout: 50 * time.Millisecond})
	// 76k cash + 10 Y @ 2400 = 100k equity, 24% in Y
	f.balances.Deposit("A", dec("76000"))
	f.hold(t, "A", "Y", "10", "2400")

	// +2.5 Y brings the holding to 30k, 30% of equity
	res := f.engine.Check(context.Background(), limitOrder("A", "Y", model.OrderSideBuy, "2.5", "2400"))
	assert.False(t, res.Approved)
	assert.Equal(t, model.ReasonConcentrationLimit, res.Reason)

	// +0.4 Y stays at 25%
	res = f.engine.Check(context.Background(), limitOrder("A", "Y", model.OrderSideBuy, "0.4", "2400"))
	assert.True(t, res.Approved, res.Reason)
}

func TestRejectsInsufficientBuyingPower(t *testing.T) {
	f := newFixture(t, Config{Timeout: 50 * time.Millisecond})
	f.limits.Replace(NewRiskLimits(2, Limits{MinBuyingPower: dec("1000")}, nil))
	f.balances.Deposit("A", dec("5000"))
	_, err := f.balances.Reserve("A", "open-order", dec("1000"))
	require.NoError(t, err)

	res := f.engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "1", "3500"))
	assert.Equal(t, model.ReasonBuyingPower, res.Reason)

	res = f.engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "1", "3000"))
	assert.True(t, res.Approved)

	// opening a short consumes buying power too
	res = f.engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideSell, "2", "3000"))
	assert.Equal(t, model.ReasonBuyingPower, res.Reason)
}

func TestRejectsVaRBreach(t *testing.T) {
	f := newFixture(t, Config{Timeout: 50 * time.Millisecond, Z: 2})
	f.balances.Deposit("A", dec("1000000"))
	f.limits.Replace(NewRiskLimits(2, Limits{MaxVaR: dec("1000")}, nil))
	f.vars.Replace(map[string]VaREstimate{"A": {Account: "A", Value: dec("900"), ComputedAt: time.Now()}})

	// marginal var = 2 * 0.02 * 5000 = 200, 900 + 200 > 1000
	res := f.engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "1", "5000"))
	assert.Equal(t, model.ReasonVaRLimit, res.Reason)

	// marginal var = 2 * 0.02 * 2000 = 80
	res = f.engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "1", "2000"))
	assert.True(t, res.Approved)
}

func TestStaleVaRFailsClosed(t *testing.T) {
	f := newFixture(t, Config{Timeout: 50 * time.Millisecond, MaxVaRStaleness: time.Second})
	f.balances.Deposit("A", dec("100000"))
	f.vars.Replace(map[string]VaREstimate{"A": {Account: "A", Value: dec("1"), ComputedAt: time.Now().Add(-time.Minute)}})

	res := f.engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "0.1", "45000"))
	assert.False(t, res.Approved)
	assert.Equal(t, model.ReasonRiskUnavailable, res.Reason)
}

func TestMarketOrderUsesMark(t *testing.T) {
	f := newFixture(t, Config{Timeout: 50 * time.Millisecond})
	f.balances.Deposit("A", dec("100000"))
	order := &model.Order{OrderID: "m1", Account: "A", Symbol: "X", Side: model.OrderSideBuy, Type: model.OrderTypeMarket, Quantity: dec("0.1")}

	res := f.engine.Check(context.Background(), order)
	assert.Equal(t, model.ReasonRiskUnavailable, res.Reason, "no mark yet")

	f.prices.UpdateMark("X", dec("45000"))
	res = f.engine.Check(context.Background(), order)
	assert.True(t, res.Approved)

	order.Quantity = dec("2")
	res = f.engine.Check(context.Background(), order)
	assert.Equal(t, model.ReasonOrderSizeLimit, res.Reason)
}

type slowPositions struct {
	*ledger.Ledger
	delay time.Duration
}

func (s slowPositions) GetPosition(account, symbol string) model.Position {
	time.Sleep(s.delay)
	return s.Ledger.GetPosition(account, symbol)
}

type panickingPositions struct{ *ledger.Ledger }

func (panickingPositions) GetPosition(string, string) model.Position {
	panic("ledger gone")
}

func TestTimeoutFailsClosed(t *testing.T) {
	f := newFixture(t, Config{})
	f.balances.Deposit("A", dec("100000"))
	engine := f.newEngine(Config{Timeout: 5 * time.Millisecond}, slowPositions{Ledger: f.ledger, delay: 50 * time.Millisecond})

	start := time.Now()
	res := engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "0.1", "45000"))
	assert.False(t, res.Approved)
	assert.Equal(t, model.ReasonRiskTimeout, res.Reason)
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}

func TestCallerDeadlineCountsAsTimeout(t *testing.T) {
	f := newFixture(t, Config{})
	engine := f.newEngine(Config{Timeout: time.Second}, slowPositions{Ledger: f.ledger, delay: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Millisecond)
	defer cancel()
	res := engine.Check(ctx, limitOrder("A", "X", model.OrderSideBuy, "0.1", "45000"))
	assert.Equal(t, model.ReasonRiskTimeout, res.Reason)
}

func TestPanicFailsClosed(t *testing.T) {
	f := newFixture(t, Config{})
	engine := f.newEngine(Config{Timeout: 50 * time.Millisecond}, panickingPositions{f.ledger})

	res := engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "0.1", "45000"))
	assert.False(t, res.Approved)
	assert.Equal(t, model.ReasonRiskUnavailable, res.Reason)
}

func TestFailOpenApprovesInfrastructureFailuresOnly(t *testing.T) {
	f := newFixture(t, Config{})
	f.balances.Deposit("A", dec("100000"))
	engine := f.newEngine(Config{Timeout: 5 * time.Millisecond, FailOpen: true}, slowPositions{Ledger: f.ledger, delay: 50 * time.Millisecond})

	res := engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "0.1", "45000"))
	assert.True(t, res.Approved)
	assert.Equal(t, model.ReasonNone, res.Reason)

	open := f.newEngine(Config{Timeout: 50 * time.Millisecond, FailOpen: true}, f.ledger)
	res = open.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "2", "45000"))
	assert.Equal(t, model.ReasonOrderSizeLimit, res.Reason)
}

func TestAccountOverridesAndSnapshotSwap(t *testing.T) {
	f := newFixture(t, Config{Timeout: 50 * time.Millisecond})
	f.balances.Deposit("VIP", dec("10000000"))
	f.balances.Deposit("A", dec("10000000"))

	overrides := map[string]LimitsOverride{
		"VIP": {
			MaxOrderNotional:    decimal.NewNullDecimal(dec("200000")),
			MaxPositionNotional: decimal.NewNullDecimal(dec("500000")),
		},
	}
	f.limits.Replace(NewRiskLimits(2, defaultLimits(), overrides))
	overrides["VIP"] = LimitsOverride{}

	assert.True(t, f.engine.Check(context.Background(), limitOrder("VIP", "X", model.OrderSideBuy, "2", "45000")).Approved)
	assert.Equal(t, model.ReasonOrderSizeLimit, f.engine.Check(context.Background(), limitOrder("A", "X", model.OrderSideBuy, "2", "45000")).Reason)
	assert.Equal(t, int64(2), f.limits.Load().Version)
}

func TestCheckMedianLatency(t *testing.T) {
	if testing.Short() {
		t.Skip("latency test")
	}
	f := newFixture(t, Config{Timeout: 5 * time.Millisecond})
	f.balances.Deposit("A", dec("100000000"))
	f.hold(t, "A", "Y", "1", "100")
	order := limitOrder("A", "X", model.OrderSideBuy, "0.1", "45000")

	const n = 10000
	samples := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		res := f.engine.Check(context.Background(), order)
		require.True(t, res.Approved)
		samples = append(samples, res.Elapsed)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	assert.Less(t, samples[n/2], 1500*time.Microsecond)
}

func TestAccountOverrideCanClearBound(t *testing.T) {
	global := Limits{MaxOrderNotional: dec("50000"), MinBuyingPower: dec("1000")}
	limits := NewRiskLimits(1, global, map[string]LimitsOverride{
		"DESK": {
			MaxOrderNotional: decimal.NewNullDecimal(decimal.Zero),
			MinBuyingPower:   decimal.NewNullDecimal(decimal.Zero),
		},
	})

	desk := limits.For("DESK")
	assert.True(t, desk.MaxOrderNotional.IsZero())
	assert.True(t, desk.MinBuyingPower.IsZero())
	assert.True(t, dec("50000").Equal(limits.For("OTHER").MaxOrderNotional))
}
