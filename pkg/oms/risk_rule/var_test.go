package riskrule

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joripage/oms-core/pkg/ledger"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/metrics"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceBookVolatility(t *testing.T) {
	b := NewPriceBook(3, 0.05)

	_, ok := b.Mark("X")
	assert.False(t, ok)
	assert.Equal(t, 0.05, b.Volatility("X"))

	b.UpdateMark("X", dec("100"))
	b.UpdateMark("X", dec("0")) // ignored
	mark, ok := b.Mark("X")
	require.True(t, ok)
	assert.True(t, mark.Equal(dec("100")))
	assert.Equal(t, 0.05, b.Volatility("X"), "one price has no returns yet")

	for _, p := range []string{"110", "99", "108.9", "98.01"} {
		b.UpdateMark("X", dec(p))
	}
	// window keeps the last 3 returns: ln(0.9), ln(1.1), ln(0.9)
	r1, r2 := math.Log(0.9), math.Log(1.1)
	mean := (2*r1 + r2) / 3
	want := math.Sqrt((2*(r1-mean)*(r1-mean) + (r2-mean)*(r2-mean)) / 2)
	assert.InDelta(t, want, b.Volatility("X"), 1e-9)
}

func TestLocalVaRSource(t *testing.T) {
	l := ledger.New()
	prices := NewPriceBook(10, 0.01)
	_, _, err := l.ApplyFill(ledger.FillInput{Account: "A", Symbol: "X", Side: model.OrderSideBuy, Qty: dec("2"), Price: dec("100"), FillID: "f1"})
	require.NoError(t, err)
	_, _, err = l.ApplyFill(ledger.FillInput{Account: "A", Symbol: "Y", Side: model.OrderSideSell, Qty: dec("1"), Price: dec("50"), FillID: "f2"})
	require.NoError(t, err)
	_, _, err = l.ApplyFill(ledger.FillInput{Account: "B", Symbol: "X", Side: model.OrderSideBuy, Qty: dec("1"), Price: dec("100"), FillID: "f3"})
	require.NoError(t, err)
	prices.UpdateMark("X", dec("150"))

	src := NewLocalVaRSource(l, prices, 2)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return fixed }

	got, err := src.Estimate(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	// A: |2*150|*0.02 + |-1*50|*0.02 = 6 + 1
	assert.True(t, got["A"].Value.Equal(dec("7")), got["A"].Value.String())
	assert.True(t, got["B"].Value.Equal(dec("3")), got["B"].Value.String())
	assert.Equal(t, fixed, got["A"].ComputedAt)
}

type flakySource struct {
	calls int
	fail  bool
}

func (s *flakySource) Estimate(context.Context) (map[string]VaREstimate, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("source down")
	}
	return map[string]VaREstimate{"A": {Account: "A", Value: decimal.NewFromInt(int64(s.calls)), ComputedAt: time.Now()}}, nil
}

func TestVaRRefresherKeepsLastGoodEstimate(t *testing.T) {
	cache := NewVaRCache()
	src := &flakySource{}
	r := NewVaRRefresher(src, cache, time.Hour, logging.NewNop(), metrics.New())

	require.NoError(t, r.RefreshOnce(context.Background()))
	est, ok := cache.Get("A")
	require.True(t, ok)
	assert.True(t, est.Value.Equal(decimal.NewFromInt(1)))

	src.fail = true
	assert.Error(t, r.RefreshOnce(context.Background()))
	est, ok = cache.Get("A")
	require.True(t, ok)
	assert.True(t, est.Value.Equal(decimal.NewFromInt(1)))

	_, ok = cache.Get("missing")
	assert.False(t, ok)
}

func TestVaRRefresherRunStopsOnCancel(t *testing.T) {
	cache := NewVaRCache()
	r := NewVaRRefresher(&flakySource{}, cache, time.Millisecond, logging.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		est, ok := cache.Get("A")
		return ok && est.Value.GreaterThan(decimal.NewFromInt(1))
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestTickSizeRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"X": [{"maxPrice": "10", "step": "0.01"}, {"maxPrice": "0", "step": "0.5"}]}`), 0o600))

	rule, err := NewTickSizeRuleFromFile(path)
	require.NoError(t, err)

	order := func(px string) *model.SubmitOrder {
		return &model.SubmitOrder{Account: "A", Symbol: "X", Side: model.OrderSideBuy, Type: model.OrderTypeLimit,
			Quantity: dec("1"), Price: decimal.NewNullDecimal(dec(px))}
	}

	assert.NoError(t, rule.Check(order("9.99")))
	assert.NoError(t, rule.Check(order("12.5")))

	err = rule.Check(order("12.3"))
	require.Error(t, err)
	assert.True(t, model.IsValidationError(err))

	other := order("0.333")
	other.Symbol = "Z"
	assert.NoError(t, rule.Check(other))

	var nilRule *TickSizeRule
	assert.NoError(t, nilRule.Check(order("12.3")))

	_, err = NewTickSizeRuleFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
