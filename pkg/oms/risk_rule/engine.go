package riskrule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joripage/oms-core/pkg/account"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/metrics"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	errNoReferencePrice = errors.New("no reference price")
	errStaleVaR         = errors.New("cached var is stale")
)

// Checker is the admission-control capability used by the order core. It may be
// served in process or across a network boundary; either way it must answer
// within its own deadline and fail closed.
type Checker interface {
	Check(ctx context.Context, order *model.Order) model.RiskCheckResult
}

// BalanceReader is the narrow view of account cash the risk side needs.
type BalanceReader interface {
	Snapshot(account string) account.Balance
}

type Config struct {
	Timeout         time.Duration
	FailOpen        bool
	MaxVaRStaleness time.Duration
	Z               float64
}

// Engine is the synchronous pre-trade gate. It reads snapshots only and never mutates state.
type Engine struct {
	cfg       Config
	rules     []RiskRule
	limits    *LimitStore
	positions PortfolioReader
	balances  BalanceReader
	prices    *PriceBook
	vars      *VaRCache
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type EngineDeps struct {
	Limits    *LimitStore
	Positions PortfolioReader
	Balances  BalanceReader
	Prices    *PriceBook
	VaR       *VaRCache
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

func NewEngine(cfg Config, deps EngineDeps) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Millisecond
	}
	if cfg.Z <= 0 {
		cfg.Z = 2.33
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		rules:     DefaultRules(),
		limits:    deps.Limits,
		positions: deps.Positions,
		balances:  deps.Balances,
		prices:    deps.Prices,
		vars:      deps.VaR,
		logger:    logger.Named("risk"),
		metrics:   deps.Metrics,
		now:       time.Now,
	}
}

// Check runs the rules in order and stops at the first breach. The evaluation
// runs under the configured timeout; a timeout, panic or missing input rejects
// the order unless the engine was configured fail-open.
func (e *Engine) Check(ctx context.Context, order *model.Order) model.RiskCheckResult {
	start := e.now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan model.RejectReason, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error(ctx, "risk evaluation panicked", zap.Any("panic", r), zap.String("order_id", order.OrderID))
				done <- model.ReasonRiskUnavailable
			}
		}()
		done <- e.evaluate(ctx, order)
	}()

	var reason model.RejectReason
	select {
	case reason = <-done:
	case <-ctx.Done():
		reason = model.ReasonRiskTimeout
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = model.ReasonRiskUnavailable
		}
	}

	result := model.RiskCheckResult{Approved: reason == model.ReasonNone, Reason: reason}
	if reason.IsInfrastructure() && e.cfg.FailOpen {
		e.logger.Warn(ctx, "risk check failed open", zap.String("order_id", order.OrderID), zap.String("reason", string(reason)))
		result = model.RiskCheckResult{Approved: true}
	}
	result.Elapsed = e.now().Sub(start)

	if e.metrics != nil {
		e.metrics.RiskCheckDuration.Observe(result.Elapsed.Seconds())
		label := string(result.Reason)
		if result.Approved {
			label = "approved"
		}
		e.metrics.RiskDecisions.WithLabelValues(label).Inc()
	}
	return result
}

func (e *Engine) evaluate(ctx context.Context, order *model.Order) model.RejectReason {
	req, err := e.buildRequest(order)
	if err != nil {
		e.logger.Warn(ctx, "risk inputs unavailable", zap.String("order_id", order.OrderID), zap.Error(err))
		return model.ReasonRiskUnavailable
	}

	for _, rule := range e.rules {
		if ctx.Err() != nil {
			return model.ReasonRiskTimeout
		}
		if reason := rule.Check(req); reason != model.ReasonNone {
			e.logger.Debug(ctx, "risk rule rejected order",
				zap.String("order_id", order.OrderID),
				zap.String("rule", rule.Name()),
				zap.String("reason", string(reason)))
			return reason
		}
	}
	if ctx.Err() != nil {
		return model.ReasonRiskTimeout
	}
	return model.ReasonNone
}

func (e *Engine) buildRequest(order *model.Order) (*Request, error) {
	price, ok := e.referencePrice(order)
	if !ok {
		return nil, fmt.Errorf("%w for %s", errNoReferencePrice, order.Symbol)
	}

	current := e.positions.GetPosition(order.Account, order.Symbol)
	balance := e.balances.Snapshot(order.Account)

	equity := balance.Cash
	for _, p := range e.positions.Positions(order.Account) {
		if p.IsFlat() {
			continue
		}
		mark := price
		if p.Symbol != order.Symbol {
			mark = markOr(e.prices, p)
		}
		equity = equity.Add(p.Quantity.Mul(mark))
	}

	varValue := decimal.Zero
	if est, ok := e.vars.Get(order.Account); ok {
		if e.cfg.MaxVaRStaleness > 0 && e.now().Sub(est.ComputedAt) > e.cfg.MaxVaRStaleness {
			return nil, fmt.Errorf("%w: computed at %s", errStaleVaR, est.ComputedAt.Format(time.RFC3339Nano))
		}
		varValue = est.Value
	}

	return &Request{
		Order:    order,
		Limits:   e.limits.Load().For(order.Account),
		Price:    price,
		Notional: order.Quantity.Mul(price),
		Current:  current,
		NextQty:  current.Quantity.Add(order.Quantity.Mul(order.Side.Sign())),
		Balance:  balance,
		Equity:   equity,
		VaR:      varValue,
		Sigma:    e.prices.Volatility(order.Symbol),
		Z:        e.cfg.Z,
	}, nil
}

// referencePrice is the limit price, then the stop price, then the latest mark.
func (e *Engine) referencePrice(order *model.Order) (decimal.Decimal, bool) {
	if order.Price.Valid && order.Price.Decimal.IsPositive() {
		return order.Price.Decimal, true
	}
	if order.StopPrice.Valid && order.StopPrice.Decimal.IsPositive() {
		return order.StopPrice.Decimal, true
	}
	return e.prices.Mark(order.Symbol)
}
