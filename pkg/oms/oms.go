package oms

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/oms-core/pkg/account"
	"github.com/joripage/oms-core/pkg/ledger"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/metrics"
	eventstore "github.com/joripage/oms-core/pkg/oms/event_store"
	"github.com/joripage/oms-core/pkg/oms/model"
	riskrule "github.com/joripage/oms-core/pkg/oms/risk_rule"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	SubmitTimeout      time.Duration
	CancelAckTimeout   time.Duration
	Retention          time.Duration
	CleanInterval      time.Duration
	TombstoneRetention time.Duration // how long an evicted order still takes late fills
	Dispatcher         DispatcherConfig
}

func (c *Config) setDefaults() {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 50 * time.Millisecond
	}
	if c.CancelAckTimeout <= 0 {
		c.CancelAckTimeout = 5 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 10 * time.Minute
	}
	if c.CleanInterval <= 0 {
		c.CleanInterval = time.Minute
	}
	if c.TombstoneRetention <= 0 {
		c.TombstoneRetention = 24 * time.Hour
	}
}

type Deps struct {
	Risk       riskrule.Checker
	Ledger     *ledger.Ledger
	Balances   *account.BalanceBook
	Prices     *riskrule.PriceBook
	Limits     *riskrule.LimitStore
	Gateway    OrderGateway
	Journal    Journal
	EventStore eventstore.EventStore
	TickSize   *riskrule.TickSizeRule
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

// OMS owns the lifecycle of every order from submission to a terminal status.
// State is locked per order; the ledger and the balance book lock per key.
type OMS struct {
	cfg        Config
	risk       riskrule.Checker
	ledger     *ledger.Ledger
	balances   *account.BalanceBook
	prices     *riskrule.PriceBook
	limits     *riskrule.LimitStore
	journal    Journal
	eventstore eventstore.EventStore
	tickSize   *riskrule.TickSizeRule
	dispatcher *dispatcher
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	orderIDMapping sync.Map // orderID -> *orderEntry
	tombstones     sync.Map // orderID -> *tombstone
}

func NewOMS(cfg Config, deps Deps) *OMS {
	cfg.setDefaults()

	s := &OMS{
		cfg:        cfg,
		risk:       deps.Risk,
		ledger:     deps.Ledger,
		balances:   deps.Balances,
		prices:     deps.Prices,
		limits:     deps.Limits,
		journal:    deps.Journal,
		eventstore: deps.EventStore,
		tickSize:   deps.TickSize,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        time.Now,
	}
	if s.ledger == nil {
		s.ledger = ledger.New()
	}
	if s.balances == nil {
		s.balances = account.NewBalanceBook()
	}
	if s.journal == nil {
		s.journal = nopJournal{}
	}
	if s.eventstore == nil {
		s.eventstore = eventstore.NewInMemoryEventStore()
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.logger = s.logger.Named("oms")
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	s.dispatcher = newDispatcher(cfg.Dispatcher, deps.Gateway, s.logger, s.metrics, s.onDispatchFailure)

	return s
}

// Start runs the terminal-order cleaner until ctx is done.
func (s *OMS) Start(ctx context.Context) error {
	s.startCleaner(ctx, s.cfg.CleanInterval)
	return nil
}

// Submit validates, risk-checks and routes a new order. A validation failure is
// returned as an error and creates no order; a risk rejection is a normal result
// with status REJECTED. Nothing on this path waits for persistence.
func (s *OMS) Submit(ctx context.Context, req *model.SubmitOrder) (model.SubmitResult, error) {
	start := s.now()
	defer func() {
		s.metrics.SubmitDuration.Observe(s.now().Sub(start).Seconds())
	}()

	if err := req.Validate(); err != nil {
		return model.SubmitResult{}, err
	}
	if err := s.tickSize.Check(req); err != nil {
		return model.SubmitResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	order := &model.Order{
		OrderID:        uuid.NewString(),
		Account:        req.Account,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Price:          req.Price,
		StopPrice:      req.StopPrice,
		Status:         model.OrderStatusNew,
		FilledQuantity: decimal.Zero,
		AvgFillPrice:   decimal.Zero,
		CreatedAt:      start,
		UpdatedAt:      start,
	}
	ctx = logging.WithOrderID(ctx, order.OrderID)

	e := s.addOrderToMap(order)
	e.mu.Lock()
	defer e.mu.Unlock()

	created := model.NewOrderEvent(*order, "", start)
	s.eventstore.AddEvent(created)
	s.journal.EnqueueEvent(*created)
	s.transition(ctx, e, model.OrderStatusRiskCheck, model.ReasonNone)

	// a timed-out evaluation may still be reading its input
	snapshot := *order
	res := s.risk.Check(ctx, &snapshot)
	if !res.Approved {
		s.transition(ctx, e, model.OrderStatusRejected, res.Reason)
		s.logger.Info(ctx, "order rejected by risk",
			zap.String("account", order.Account),
			zap.String("reason", string(res.Reason)),
			zap.Duration("elapsed", res.Elapsed))
		return model.SubmitResult{OrderID: order.OrderID, Status: order.Status, Reason: order.Reason}, nil
	}

	if err := s.reserve(order); err != nil {
		// another order spent the cash between the check and here
		s.transition(ctx, e, model.OrderStatusRejected, model.ReasonBuyingPower)
		s.logger.Info(ctx, "order rejected at reservation",
			zap.String("account", order.Account),
			zap.Error(err))
		return model.SubmitResult{OrderID: order.OrderID, Status: order.Status, Reason: order.Reason}, nil
	}
	s.transition(ctx, e, model.OrderStatusRouted, model.ReasonNone)

	if err := s.dispatcher.enqueue(&dispatchJob{kind: dispatchRoute, route: order.RouteOrder()}); err != nil {
		s.metrics.RoutePublishFailed.Inc()
		s.logger.Error(ctx, "route queue full, order left routed", zap.Error(err))
	}

	return model.SubmitResult{OrderID: order.OrderID, Status: order.Status}, nil
}

// reserve earmarks the buying power of an approved buy order. The balance
// book re-checks the minimum buying power under the account lock.
func (s *OMS) reserve(order *model.Order) error {
	if order.Side != model.OrderSideBuy {
		return nil
	}
	price, ok := s.reservationPrice(order)
	if !ok {
		return nil
	}
	floor := decimal.Zero
	if s.limits != nil {
		floor = s.limits.Load().For(order.Account).MinBuyingPower
	}
	_, err := s.balances.ReserveWithin(order.Account, order.OrderID, order.Quantity.Mul(price), floor)
	return err
}

func (s *OMS) reservationPrice(order *model.Order) (decimal.Decimal, bool) {
	if order.Price.Valid {
		return order.Price.Decimal, true
	}
	if order.StopPrice.Valid {
		return order.StopPrice.Decimal, true
	}
	if s.prices == nil {
		return decimal.Zero, false
	}
	return s.prices.Mark(order.Symbol)
}

// transition moves the order along a legal edge and records it. The caller holds the entry lock.
func (s *OMS) transition(ctx context.Context, e *orderEntry, to model.OrderStatus, reason model.RejectReason) bool {
	order := e.order
	from := order.Status
	if !from.CanTransition(to) {
		s.logger.Warn(ctx, "illegal order transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return false
	}

	now := s.now()
	order.Status = to
	if reason != model.ReasonNone {
		order.Reason = reason
	}
	order.UpdatedAt = now
	s.recordTransition(e, model.NewOrderEvent(*order, from, now))
	return true
}

func (s *OMS) recordTransition(e *orderEntry, ev *model.OrderEvent) {
	s.eventstore.AddEvent(ev)
	s.journal.EnqueueEvent(*ev)
	s.metrics.OrderTransitions.WithLabelValues(string(ev.To)).Inc()
	if e.order.IsEnd() && e.closedAt.IsZero() {
		e.closedAt = ev.Timestamp
		if e.cancelTimer != nil {
			e.cancelTimer.Stop()
			e.cancelTimer = nil
		}
	}
	s.journal.EnqueueOrder(*e.order)
}

func (s *OMS) GetPosition(account, symbol string) model.Position {
	return s.ledger.GetPosition(account, symbol)
}

// History returns the recorded transitions of an order still held in memory.
func (s *OMS) History(orderID string) []*model.OrderEvent {
	return s.eventstore.History(orderID)
}

// Recover replays persisted fills into the ledger and the balance book.
// It runs before the service accepts traffic.
func (s *OMS) Recover(ctx context.Context, fills []*model.Fill) error {
	applied := 0
	for _, f := range fills {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, ok, err := s.ledger.ApplyFill(ledger.FillInput{
			Account:   f.Account,
			Symbol:    f.Symbol,
			Side:      f.Side,
			Qty:       f.Quantity,
			Price:     f.Price,
			FillID:    f.FillID,
			Timestamp: f.Timestamp,
		})
		if err != nil {
			s.logger.Warn(ctx, "skip unreplayable fill", zap.String("fill_id", f.FillID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		s.balances.Settle(f.Account, f.OrderID, f.Side, f.Quantity, f.Price)
		if s.prices != nil {
			s.prices.UpdateMark(f.Symbol, f.Price)
		}
		applied++
	}
	s.logger.Info(ctx, "ledger recovered", zap.Int("fills", applied))
	return nil
}

func (s *OMS) onDispatchFailure(job *dispatchJob, err error) {
	ctx := logging.WithOrderID(context.Background(), job.orderID())
	switch job.kind {
	case dispatchRoute:
		s.metrics.RoutePublishFailed.Inc()
		s.logger.Error(ctx, "execution adapter unavailable, order left routed", zap.Error(err))
	case dispatchCancel:
		s.logger.Error(ctx, "cancel request not delivered", zap.Error(err))
	default:
		s.logger.Warn(ctx, "position update not delivered",
			zap.String("account", job.position.Account),
			zap.String("symbol", job.position.Symbol),
			zap.Error(err))
	}
}
