package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joripage/oms-core/pkg/account"
	kafkawrapper "github.com/joripage/oms-core/pkg/kafka_wrapper"
	"github.com/joripage/oms-core/pkg/ledger"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/metrics"
	"github.com/joripage/oms-core/pkg/oms"
	"github.com/joripage/oms-core/pkg/oms/model"
	riskrule "github.com/joripage/oms-core/pkg/oms/risk_rule"
	"github.com/joripage/oms-core/pkg/paper"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic, key string
	value      any
	kind       string
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakeProducer) PublishJSON(_ context.Context, topic string, key string, v any, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, key: key, value: v, kind: headers[headerKind]})
	return nil
}

func TestKafkaPublisherKeys(t *testing.T) {
	p := &fakeProducer{}
	pub := NewKafkaPublisher(p, Topics{Route: "r", Cancel: "c", Position: "p"})
	ctx := context.Background()

	require.NoError(t, pub.PublishRoute(ctx, model.RouteOrder{OrderID: "o1", Account: "A"}))
	require.NoError(t, pub.PublishCancel(ctx, model.CancelRequest{OrderID: "o1"}))
	require.NoError(t, pub.PublishPositionUpdate(ctx, model.PositionUpdate{Account: "A", Symbol: "X"}))

	require.Len(t, p.msgs, 3)
	assert.Equal(t, published{topic: "r", key: "o1", value: model.RouteOrder{OrderID: "o1", Account: "A"}, kind: KindRouteOrder}, p.msgs[0])
	assert.Equal(t, "c", p.msgs[1].topic)
	assert.Equal(t, "o1", p.msgs[1].key)
	assert.Equal(t, "p", p.msgs[2].topic)
	assert.Equal(t, "A", p.msgs[2].key)
	assert.Equal(t, KindPositionUpdate, p.msgs[2].kind)
}

type recordingConsumer struct {
	mu     sync.Mutex
	events map[string][]string
	err    error
}

func (c *recordingConsumer) Consume(_ context.Context, ev *model.AdapterEvent) error {
	if ev.Kind == "bogus" {
		return oms.ErrInvalidEvent
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events == nil {
		c.events = map[string][]string{}
	}
	c.events[ev.OrderID()] = append(c.events[ev.OrderID()], ev.Fill.FillID)
	return c.err
}

func fillMessage(t *testing.T, orderID, fillID string) kafkawrapper.Message {
	t.Helper()
	b, err := json.Marshal(model.AdapterEvent{
		Kind: model.EventKindFill,
		Fill: &model.Fill{OrderID: orderID, FillID: fillID, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(1)},
	})
	require.NoError(t, err)
	return kafkawrapper.Message{Value: b}
}

func TestHandleBatchKeepsPerOrderOrder(t *testing.T) {
	c := &recordingConsumer{}
	kc := NewKafkaConsumer(nil, c, logging.NewNop())

	msgs := []kafkawrapper.Message{
		fillMessage(t, "o1", "a"),
		fillMessage(t, "o2", "x"),
		{Value: []byte("not json")},
		fillMessage(t, "o1", "b"),
		{Value: []byte(`{"kind":"bogus"}`)},
		fillMessage(t, "o2", "y"),
		fillMessage(t, "o1", "c"),
	}
	require.NoError(t, kc.HandleBatch(context.Background(), msgs))

	assert.Equal(t, []string{"a", "b", "c"}, c.events["o1"])
	assert.Equal(t, []string{"x", "y"}, c.events["o2"])
}

func TestHandleBatchReturnsConsumerError(t *testing.T) {
	c := &recordingConsumer{err: errors.New("ledger unavailable")}
	kc := NewKafkaConsumer(nil, c, logging.NewNop())

	err := kc.HandleBatch(context.Background(), []kafkawrapper.Message{fillMessage(t, "o1", "a")})
	assert.Error(t, err)
}

type stubRunner struct {
	batches [][]kafkawrapper.Message
	errs    []error
}

func (r *stubRunner) Run(ctx context.Context, handler kafkawrapper.BatchHandler) error {
	for _, b := range r.batches {
		r.errs = append(r.errs, handler(ctx, b))
	}
	return nil
}

func TestKafkaConsumerRunDelegatesToGroup(t *testing.T) {
	c := &recordingConsumer{}
	runner := &stubRunner{batches: [][]kafkawrapper.Message{{fillMessage(t, "o9", "f")}}}
	require.NoError(t, NewKafkaConsumer(runner, c, logging.NewNop()).Run(context.Background()))
	assert.Equal(t, []error{nil}, runner.errs)
	assert.Equal(t, []string{"f"}, c.events["o9"])
}

func TestMemoryBusRequiresAttach(t *testing.T) {
	b := NewMemoryBus(MemoryBusConfig{Shards: 2, QueueSize: 10}, logging.NewNop())
	assert.ErrorIs(t, b.PublishRoute(context.Background(), model.RouteOrder{OrderID: "o"}), ErrNotAttached)
	assert.ErrorIs(t, b.Emit(&model.AdapterEvent{}), ErrNotAttached)
}

func newPaperCore(t *testing.T, venueCfg paper.Config) (*oms.OMS, *MemoryBus, *account.BalanceBook) {
	t.Helper()
	led := ledger.New()
	balances := account.NewBalanceBook()
	prices := riskrule.NewPriceBook(20, 0.02)
	m := metrics.New()
	limits := riskrule.NewLimitStore(riskrule.NewRiskLimits(1, riskrule.Limits{
		MaxOrderNotional: decimal.NewFromInt(50000),
	}, nil))

	engine := riskrule.NewEngine(riskrule.Config{Timeout: 100 * time.Millisecond}, riskrule.EngineDeps{
		Limits:    limits,
		Positions: led,
		Balances:  balances,
		Prices:    prices,
		VaR:       riskrule.NewVaRCache(),
		Metrics:   m,
	})

	b := NewMemoryBus(MemoryBusConfig{Shards: 4, QueueSize: 100}, logging.NewNop())
	core := oms.NewOMS(oms.Config{SubmitTimeout: 200 * time.Millisecond}, oms.Deps{
		Risk:     engine,
		Ledger:   led,
		Balances: balances,
		Prices:   prices,
		Limits:   limits,
		Gateway:  b,
		Metrics:  m,
	})
	b.Attach(paper.NewVenue(venueCfg, b, prices, logging.NewNop()), core)
	return core, b, balances
}

func TestPaperRoundTripFillsOrder(t *testing.T) {
	core, b, balances := newPaperCore(t, paper.Config{Slices: 2})
	balances.Deposit("A", decimal.NewFromInt(100000))

	var updates sync.Map
	b.SubscribePositions(func(u model.PositionUpdate) { updates.Store(u.FillID, u) })

	res, err := core.Submit(context.Background(), &model.SubmitOrder{
		Account:  "A",
		Symbol:   "X",
		Side:     model.OrderSideBuy,
		Type:     model.OrderTypeLimit,
		Quantity: decimal.NewFromInt(10),
		Price:    decimal.NewNullDecimal(decimal.NewFromInt(100)),
	})
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusRouted, res.Status)

	assert.Eventually(t, func() bool {
		o, err := core.GetOrder(res.OrderID)
		return err == nil && o.Status == model.OrderStatusFilled
	}, 2*time.Second, time.Millisecond)

	pos := core.GetPosition("A", "X")
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, balances.Snapshot("A").Cash.Equal(decimal.NewFromInt(99000)))

	assert.Eventually(t, func() bool {
		_, ok := updates.Load(res.OrderID + "-2")
		return ok
	}, time.Second, time.Millisecond)
}

func TestPaperRestingOrderCancels(t *testing.T) {
	core, _, balances := newPaperCore(t, paper.Config{Rest: true})
	balances.Deposit("A", decimal.NewFromInt(100000))

	res, err := core.Submit(context.Background(), &model.SubmitOrder{
		Account:  "A",
		Symbol:   "X",
		Side:     model.OrderSideBuy,
		Type:     model.OrderTypeLimit,
		Quantity: decimal.NewFromInt(5),
		Price:    decimal.NewNullDecimal(decimal.NewFromInt(100)),
	})
	require.NoError(t, err)

	// route and cancel share a shard, so the venue sees them in order
	status, err := core.Cancel(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelPending, status)

	assert.Eventually(t, func() bool {
		o, err := core.GetOrder(res.OrderID)
		return err == nil && o.Status == model.OrderStatusCancelled
	}, 2*time.Second, time.Millisecond)
	assert.True(t, balances.Snapshot("A").Reserved.IsZero())
}
