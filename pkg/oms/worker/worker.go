// Package worker persists order-core records off the hot path.
package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/metrics"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/joripage/oms-core/pkg/oms/repo"
	"go.uber.org/zap"
)

type JournalConfig struct {
	QueueSize        int
	BatchSize        int
	FlushInterval    time.Duration
	MaxRetries       uint64
	SnapshotInterval time.Duration
}

func (c *JournalConfig) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 100_000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
}

type record struct {
	order *model.Order
	fill  *model.Fill
	event *model.OrderEvent
}

type batch struct {
	orders map[string]*model.Order // latest snapshot per order id
	fills  []*model.Fill
	events []*model.OrderEvent
	size   int
}

func newBatch() *batch {
	return &batch{orders: make(map[string]*model.Order)}
}

func (b *batch) add(r record) {
	switch {
	case r.order != nil:
		b.orders[r.order.OrderID] = r.order
	case r.fill != nil:
		b.fills = append(b.fills, r.fill)
	case r.event != nil:
		b.events = append(b.events, r.event)
	}
	b.size++
}

// Journal writes orders, fills and transition events to the database in
// batches. Enqueue never blocks; a full queue drops the record and counts it.
type Journal struct {
	cfg       JournalConfig
	orders    repo.IOrder
	fills     repo.IFill
	events    repo.IOrderEvent
	positions repo.IPosition
	snapshot  func() []model.Position
	queue     chan record
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewJournal builds a journal. snapshot, when set, is polled every
// SnapshotInterval and its positions upserted.
func NewJournal(cfg JournalConfig, r repo.IRepo, snapshot func() []model.Position, logger *logging.Logger, m *metrics.Metrics) *Journal {
	cfg.setDefaults()
	return &Journal{
		cfg:       cfg,
		orders:    r.Order(),
		fills:     r.Fill(),
		events:    r.OrderEvent(),
		positions: r.Position(),
		snapshot:  snapshot,
		queue:     make(chan record, cfg.QueueSize),
		logger:    logger.Named("journal"),
		metrics:   m,
	}
}

func (j *Journal) EnqueueOrder(order model.Order) {
	j.enqueue(record{order: &order})
}

func (j *Journal) EnqueueFill(fill model.Fill) {
	j.enqueue(record{fill: &fill})
}

func (j *Journal) EnqueueEvent(ev model.OrderEvent) {
	j.enqueue(record{event: &ev})
}

func (j *Journal) enqueue(r record) {
	select {
	case j.queue <- r:
	default:
		if j.metrics != nil {
			j.metrics.JournalDropped.Inc()
		}
		j.logger.Error(context.Background(), "journal queue full, record dropped")
	}
}

// Run flushes until ctx is done, then drains what is queued.
func (j *Journal) Run(ctx context.Context) error {
	flushTicker := time.NewTicker(j.cfg.FlushInterval)
	defer flushTicker.Stop()

	var snapshotC <-chan time.Time
	if j.snapshot != nil && j.cfg.SnapshotInterval > 0 {
		t := time.NewTicker(j.cfg.SnapshotInterval)
		defer t.Stop()
		snapshotC = t.C
	}

	b := newBatch()
	for {
		select {
		case r := <-j.queue:
			b.add(r)
			if b.size >= j.cfg.BatchSize {
				j.flush(ctx, b)
				b = newBatch()
			}
		case <-flushTicker.C:
			if b.size > 0 {
				j.flush(ctx, b)
				b = newBatch()
			}
		case <-snapshotC:
			j.snapshotPositions(ctx)
		case <-ctx.Done():
			return j.drain(b)
		}
	}
}

func (j *Journal) drain(b *batch) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case r := <-j.queue:
			b.add(r)
		default:
			if b.size > 0 {
				j.flush(ctx, b)
			}
			if j.snapshot != nil {
				j.snapshotPositions(ctx)
			}
			return nil
		}
	}
}

// flush writes fills and events before order snapshots, each with its own retry budget.
func (j *Journal) flush(ctx context.Context, b *batch) {
	orders := make([]*model.Order, 0, len(b.orders))
	for _, o := range b.orders {
		orders = append(orders, o)
	}

	j.retry(ctx, "fills", func() error {
		_, err := j.fills.BulkCreate(ctx, b.fills)
		return err
	})
	j.retry(ctx, "order_events", func() error {
		_, err := j.events.BulkCreate(ctx, b.events)
		return err
	})
	j.retry(ctx, "orders", func() error {
		return j.orders.Upsert(ctx, orders)
	})
}

func (j *Journal) snapshotPositions(ctx context.Context) {
	positions := j.snapshot()
	records := make([]*model.Position, 0, len(positions))
	for i := range positions {
		records = append(records, &positions[i])
	}
	j.retry(ctx, "positions", func() error {
		return j.positions.Upsert(ctx, records)
	})
}

func (j *Journal) retry(ctx context.Context, what string, op func() error) {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 20 * time.Millisecond
	boff.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(boff, j.cfg.MaxRetries), ctx))
	if err != nil {
		j.logger.Error(ctx, "journal write failed", zap.String("table", what), zap.Error(err))
	}
}
