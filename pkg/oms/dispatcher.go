package oms

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joripage/go_util/pkg/shardqueue"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/metrics"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type dispatchKind string

const (
	dispatchRoute    dispatchKind = "route_order"
	dispatchCancel   dispatchKind = "cancel_request"
	dispatchPosition dispatchKind = "position_update"
)

type dispatchJob struct {
	kind     dispatchKind
	route    model.RouteOrder
	cancel   model.CancelRequest
	position model.PositionUpdate
}

// key keeps messages of one order, or one position, on the same shard and in order.
func (j *dispatchJob) key() string {
	switch j.kind {
	case dispatchRoute:
		return j.route.OrderID
	case dispatchCancel:
		return j.cancel.OrderID
	default:
		return j.position.Account + "/" + j.position.Symbol
	}
}

func (j *dispatchJob) orderID() string {
	switch j.kind {
	case dispatchRoute:
		return j.route.OrderID
	case dispatchCancel:
		return j.cancel.OrderID
	}
	return ""
}

type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

type DispatcherConfig struct {
	Shards         int
	QueueSize      int
	PublishTimeout time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Breaker        BreakerConfig
}

func (c *DispatcherConfig) setDefaults() {
	if c.Shards <= 0 {
		c.Shards = 16
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100_000
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 50 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.Breaker.MinRequests == 0 {
		c.Breaker.MinRequests = 10
	}
	if c.Breaker.FailureRatio <= 0 {
		c.Breaker.FailureRatio = 0.6
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = 5 * time.Second
	}
}

// dispatcher hands outbound messages to the gateway off the submit path.
// Delivery is retried with exponential backoff behind a circuit breaker.
type dispatcher struct {
	cfg       DispatcherConfig
	gateway   OrderGateway
	queue     *shardqueue.Shardqueue
	inflight  atomic.Int64
	breaker   *gobreaker.CircuitBreaker
	logger    *logging.Logger
	onFailure func(job *dispatchJob, err error)
}

func newDispatcher(cfg DispatcherConfig, gateway OrderGateway, logger *logging.Logger, m *metrics.Metrics, onFailure func(*dispatchJob, error)) *dispatcher {
	cfg.setDefaults()
	d := &dispatcher{
		cfg:       cfg,
		gateway:   gateway,
		logger:    logger.Named("dispatcher"),
		onFailure: onFailure,
	}

	minRequests, failureRatio := cfg.Breaker.MinRequests, cfg.Breaker.FailureRatio
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "execution_adapter",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn(context.Background(), "circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			m.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	d.queue = shardqueue.NewShardQueue(cfg.Shards, cfg.QueueSize)
	d.queue.Start(func(msg interface{}) error {
		if job, ok := msg.(*dispatchJob); ok {
			d.handle(job)
		}
		return nil
	})

	return d
}

// enqueue never waits: when QueueSize jobs are already in flight the job is refused.
func (d *dispatcher) enqueue(job *dispatchJob) error {
	if d.inflight.Add(1) > int64(d.cfg.QueueSize) {
		d.inflight.Add(-1)
		return ErrAdapterUnavailable
	}
	d.queue.Shard(job.key(), job)
	return nil
}

func (d *dispatcher) handle(job *dispatchJob) {
	defer d.inflight.Add(-1)

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = d.cfg.InitialBackoff
	boff.MaxInterval = d.cfg.MaxBackoff
	boff.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		_, err := d.breaker.Execute(func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
			defer cancel()
			return nil, d.publish(ctx, job)
		})
		if err != nil {
			d.logger.Debug(context.Background(), "publish attempt failed",
				zap.String("kind", string(job.kind)),
				zap.String("key", job.key()),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}, backoff.WithMaxRetries(boff, d.cfg.MaxRetries))

	if err != nil && d.onFailure != nil {
		d.onFailure(job, err)
	}
}

func (d *dispatcher) publish(ctx context.Context, job *dispatchJob) error {
	switch job.kind {
	case dispatchRoute:
		return d.gateway.PublishRoute(ctx, job.route)
	case dispatchCancel:
		return d.gateway.PublishCancel(ctx, job.cancel)
	default:
		return d.gateway.PublishPositionUpdate(ctx, job.position)
	}
}
