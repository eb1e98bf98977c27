package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/joripage/go_util/pkg/shardqueue"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/oms"
	"github.com/joripage/oms-core/pkg/oms/model"
	"go.uber.org/zap"
)

var ErrNotAttached = errors.New("memory bus: venue or consumer not attached")

// Venue is the execution side of the in-process bus.
type Venue interface {
	HandleRoute(ctx context.Context, route model.RouteOrder)
	HandleCancel(ctx context.Context, req model.CancelRequest)
}

type MemoryBusConfig struct {
	Shards    int
	QueueSize int
}

type outboundMsg struct {
	route  *model.RouteOrder
	cancel *model.CancelRequest
}

// MemoryBus connects the core to a Venue inside one process. Outbound and
// inbound traffic use separate shard queues keyed by order id, so messages of
// one order are delivered in order and a venue may emit from its handlers.
type MemoryBus struct {
	outbound *shardqueue.Shardqueue
	inbound  *shardqueue.Shardqueue
	logger   *logging.Logger

	mu        sync.RWMutex
	venue     Venue
	consumer  oms.EventConsumer
	positions []func(model.PositionUpdate)
}

var _ oms.OrderGateway = (*MemoryBus)(nil)

func NewMemoryBus(cfg MemoryBusConfig, logger *logging.Logger) *MemoryBus {
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10_000
	}
	b := &MemoryBus{
		outbound: shardqueue.NewShardQueue(cfg.Shards, cfg.QueueSize),
		inbound:  shardqueue.NewShardQueue(cfg.Shards, cfg.QueueSize),
		logger:   logger.Named("memory-bus"),
	}
	b.outbound.Start(func(msg interface{}) error {
		if m, ok := msg.(*outboundMsg); ok {
			b.deliverOutbound(m)
		}
		return nil
	})
	b.inbound.Start(func(msg interface{}) error {
		if ev, ok := msg.(*model.AdapterEvent); ok {
			b.deliverInbound(ev)
		}
		return nil
	})
	return b
}

// Attach wires both ends. It must run before the first publish.
func (b *MemoryBus) Attach(venue Venue, consumer oms.EventConsumer) {
	b.mu.Lock()
	b.venue, b.consumer = venue, consumer
	b.mu.Unlock()
}

// SubscribePositions registers a listener for position updates.
func (b *MemoryBus) SubscribePositions(fn func(model.PositionUpdate)) {
	b.mu.Lock()
	b.positions = append(b.positions, fn)
	b.mu.Unlock()
}

func (b *MemoryBus) attached() (Venue, oms.EventConsumer) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.venue, b.consumer
}

func (b *MemoryBus) PublishRoute(_ context.Context, route model.RouteOrder) error {
	if v, _ := b.attached(); v == nil {
		return ErrNotAttached
	}
	b.outbound.Shard(route.OrderID, &outboundMsg{route: &route})
	return nil
}

func (b *MemoryBus) PublishCancel(_ context.Context, req model.CancelRequest) error {
	if v, _ := b.attached(); v == nil {
		return ErrNotAttached
	}
	b.outbound.Shard(req.OrderID, &outboundMsg{cancel: &req})
	return nil
}

func (b *MemoryBus) PublishPositionUpdate(_ context.Context, update model.PositionUpdate) error {
	b.mu.RLock()
	listeners := b.positions
	b.mu.RUnlock()
	for _, fn := range listeners {
		fn(update)
	}
	return nil
}

// Emit queues an adapter event for the core.
func (b *MemoryBus) Emit(ev *model.AdapterEvent) error {
	if _, c := b.attached(); c == nil {
		return ErrNotAttached
	}
	b.inbound.Shard(ev.OrderID(), ev)
	return nil
}

func (b *MemoryBus) deliverOutbound(m *outboundMsg) {
	venue, _ := b.attached()
	ctx := context.Background()
	switch {
	case m.route != nil:
		venue.HandleRoute(logging.WithOrderID(ctx, m.route.OrderID), *m.route)
	case m.cancel != nil:
		venue.HandleCancel(logging.WithOrderID(ctx, m.cancel.OrderID), *m.cancel)
	}
}

func (b *MemoryBus) deliverInbound(ev *model.AdapterEvent) {
	_, consumer := b.attached()
	ctx := logging.WithOrderID(context.Background(), ev.OrderID())
	if err := consumer.Consume(ctx, ev); err != nil {
		b.logger.Error(ctx, "adapter event not consumed",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}
