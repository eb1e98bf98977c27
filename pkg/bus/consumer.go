package bus

import (
	"context"
	"encoding/json"
	"errors"

	kafkawrapper "github.com/joripage/oms-core/pkg/kafka_wrapper"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/oms"
	"github.com/joripage/oms-core/pkg/oms/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 16

type batchRunner interface {
	Run(ctx context.Context, handler kafkawrapper.BatchHandler) error
}

// KafkaConsumer feeds adapter events into the core. Within a batch, events of
// one order are applied in receipt order while distinct orders run in parallel.
type KafkaConsumer struct {
	group       batchRunner
	consumer    oms.EventConsumer
	logger      *logging.Logger
	parallelism int
}

func NewKafkaConsumer(group batchRunner, consumer oms.EventConsumer, logger *logging.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		group:       group,
		consumer:    consumer,
		logger:      logger.Named("event-consumer"),
		parallelism: defaultParallelism,
	}
}

func (c *KafkaConsumer) Run(ctx context.Context) error {
	return c.group.Run(ctx, c.HandleBatch)
}

// HandleBatch returns an error only when the batch should be redelivered.
// Undecodable messages are logged and acknowledged.
func (c *KafkaConsumer) HandleBatch(ctx context.Context, msgs []kafkawrapper.Message) error {
	var (
		keys   []string
		groups = make(map[string][]*model.AdapterEvent)
	)
	for _, m := range msgs {
		ev := &model.AdapterEvent{}
		if err := json.Unmarshal(m.Value, ev); err != nil {
			c.logger.Error(ctx, "drop undecodable adapter event",
				zap.Int64("offset", m.Offset),
				zap.Int("partition", m.Partition),
				zap.Error(err))
			continue
		}
		id := ev.OrderID()
		if _, ok := groups[id]; !ok {
			keys = append(keys, id)
		}
		groups[id] = append(groups[id], ev)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for _, id := range keys {
		events := groups[id]
		g.Go(func() error {
			for _, ev := range events {
				if err := c.consume(gctx, ev); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *KafkaConsumer) consume(ctx context.Context, ev *model.AdapterEvent) error {
	err := c.consumer.Consume(ctx, ev)
	if errors.Is(err, oms.ErrInvalidEvent) {
		c.logger.Error(logging.WithOrderID(ctx, ev.OrderID()), "drop invalid adapter event", zap.Error(err))
		return nil
	}
	return err
}
