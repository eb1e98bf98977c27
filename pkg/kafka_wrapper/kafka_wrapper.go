// Package kafkawrapper publishes keyed messages to Kafka and consumes a topic
// in batches. Batches of one reader are handled in order, one at a time.
package kafkawrapper

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
	Headers   map[string]string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ProducerConfig struct {
	Brokers      []string
	Balancer     kafka.Balancer
	BatchSize    int
	BatchBytes   int64
	BatchTimeout time.Duration
	RequiredAcks kafka.RequiredAcks
	WriteTimeout time.Duration
}

// Producer writes synchronously so callers see delivery errors and can retry.
type Producer struct {
	w messageWriter
}

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchBytes == 0 {
		cfg.BatchBytes = 1 << 20
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 5 * time.Millisecond
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = kafka.RequireOne
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Second
	}
	wr := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               cfg.Balancer,
		BatchSize:              cfg.BatchSize,
		BatchBytes:             cfg.BatchBytes,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
		RequiredAcks:           cfg.RequiredAcks,
	}
	return &Producer{w: wr}
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if p == nil || p.w == nil {
		return errors.New("producer not initialized")
	}
	var kh []kafka.Header
	for k, v := range headers {
		kh = append(kh, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: kh,
		Time:    time.Now(),
	})
}

func (p *Producer) PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, topic, []byte(key), b, headers)
}

func (p *Producer) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topic      string
	MaxRetries uint64
	BackoffMin time.Duration
	BackoffMax time.Duration
	DLQTopic   string
	// at most BatchSize messages, collected for at most BatchTimeout after the first
	BatchSize    int
	BatchTimeout time.Duration
}

func (c *ConsumerConfig) setDefaults() {
	if c.BackoffMin == 0 {
		c.BackoffMin = 100 * time.Millisecond
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 20 * time.Millisecond
	}
}

// BatchHandler processes one batch. A nil error commits it; an error retries the
// whole batch until MaxRetries, after which it goes to the DLQ and is committed.
type BatchHandler func(ctx context.Context, msgs []Message) error

type ConsumerGroup struct {
	r      messageReader
	cfg    ConsumerConfig
	dlq    *Producer
	logger *zap.Logger
}

func NewConsumerGroup(cfg ConsumerConfig, logger *zap.Logger) (*ConsumerGroup, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka consumer needs brokers and a topic")
	}
	cfg.setDefaults()

	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MaxWait:     100 * time.Millisecond,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})

	var dlq *Producer
	if cfg.DLQTopic != "" {
		dlq = NewProducer(ProducerConfig{Brokers: cfg.Brokers})
	}

	return newConsumerGroup(rd, cfg, dlq, logger), nil
}

func newConsumerGroup(r messageReader, cfg ConsumerConfig, dlq *Producer, logger *zap.Logger) *ConsumerGroup {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsumerGroup{
		r:      r,
		cfg:    cfg,
		dlq:    dlq,
		logger: logger.Named("kafka-consumer").With(zap.String("topic", cfg.Topic)),
	}
}

func (cg *ConsumerGroup) Close() error {
	if cg == nil {
		return nil
	}
	if cg.dlq != nil {
		_ = cg.dlq.Close()
	}
	if cg.r != nil {
		return cg.r.Close()
	}
	return nil
}

// Run consumes until ctx is done. It returns nil on cancellation.
func (cg *ConsumerGroup) Run(ctx context.Context, handler BatchHandler) error {
	if cg == nil || cg.r == nil {
		return errors.New("consumer not initialized")
	}

	for {
		batch, err := cg.nextBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cg.logger.Error("fetch error", zap.Error(err))
			select {
			case <-time.After(200 * time.Millisecond):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		cg.handle(ctx, batch, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err := cg.r.CommitMessages(ctx, batch...); err != nil {
			cg.logger.Error("commit failed", zap.Error(err))
		}
	}
}

func (cg *ConsumerGroup) nextBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := cg.r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	wait, cancel := context.WithTimeout(ctx, cg.cfg.BatchTimeout)
	defer cancel()
	for len(batch) < cg.cfg.BatchSize {
		m, err := cg.r.FetchMessage(wait)
		if err != nil {
			break
		}
		batch = append(batch, m)
	}
	return batch, nil
}

func (cg *ConsumerGroup) handle(ctx context.Context, batch []kafka.Message, handler BatchHandler) {
	wrapped := make([]Message, len(batch))
	for i, m := range batch {
		wrapped[i] = wrapMessage(m)
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = cg.cfg.BackoffMin
	boff.MaxInterval = cg.cfg.BackoffMax
	boff.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		return handler(ctx, wrapped)
	}, backoff.WithContext(backoff.WithMaxRetries(boff, cg.cfg.MaxRetries), ctx))
	if err == nil || ctx.Err() != nil {
		return
	}

	cg.logger.Error("batch failed, sending to dlq",
		zap.Int("size", len(batch)),
		zap.Int64("first_offset", batch[0].Offset),
		zap.Error(err))
	if cg.dlq == nil {
		return
	}
	for _, m := range batch {
		if err := cg.dlq.Publish(ctx, cg.cfg.DLQTopic, m.Key, m.Value, headersToMap(m.Headers)); err != nil {
			cg.logger.Error("dlq publish failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func wrapMessage(m kafka.Message) Message {
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
		Headers:   headersToMap(m.Headers),
	}
}

func headersToMap(hs []kafka.Header) map[string]string {
	out := map[string]string{}
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}
