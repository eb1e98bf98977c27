// worker projects the position_update stream into the positions table, for
// readers that do not run next to the oms.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os/signal"
	"syscall"

	"github.com/joripage/oms-core/config"
	postgres_wrapper "github.com/joripage/oms-core/pkg/infra/postgres"
	kafkawrapper "github.com/joripage/oms-core/pkg/kafka_wrapper"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/joripage/oms-core/pkg/oms/repo"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel)).Named("position-worker")
	defer logger.Sync() // nolint

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres_wrapper.InitPostgresWithBackoff(ctx, cfg.OmsDB)
	if err != nil {
		logger.Fatal(ctx, "init db fail", zap.Error(err))
	}
	positions := repo.NewRepo(db).Position()

	group, err := kafkawrapper.NewConsumerGroup(kafkawrapper.ConsumerConfig{
		Brokers:      cfg.Kafka.Brokers,
		GroupID:      cfg.Kafka.GroupID + "-positions",
		Topic:        cfg.Kafka.PositionTopic,
		MaxRetries:   uint64(cfg.Kafka.MaxRetries),
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: config.Millis(cfg.Kafka.BatchWaitMs),
	}, logger.Zap())
	if err != nil {
		logger.Fatal(ctx, "init consumer fail", zap.Error(err))
	}
	defer group.Close() // nolint

	err = group.Run(ctx, func(ctx context.Context, msgs []kafkawrapper.Message) error {
		// last update per key wins within a batch
		latest := make(map[string]*model.Position, len(msgs))
		for _, m := range msgs {
			var u model.PositionUpdate
			if err := json.Unmarshal(m.Value, &u); err != nil {
				logger.Error(ctx, "drop undecodable position update", zap.Int64("offset", m.Offset), zap.Error(err))
				continue
			}
			latest[u.Account+"/"+u.Symbol] = &model.Position{
				Account:      u.Account,
				Symbol:       u.Symbol,
				Quantity:     u.Quantity,
				AveragePrice: u.AveragePrice,
				LastPrice:    u.LastPrice,
				RealizedPnL:  u.RealizedPnL,
				UpdatedAt:    u.Timestamp,
			}
		}
		records := make([]*model.Position, 0, len(latest))
		for _, p := range latest {
			records = append(records, p)
		}
		return positions.Upsert(ctx, records)
	})
	if err != nil {
		logger.Fatal(ctx, "consumer stopped", zap.Error(err))
	}
}
