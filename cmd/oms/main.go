package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joripage/oms-core/config"
	"github.com/joripage/oms-core/pkg/account"
	"github.com/joripage/oms-core/pkg/bus"
	"github.com/joripage/oms-core/pkg/httpapi"
	postgres_wrapper "github.com/joripage/oms-core/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/oms-core/pkg/infra/redis"
	kafkawrapper "github.com/joripage/oms-core/pkg/kafka_wrapper"
	"github.com/joripage/oms-core/pkg/ledger"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/metrics"
	"github.com/joripage/oms-core/pkg/oms"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/joripage/oms-core/pkg/oms/repo"
	riskrule "github.com/joripage/oms-core/pkg/oms/risk_rule"
	"github.com/joripage/oms-core/pkg/oms/worker"
	"github.com/joripage/oms-core/pkg/paper"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel)).Named(cfg.ServiceName)
	defer logger.Sync() // nolint

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(ctx, "oms exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info(ctx, "exited cleanly")
}

func run(ctx context.Context, cfg *config.AppConfig, logger *logging.Logger) error {
	m := metrics.New()
	led := ledger.New()
	balances := account.NewBalanceBook()
	prices := riskrule.NewPriceBook(cfg.Risk.ReturnWindow, cfg.Risk.DefaultVolatility)

	for acc, a := range cfg.Accounts {
		cash, err := decimal.NewFromString(a.Cash)
		if err != nil {
			return fmt.Errorf("account %s cash: %w", acc, err)
		}
		balances.Deposit(acc, cash)
	}

	g, ctx := errgroup.WithContext(ctx)

	limits := riskrule.NewLimitStore(nil)
	if cfg.Risk.LimitsFile != "" {
		watcher, err := config.NewLimitsWatcher(cfg.Risk.LimitsFile, limits, logger)
		if err != nil {
			return fmt.Errorf("load risk limits: %w", err)
		}
		g.Go(func() error { return watcher.Run(ctx) })
	} else {
		logger.Warn(ctx, "no risk limits file, only buying power is enforced")
	}

	var tickSize *riskrule.TickSizeRule
	if cfg.Risk.TickSizeFile != "" {
		rule, err := riskrule.NewTickSizeRuleFromFile(cfg.Risk.TickSizeFile)
		if err != nil {
			return err
		}
		tickSize = rule
	}

	// persistence
	var (
		journal   oms.Journal
		recovered []*model.Fill
	)
	if cfg.Journal.Enabled && cfg.OmsDB != nil {
		db, err := postgres_wrapper.InitPostgresWithBackoff(ctx, cfg.OmsDB)
		if err != nil {
			return fmt.Errorf("connect oms db: %w", err)
		}
		r := repo.NewRepo(db)
		recovered, err = r.Fill().ListAll(ctx)
		if err != nil {
			return fmt.Errorf("load fills: %w", err)
		}

		j := worker.NewJournal(worker.JournalConfig{
			QueueSize:        cfg.Journal.QueueSize,
			BatchSize:        cfg.Journal.BatchSize,
			FlushInterval:    config.Millis(cfg.Journal.FlushIntervalMs),
			MaxRetries:       cfg.Journal.MaxRetries,
			SnapshotInterval: config.Millis(cfg.Journal.SnapshotIntervalMs),
		}, r, led.Snapshot, logger, m)
		g.Go(func() error { return j.Run(ctx) })
		journal = j
	}

	// value at risk
	varCache := riskrule.NewVaRCache()
	var varSource riskrule.VaRSource
	switch cfg.Risk.VaRSource {
	case config.VaRSourceRedis:
		if cfg.Redis == nil {
			return fmt.Errorf("var_source %q needs a redis config", cfg.Risk.VaRSource)
		}
		client, err := redis_wrapper.InitRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		varSource = riskrule.NewRedisVaRSource(client, cfg.Risk.VaRRedisKey)
	default:
		varSource = riskrule.NewLocalVaRSource(led, prices, cfg.Risk.VaRZ)
	}
	refresher := riskrule.NewVaRRefresher(varSource, varCache, config.Millis(cfg.Risk.VaRRefreshIntervalMs), logger, m)

	engine := riskrule.NewEngine(riskrule.Config{
		Timeout:         config.Millis(cfg.Risk.CheckTimeoutMs),
		FailOpen:        cfg.Risk.FailOpen,
		MaxVaRStaleness: config.Millis(cfg.Risk.VaRMaxStalenessMs),
		Z:               cfg.Risk.VaRZ,
	}, riskrule.EngineDeps{
		Limits:    limits,
		Positions: led,
		Balances:  balances,
		Prices:    prices,
		VaR:       varCache,
		Logger:    logger,
		Metrics:   m,
	})

	// transport
	var (
		gateway   oms.OrderGateway
		memoryBus *bus.MemoryBus
		producer  *kafkawrapper.Producer
	)
	switch cfg.Transport {
	case config.TransportKafka:
		producer = kafkawrapper.NewProducer(kafkawrapper.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			WriteTimeout: config.Millis(cfg.Dispatcher.PublishTimeoutMs),
		})
		defer producer.Close() // nolint
		gateway = bus.NewKafkaPublisher(producer, bus.Topics{
			Route:    cfg.Kafka.RouteTopic,
			Cancel:   cfg.Kafka.CancelTopic,
			Position: cfg.Kafka.PositionTopic,
		})
	default:
		memoryBus = bus.NewMemoryBus(bus.MemoryBusConfig{Shards: cfg.Dispatcher.Shards}, logger)
		gateway = memoryBus
	}

	core := oms.NewOMS(oms.Config{
		SubmitTimeout:      config.Millis(cfg.Order.SubmitTimeoutMs),
		CancelAckTimeout:   config.Millis(cfg.Order.CancelAckTimeoutMs),
		Retention:          time.Duration(cfg.Order.RetentionSeconds) * time.Second,
		TombstoneRetention: time.Duration(cfg.Order.TombstoneRetentionSeconds) * time.Second,
		Dispatcher: oms.DispatcherConfig{
			Shards:         cfg.Dispatcher.Shards,
			QueueSize:      cfg.Dispatcher.QueueSize,
			PublishTimeout: config.Millis(cfg.Dispatcher.PublishTimeoutMs),
			MaxRetries:     cfg.Dispatcher.MaxRetries,
			InitialBackoff: config.Millis(cfg.Dispatcher.InitialBackoffMs),
			MaxBackoff:     config.Millis(cfg.Dispatcher.MaxBackoffMs),
			Breaker: oms.BreakerConfig{
				Timeout:      config.Millis(cfg.Dispatcher.BreakerTimeoutMs),
				MinRequests:  cfg.Dispatcher.BreakerMinReqs,
				FailureRatio: cfg.Dispatcher.BreakerRatio,
			},
		},
	}, oms.Deps{
		Risk:     engine,
		Ledger:   led,
		Balances: balances,
		Prices:   prices,
		Limits:   limits,
		Gateway:  gateway,
		Journal:  journal,
		TickSize: tickSize,
		Logger:   logger,
		Metrics:  m,
	})

	if err := core.Recover(ctx, recovered); err != nil {
		return err
	}
	// seed the cache so the first checks are not refused as stale
	if err := refresher.RefreshOnce(ctx); err != nil {
		logger.Warn(ctx, "initial var refresh failed", zap.Error(err))
	}

	switch {
	case memoryBus != nil:
		memoryBus.Attach(paper.NewVenue(paper.Config{}, memoryBus, prices, logger), core)
	default:
		group, err := kafkawrapper.NewConsumerGroup(kafkawrapper.ConsumerConfig{
			Brokers:      cfg.Kafka.Brokers,
			GroupID:      cfg.Kafka.GroupID,
			Topic:        cfg.Kafka.EventsTopic,
			DLQTopic:     cfg.Kafka.DLQTopic,
			MaxRetries:   uint64(cfg.Kafka.MaxRetries),
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: config.Millis(cfg.Kafka.BatchWaitMs),
		}, logger.Zap())
		if err != nil {
			return err
		}
		defer group.Close() // nolint
		consumer := bus.NewKafkaConsumer(group, core, logger)
		g.Go(func() error { return consumer.Run(ctx) })
	}

	server := httpapi.NewServer(cfg.HTTP.Addr, core, m, logger)

	g.Go(func() error { return refresher.Run(ctx) })
	g.Go(func() error { return core.Start(ctx) })
	g.Go(func() error { return server.Run(ctx, config.Millis(cfg.HTTP.ShutdownTimeoutMs)) })

	logger.Info(ctx, "oms started",
		zap.String("transport", cfg.Transport),
		zap.String("var_source", cfg.Risk.VaRSource),
		zap.Int("recovered_fills", len(recovered)))

	return g.Wait()
}
