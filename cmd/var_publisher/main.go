// var_publisher rebuilds positions from the persisted fills, estimates each
// account's VaR and publishes the set to the Redis hash the oms reads when
// risk.var_source is "redis".
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joripage/oms-core/config"
	postgres_wrapper "github.com/joripage/oms-core/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/oms-core/pkg/infra/redis"
	"github.com/joripage/oms-core/pkg/ledger"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/oms/repo"
	riskrule "github.com/joripage/oms-core/pkg/oms/risk_rule"
	"go.uber.org/zap"
)

func main() {
	var (
		configFile string
		interval   time.Duration
	)
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.DurationVar(&interval, "interval", 0, "Republish at this interval; 0 publishes once")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		zap.S().Fatalf("load config: %v", err)
	}
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel)).Named("var-publisher")
	defer logger.Sync() // nolint

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OmsDB == nil || cfg.Redis == nil {
		logger.Fatal(ctx, "oms_db and redis must both be configured")
	}
	db, err := postgres_wrapper.InitPostgresWithBackoff(ctx, cfg.OmsDB)
	if err != nil {
		logger.Fatal(ctx, "connect oms db", zap.Error(err))
	}
	client, err := redis_wrapper.InitRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal(ctx, "connect redis", zap.Error(err))
	}
	defer client.Close()

	fills := repo.NewRepo(db).Fill()
	sink := riskrule.NewRedisVaRSource(client, cfg.Risk.VaRRedisKey)

	publish := func() error {
		all, err := fills.ListAll(ctx)
		if err != nil {
			return err
		}
		led := ledger.New()
		prices := riskrule.NewPriceBook(cfg.Risk.ReturnWindow, cfg.Risk.DefaultVolatility)
		for _, f := range all {
			if _, _, err := led.ApplyFill(ledger.FillInput{
				Account:   f.Account,
				Symbol:    f.Symbol,
				Side:      f.Side,
				Qty:       f.Quantity,
				Price:     f.Price,
				FillID:    f.FillID,
				Timestamp: f.Timestamp,
			}); err != nil {
				logger.Warn(ctx, "skip fill", zap.String("fill_id", f.FillID), zap.Error(err))
				continue
			}
			prices.UpdateMark(f.Symbol, f.Price)
		}

		estimates, err := riskrule.NewLocalVaRSource(led, prices, cfg.Risk.VaRZ).Estimate(ctx)
		if err != nil {
			return err
		}
		if err := sink.Publish(ctx, estimates); err != nil {
			return err
		}
		logger.Info(ctx, "var published", zap.Int("accounts", len(estimates)), zap.Int("fills", len(all)))
		return nil
	}

	if err := publish(); err != nil {
		logger.Error(ctx, "publish var failed", zap.Error(err))
		if interval <= 0 {
			os.Exit(1)
		}
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := publish(); err != nil {
				logger.Error(ctx, "publish var failed", zap.Error(err))
			}
		}
	}
}
