package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/joripage/oms-core/config"
	"github.com/joripage/oms-core/pkg/infra"
	"go.uber.org/zap"
)

func main() {
	var (
		configFile string
		source     string
		down       int
	)
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&source, "source", "file://migration/sql", "Migration source url")
	flag.IntVar(&down, "down", 0, "Roll back this many steps instead of migrating up")
	flag.Parse()

	logger, _ := zap.NewProduction()
	zap.ReplaceGlobals(logger)
	defer logger.Sync() // nolint

	cfg, err := config.Load(configFile)
	if err != nil {
		zap.S().Fatalf("load config: %v", err)
	}
	if cfg.OmsDB == nil || cfg.OmsDB.MigrationConnURL == "" {
		zap.S().Fatal("oms_db.migration_conn_url is not set")
	}

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}

	mgTool := infra.GetMigrateTool()
	if down > 0 {
		err = mgTool.Rollback(source, cfg.OmsDB.MigrationConnURL, down)
	} else {
		err = mgTool.Migrate(source, cfg.OmsDB.MigrationConnURL)
	}
	if err != nil {
		zap.S().Errorf("migration failed: %v", err)
		os.Exit(1)
	}
}
