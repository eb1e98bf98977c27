package config

import (
	"os"
	"time"

	postgres_wrapper "github.com/joripage/oms-core/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/oms-core/pkg/infra/redis"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	VaRSourceLocal = "local"
	VaRSourceRedis = "redis"

	TransportKafka  = "kafka"
	TransportMemory = "memory"
)

type AppConfig struct {
	ServiceName string                           `yaml:"service_name"`
	LogLevel    string                           `yaml:"log_level"`
	HTTP        HTTPConfig                       `yaml:"http"`
	Transport   string                           `yaml:"transport"`
	OmsDB       *postgres_wrapper.PostgresConfig `yaml:"oms_db"`
	Redis       *redis_wrapper.RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig                      `yaml:"kafka"`
	Risk        RiskConfig                       `yaml:"risk"`
	Order       OrderConfig                      `yaml:"order"`
	Dispatcher  DispatcherConfig                 `yaml:"dispatcher"`
	Journal     JournalConfig                    `yaml:"journal"`
	Accounts    map[string]AccountConfig         `yaml:"accounts"`
}

type HTTPConfig struct {
	Addr              string `yaml:"addr"`
	ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	RouteTopic    string   `yaml:"route_topic"`
	CancelTopic   string   `yaml:"cancel_topic"`
	PositionTopic string   `yaml:"position_topic"`
	EventsTopic   string   `yaml:"events_topic"`
	DLQTopic      string   `yaml:"dlq_topic"`
	GroupID       string   `yaml:"group_id"`
	BatchSize     int      `yaml:"batch_size"`
	BatchWaitMs   int      `yaml:"batch_wait_ms"`
	MaxRetries    int      `yaml:"max_retries"`
}

type RiskConfig struct {
	CheckTimeoutMs       int     `yaml:"risk_check_timeout_ms"`
	FailOpen             bool    `yaml:"fail_open"`
	LimitsFile           string  `yaml:"limits_file"`
	TickSizeFile         string  `yaml:"tick_size_file"`
	VaRSource            string  `yaml:"var_source"`
	VaRRedisKey          string  `yaml:"var_redis_key"`
	VaRRefreshIntervalMs int     `yaml:"var_refresh_interval_ms"`
	VaRMaxStalenessMs    int     `yaml:"var_max_staleness_ms"`
	VaRZ                 float64 `yaml:"var_z"`
	ReturnWindow         int     `yaml:"return_window"`
	DefaultVolatility    float64 `yaml:"default_volatility"`
}

type OrderConfig struct {
	SubmitTimeoutMs           int `yaml:"order_submit_timeout_ms"`
	CancelAckTimeoutMs        int `yaml:"cancel_ack_timeout_ms"`
	RetentionSeconds          int `yaml:"retention_seconds"`
	TombstoneRetentionSeconds int `yaml:"tombstone_retention_seconds"`
}

type DispatcherConfig struct {
	Shards           int     `yaml:"shards"`
	QueueSize        int     `yaml:"queue_size"`
	PublishTimeoutMs int     `yaml:"publish_timeout_ms"`
	MaxRetries       uint64  `yaml:"max_retries"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms"`
	BreakerTimeoutMs int     `yaml:"breaker_timeout_ms"`
	BreakerMinReqs   uint32  `yaml:"breaker_min_requests"`
	BreakerRatio     float64 `yaml:"breaker_failure_ratio"`
}

type JournalConfig struct {
	Enabled            bool   `yaml:"enabled"`
	QueueSize          int    `yaml:"queue_size"`
	BatchSize          int    `yaml:"batch_size"`
	FlushIntervalMs    int    `yaml:"flush_interval_ms"`
	MaxRetries         uint64 `yaml:"max_retries"`
	SnapshotIntervalMs int    `yaml:"snapshot_interval_ms"`
}

type AccountConfig struct {
	Cash string `yaml:"cash"`
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}

	err = yaml.Unmarshal(configBytes, cfg)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}
	cfg.applyDefaults()

	zap.S().Debugf("config: %+v", cfg)

	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "oms-core"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeoutMs <= 0 {
		c.HTTP.ShutdownTimeoutMs = 5000
	}
	if c.Transport == "" {
		c.Transport = TransportMemory
	}

	if c.Kafka.RouteTopic == "" {
		c.Kafka.RouteTopic = "oms.route_order"
	}
	if c.Kafka.CancelTopic == "" {
		c.Kafka.CancelTopic = "oms.cancel_request"
	}
	if c.Kafka.PositionTopic == "" {
		c.Kafka.PositionTopic = "oms.position_update"
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = "venue.events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = c.ServiceName
	}

	if c.Risk.CheckTimeoutMs <= 0 {
		c.Risk.CheckTimeoutMs = 5
	}
	if c.Risk.VaRSource == "" {
		c.Risk.VaRSource = VaRSourceLocal
	}
	if c.Risk.VaRRedisKey == "" {
		c.Risk.VaRRedisKey = "risk:var"
	}
	if c.Risk.VaRRefreshIntervalMs <= 0 {
		c.Risk.VaRRefreshIntervalMs = 1000
	}
	if c.Risk.VaRMaxStalenessMs <= 0 {
		c.Risk.VaRMaxStalenessMs = 5000
	}
	if c.Risk.VaRZ <= 0 {
		c.Risk.VaRZ = 2.33
	}
	if c.Risk.ReturnWindow <= 0 {
		c.Risk.ReturnWindow = 100
	}
	if c.Risk.DefaultVolatility <= 0 {
		c.Risk.DefaultVolatility = 0.02
	}

	if c.Order.SubmitTimeoutMs <= 0 {
		c.Order.SubmitTimeoutMs = 50
	}
	if c.Order.CancelAckTimeoutMs <= 0 {
		c.Order.CancelAckTimeoutMs = 5000
	}
	if c.Order.RetentionSeconds <= 0 {
		c.Order.RetentionSeconds = 600
	}
	if c.Order.TombstoneRetentionSeconds <= 0 {
		c.Order.TombstoneRetentionSeconds = 86400
	}
}

func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
