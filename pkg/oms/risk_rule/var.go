package riskrule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/metrics"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VaREstimate is a cached portfolio VaR for one account.
type VaREstimate struct {
	Account    string          `json:"account"`
	Value      decimal.Decimal `json:"value"`
	ComputedAt time.Time       `json:"computed_at"`
}

// VaRCache holds the latest estimates. The refresher replaces the whole map at once.
type VaRCache struct {
	snap atomic.Pointer[map[string]VaREstimate]
}

func NewVaRCache() *VaRCache {
	c := &VaRCache{}
	empty := map[string]VaREstimate{}
	c.snap.Store(&empty)
	return c
}

func (c *VaRCache) Get(account string) (VaREstimate, bool) {
	est, ok := (*c.snap.Load())[account]
	return est, ok
}

func (c *VaRCache) Replace(estimates map[string]VaREstimate) {
	cp := make(map[string]VaREstimate, len(estimates))
	for k, v := range estimates {
		cp[k] = v
	}
	c.snap.Store(&cp)
}

// VaRSource produces a fresh set of estimates.
type VaRSource interface {
	Estimate(ctx context.Context) (map[string]VaREstimate, error)
}

// PortfolioReader is the narrow view of the position ledger the risk side needs.
type PortfolioReader interface {
	GetPosition(account, symbol string) model.Position
	Positions(account string) []model.Position
	Accounts() []string
}

// LocalVaRSource computes a parametric VaR in process: z times the sum of each
// position's exposure times its symbol volatility. Summing ignores
// diversification, which keeps the estimate on the conservative side.
type LocalVaRSource struct {
	positions PortfolioReader
	prices    *PriceBook
	z         float64
	now       func() time.Time
}

func NewLocalVaRSource(positions PortfolioReader, prices *PriceBook, z float64) *LocalVaRSource {
	return &LocalVaRSource{positions: positions, prices: prices, z: z, now: time.Now}
}

func (s *LocalVaRSource) Estimate(ctx context.Context) (map[string]VaREstimate, error) {
	now := s.now()
	out := make(map[string]VaREstimate)
	for _, acc := range s.positions.Accounts() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		total := decimal.Zero
		for _, p := range s.positions.Positions(acc) {
			if p.IsFlat() {
				continue
			}
			price := markOr(s.prices, p)
			sigma := decimal.NewFromFloat(s.z * s.prices.Volatility(p.Symbol))
			total = total.Add(p.Exposure(price).Mul(sigma))
		}
		out[acc] = VaREstimate{Account: acc, Value: total, ComputedAt: now}
	}
	return out, nil
}

// RedisVaRSource reads estimates published by an external analytics job into a
// Redis hash: field = account, value = JSON VaREstimate.
type RedisVaRSource struct {
	client *redis.Client
	key    string
}

func NewRedisVaRSource(client *redis.Client, key string) *RedisVaRSource {
	return &RedisVaRSource{client: client, key: key}
}

func (s *RedisVaRSource) Estimate(ctx context.Context) (map[string]VaREstimate, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read var hash %s: %w", s.key, err)
	}
	out := make(map[string]VaREstimate, len(fields))
	for acc, raw := range fields {
		var est VaREstimate
		if err := json.Unmarshal([]byte(raw), &est); err != nil {
			return nil, fmt.Errorf("decode var of %s: %w", acc, err)
		}
		est.Account = acc
		out[acc] = est
	}
	return out, nil
}

// replaceHash swaps the whole hash in one script run.
var replaceHash = redis.NewScript(`
	redis.call("DEL", KEYS[1])
	for i = 1, #ARGV, 2 do
		redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
	end
	return #ARGV / 2
`)

// Publish writes estimates in the format Estimate reads. Readers never see a
// mix of two publications.
func (s *RedisVaRSource) Publish(ctx context.Context, estimates map[string]VaREstimate) error {
	args := make([]interface{}, 0, 2*len(estimates))
	for acc, est := range estimates {
		raw, err := json.Marshal(est)
		if err != nil {
			return err
		}
		args = append(args, acc, raw)
	}
	if err := replaceHash.Run(ctx, s.client, []string{s.key}, args...).Err(); err != nil {
		return fmt.Errorf("publish var hash %s: %w", s.key, err)
	}
	return nil
}

// VaRRefresher periodically pulls a VaRSource into a VaRCache.
type VaRRefresher struct {
	source   VaRSource
	cache    *VaRCache
	interval time.Duration
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

func NewVaRRefresher(source VaRSource, cache *VaRCache, interval time.Duration, logger *logging.Logger, m *metrics.Metrics) *VaRRefresher {
	return &VaRRefresher{
		source:   source,
		cache:    cache,
		interval: interval,
		logger:   logger.Named("var_refresher"),
		metrics:  m,
	}
}

// RefreshOnce replaces the cache with a new estimate set. On error the old,
// increasingly stale estimates stay in place and the engine's staleness bound
// eventually fails checks closed.
func (r *VaRRefresher) RefreshOnce(ctx context.Context) error {
	estimates, err := r.source.Estimate(ctx)
	if err != nil {
		return err
	}
	r.cache.Replace(estimates)

	if r.metrics != nil {
		var oldest time.Duration
		for _, est := range estimates {
			if age := time.Since(est.ComputedAt); age > oldest {
				oldest = age
			}
		}
		r.metrics.VaRStaleness.Set(oldest.Seconds())
	}
	return nil
}

func (r *VaRRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn(ctx, "var refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func markOr(prices *PriceBook, p model.Position) decimal.Decimal {
	if mark, ok := prices.Mark(p.Symbol); ok {
		return mark
	}
	if p.LastPrice.IsPositive() {
		return p.LastPrice
	}
	return p.AveragePrice
}
