package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/joripage/oms-core/pkg/account"
	"github.com/joripage/oms-core/pkg/bus"
	"github.com/joripage/oms-core/pkg/ledger"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/metrics"
	"github.com/joripage/oms-core/pkg/oms"
	"github.com/joripage/oms-core/pkg/oms/model"
	riskrule "github.com/joripage/oms-core/pkg/oms/risk_rule"
	"github.com/joripage/oms-core/pkg/paper"
	"github.com/shopspring/decimal"
)

var symbols = []string{"AAA", "BBB", "CCC", "DDD"}

func randomOrder(r *rand.Rand, account string) *model.SubmitOrder {
	side := model.OrderSideBuy
	if r.Intn(2) == 0 {
		side = model.OrderSideSell
	}
	price := decimal.NewFromInt(int64(100 + r.Intn(100)))
	return &model.SubmitOrder{
		Account:  account,
		Symbol:   symbols[r.Intn(len(symbols))],
		Side:     side,
		Type:     model.OrderTypeLimit,
		Quantity: decimal.NewFromInt(int64(1 + r.Intn(10))),
		Price:    decimal.NewNullDecimal(price),
	}
}

func main() {
	var (
		numOrders   int
		numAccounts int
		workers     int
	)
	flag.IntVar(&numOrders, "orders", 200_000, "orders to submit")
	flag.IntVar(&numAccounts, "accounts", 100, "distinct accounts")
	flag.IntVar(&workers, "workers", 8, "concurrent submitters")
	flag.Parse()

	logger := logging.NewNop()
	m := metrics.New()
	led := ledger.New()
	balances := account.NewBalanceBook()
	prices := riskrule.NewPriceBook(100, 0.02)
	for _, s := range symbols {
		prices.UpdateMark(s, decimal.NewFromInt(150))
	}

	limits := riskrule.NewLimitStore(riskrule.NewRiskLimits(1, riskrule.Limits{
		MaxOrderNotional:    decimal.NewFromInt(50_000),
		MaxPositionNotional: decimal.NewFromInt(1_000_000),
		MaxConcentration:    decimal.RequireFromString("0.5"),
	}, nil))
	engine := riskrule.NewEngine(riskrule.Config{}, riskrule.EngineDeps{
		Limits:    limits,
		Positions: led,
		Balances:  balances,
		Prices:    prices,
		VaR:       riskrule.NewVaRCache(),
		Logger:    logger,
		Metrics:   m,
	})

	memoryBus := bus.NewMemoryBus(bus.MemoryBusConfig{}, logger)
	core := oms.NewOMS(oms.Config{}, oms.Deps{
		Risk:     engine,
		Ledger:   led,
		Balances: balances,
		Prices:   prices,
		Limits:   limits,
		Gateway:  memoryBus,
		Logger:   logger,
		Metrics:  m,
	})
	memoryBus.Attach(paper.NewVenue(paper.Config{}, memoryBus, prices, logger), core)

	accounts := make([]string, numAccounts)
	for i := range accounts {
		accounts[i] = fmt.Sprintf("ACC-%04d", i)
		balances.Deposit(accounts[i], decimal.NewFromInt(10_000_000))
	}

	latencies := make([]time.Duration, numOrders)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[string]int{}
	)
	start := time.Now()
	per := numOrders / workers
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(w)))
			local := map[string]int{}
			for i := w * per; i < (w+1)*per; i++ {
				req := randomOrder(r, accounts[r.Intn(len(accounts))])
				t0 := time.Now()
				res, err := core.Submit(context.Background(), req)
				latencies[i] = time.Since(t0)
				switch {
				case err != nil:
					local["error"]++
				case res.Status == model.OrderStatusRejected:
					local[string(res.Reason)]++
				default:
					local["accepted"]++
				}
			}
			mu.Lock()
			for k, v := range local {
				outcomes[k] += v
			}
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	done := latencies[:per*workers]
	sort.Slice(done, func(i, j int) bool { return done[i] < done[j] })
	pct := func(p float64) time.Duration { return done[int(float64(len(done)-1)*p)] }

	fmt.Println("--------")
	fmt.Printf("Total orders : %d\n", len(done))
	fmt.Printf("Time taken   : %s (%.0f orders/s)\n", elapsed, float64(len(done))/elapsed.Seconds())
	fmt.Printf("Submit p50   : %s\n", pct(0.50))
	fmt.Printf("Submit p99   : %s\n", pct(0.99))
	fmt.Printf("Submit max   : %s\n", done[len(done)-1])
	for k, v := range outcomes {
		fmt.Printf("  %-20s %d\n", k, v)
	}
}
