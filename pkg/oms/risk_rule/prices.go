package riskrule

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
)

const defaultReturnWindow = 100

type markEntry struct {
	mu      sync.Mutex
	price   atomic.Pointer[decimal.Decimal]
	sigma   atomic.Uint64 // math.Float64bits of the volatility
	last    float64
	returns deque.Deque[float64]
}

// PriceBook keeps the latest mark per symbol and a rolling volatility of its log returns.
// Each symbol is locked independently; reads are lock-free.
type PriceBook struct {
	marks        sync.Map // symbol -> *markEntry
	window       int
	defaultSigma float64
}

func NewPriceBook(window int, defaultSigma float64) *PriceBook {
	if window < 2 {
		window = defaultReturnWindow
	}
	return &PriceBook{window: window, defaultSigma: defaultSigma}
}

// UpdateMark records a new observed price for symbol.
func (b *PriceBook) UpdateMark(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	v, _ := b.marks.LoadOrStore(symbol, &markEntry{})
	e := v.(*markEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	p := price.InexactFloat64()
	if e.last > 0 {
		e.returns.PushBack(math.Log(p / e.last))
		for e.returns.Len() > b.window {
			e.returns.PopFront()
		}
		e.sigma.Store(math.Float64bits(stddev(&e.returns)))
	}
	e.last = p
	e.price.Store(&price)
}

// Mark returns the latest price of symbol.
func (b *PriceBook) Mark(symbol string) (decimal.Decimal, bool) {
	v, ok := b.marks.Load(symbol)
	if !ok {
		return decimal.Zero, false
	}
	p := v.(*markEntry).price.Load()
	if p == nil {
		return decimal.Zero, false
	}
	return *p, true
}

// Volatility returns the per-period standard deviation of log returns, or the
// configured default while the window shows no dispersion yet.
func (b *PriceBook) Volatility(symbol string) float64 {
	v, ok := b.marks.Load(symbol)
	if !ok {
		return b.defaultSigma
	}
	e := v.(*markEntry)
	sigma := math.Float64frombits(e.sigma.Load())
	if sigma == 0 {
		return b.defaultSigma
	}
	return sigma
}

func stddev(q *deque.Deque[float64]) float64 {
	n := q.Len()
	if n < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += q.At(i)
	}
	mean := sum / float64(n)
	var sq float64
	for i := 0; i < n; i++ {
		d := q.At(i) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n-1))
}
