// Package ledger keeps the authoritative per-account, per-symbol positions.
//
// Every (account, symbol) key owns its own mutex; readers load an immutable
// snapshot through an atomic pointer and never wait on a writer.
package ledger

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidFill = errors.New("invalid fill")
)

// FillInput is what the ledger needs to know about an execution.
type FillInput struct {
	Account   string
	Symbol    string
	Side      model.OrderSide
	Qty       decimal.Decimal
	Price     decimal.Decimal
	FillID    string
	Timestamp time.Time
}

type positionKey struct {
	account string
	symbol  string
}

type entry struct {
	mu    sync.Mutex
	snap  atomic.Pointer[model.Position]
	fills map[string]struct{}
}

type accountIndex struct {
	mu      sync.Mutex
	symbols atomic.Pointer[[]string]
}

type Ledger struct {
	entries  sync.Map // positionKey -> *entry
	accounts sync.Map // account -> *accountIndex
}

func New() *Ledger {
	return &Ledger{}
}

// ApplyFill moves the position of the fill's key. It is idempotent by FillID:
// a fill seen before leaves the position untouched and reports applied=false.
func (l *Ledger) ApplyFill(in FillInput) (model.Position, bool, error) {
	if in.FillID == "" || in.Account == "" || in.Symbol == "" ||
		!in.Side.Valid() || !in.Qty.IsPositive() || !in.Price.IsPositive() {
		return model.Position{}, false, ErrInvalidFill
	}

	e := l.getOrCreate(in.Account, in.Symbol)

	e.mu.Lock()
	defer e.mu.Unlock()

	current := *e.snap.Load()
	if _, seen := e.fills[in.FillID]; seen {
		return current, false, nil
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	next := applyFill(current, in.Qty.Mul(in.Side.Sign()), in.Price, ts)
	e.fills[in.FillID] = struct{}{}
	e.snap.Store(&next)

	return next, true, nil
}

// GetPosition returns the position for the key, flat when it never traded.
func (l *Ledger) GetPosition(account, symbol string) model.Position {
	v, ok := l.entries.Load(positionKey{account, symbol})
	if !ok {
		return flat(account, symbol)
	}
	return *v.(*entry).snap.Load()
}

// Positions lists every position the account ever opened, flat ones included.
func (l *Ledger) Positions(account string) []model.Position {
	v, ok := l.accounts.Load(account)
	if !ok {
		return nil
	}
	symbols := *v.(*accountIndex).symbols.Load()
	out := make([]model.Position, 0, len(symbols))
	for _, symbol := range symbols {
		out = append(out, l.GetPosition(account, symbol))
	}
	return out
}

// Accounts lists every account known to the ledger, sorted.
func (l *Ledger) Accounts() []string {
	var out []string
	l.accounts.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Snapshot copies every position, for persistence.
func (l *Ledger) Snapshot() []model.Position {
	var out []model.Position
	l.entries.Range(func(_, v any) bool {
		out = append(out, *v.(*entry).snap.Load())
		return true
	})
	return out
}

func (l *Ledger) getOrCreate(account, symbol string) *entry {
	key := positionKey{account, symbol}
	if v, ok := l.entries.Load(key); ok {
		return v.(*entry)
	}

	e := &entry{fills: make(map[string]struct{})}
	p := flat(account, symbol)
	e.snap.Store(&p)

	actual, loaded := l.entries.LoadOrStore(key, e)
	if !loaded {
		l.indexSymbol(account, symbol)
	}
	return actual.(*entry)
}

func (l *Ledger) indexSymbol(account, symbol string) {
	fresh := &accountIndex{}
	empty := []string{}
	fresh.symbols.Store(&empty)
	v, _ := l.accounts.LoadOrStore(account, fresh)
	idx := v.(*accountIndex)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	old := *idx.symbols.Load()
	next := make([]string, len(old), len(old)+1)
	copy(next, old)
	next = append(next, symbol)
	idx.symbols.Store(&next)
}

func flat(account, symbol string) model.Position {
	return model.Position{
		Account:      account,
		Symbol:       symbol,
		Quantity:     decimal.Zero,
		AveragePrice: decimal.Zero,
		LastPrice:    decimal.Zero,
		RealizedPnL:  decimal.Zero,
	}
}
