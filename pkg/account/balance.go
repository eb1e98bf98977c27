// Package account tracks cash balances and the buying power reserved by open orders.
package account

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient buying power")
)

// Balance is an immutable view of an account's cash.
type Balance struct {
	Account  string
	Cash     decimal.Decimal
	Reserved decimal.Decimal
}

// Available is the buying power left after open-order reservations.
func (b Balance) Available() decimal.Decimal {
	return b.Cash.Sub(b.Reserved)
}

type book struct {
	mu           sync.Mutex
	snap         atomic.Pointer[Balance]
	reservations map[string]decimal.Decimal // orderID -> reserved notional
}

// BalanceBook holds one independently locked book per account.
type BalanceBook struct {
	books sync.Map // account -> *book
}

func NewBalanceBook() *BalanceBook {
	return &BalanceBook{}
}

// Snapshot returns the current balance, zero when the account is unknown.
func (b *BalanceBook) Snapshot(account string) Balance {
	v, ok := b.books.Load(account)
	if !ok {
		return Balance{Account: account, Cash: decimal.Zero, Reserved: decimal.Zero}
	}
	return *v.(*book).snap.Load()
}

// Deposit adds (or with a negative amount withdraws) cash.
func (b *BalanceBook) Deposit(account string, amount decimal.Decimal) Balance {
	return b.mutate(account, func(bal *Balance, _ map[string]decimal.Decimal) {
		bal.Cash = bal.Cash.Add(amount)
	})
}

// Reserve earmarks buying power for an open order. Reserving twice for the same order replaces the amount.
func (b *BalanceBook) Reserve(account, orderID string, amount decimal.Decimal) (Balance, error) {
	if amount.IsNegative() {
		return Balance{}, ErrInvalidAmount
	}
	return b.mutate(account, func(bal *Balance, res map[string]decimal.Decimal) {
		bal.Reserved = bal.Reserved.Sub(res[orderID]).Add(amount)
		res[orderID] = amount
	}), nil
}

// ReserveWithin earmarks amount only if the buying power left afterwards stays
// at or above floor. Check and reservation happen under the account's lock, so
// concurrent orders cannot spend the same cash twice.
func (b *BalanceBook) ReserveWithin(account, orderID string, amount, floor decimal.Decimal) (Balance, error) {
	if amount.IsNegative() {
		return Balance{}, ErrInvalidAmount
	}
	var err error
	bal := b.mutate(account, func(bal *Balance, res map[string]decimal.Decimal) {
		next := bal.Reserved.Sub(res[orderID]).Add(amount)
		if bal.Cash.Sub(next).LessThan(floor) {
			err = ErrInsufficientFunds
			return
		}
		bal.Reserved = next
		res[orderID] = amount
	})
	return bal, err
}

// Release frees whatever is still reserved for the order.
func (b *BalanceBook) Release(account, orderID string) Balance {
	return b.mutate(account, func(bal *Balance, res map[string]decimal.Decimal) {
		if amount, ok := res[orderID]; ok {
			bal.Reserved = bal.Reserved.Sub(amount)
			delete(res, orderID)
		}
	})
}

// Settle moves cash for an applied fill and consumes the matching part of the order's reservation.
func (b *BalanceBook) Settle(account, orderID string, side model.OrderSide, qty, price decimal.Decimal) Balance {
	notional := qty.Mul(price)
	return b.mutate(account, func(bal *Balance, res map[string]decimal.Decimal) {
		if side == model.OrderSideBuy {
			bal.Cash = bal.Cash.Sub(notional)
		} else {
			bal.Cash = bal.Cash.Add(notional)
		}
		if reserved, ok := res[orderID]; ok {
			used := decimal.Min(reserved, notional)
			bal.Reserved = bal.Reserved.Sub(used)
			res[orderID] = reserved.Sub(used)
		}
	})
}

func (b *BalanceBook) mutate(account string, fn func(*Balance, map[string]decimal.Decimal)) Balance {
	bk := b.getOrCreate(account)
	bk.mu.Lock()
	defer bk.mu.Unlock()

	next := *bk.snap.Load()
	fn(&next, bk.reservations)
	bk.snap.Store(&next)
	return next
}

func (b *BalanceBook) getOrCreate(account string) *book {
	if v, ok := b.books.Load(account); ok {
		return v.(*book)
	}
	bk := &book{reservations: make(map[string]decimal.Decimal)}
	bk.snap.Store(&Balance{Account: account, Cash: decimal.Zero, Reserved: decimal.Zero})
	v, _ := b.books.LoadOrStore(account, bk)
	return v.(*book)
}
