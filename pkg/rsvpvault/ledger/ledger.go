// Package ledger defines the value-transfer boundary of rsvpvault.
//
// Instances never hold value themselves. Each instance owns an account on an
// external settlement rail (identified by the instance handle) and moves value
// through a Transferrer: inbound deposits from registrants, outbound payouts to
// participants and sweeps to the owner. MemoryLedger is an in-process rail for
// tests, examples, and single-process deployments.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Transferrer moves value between accounts on a settlement rail.
// Implementations must be safe for concurrent use.
type Transferrer interface {
	// Transfer moves amount from one account to another. It either moves the
	// full amount or nothing.
	Transfer(ctx context.Context, from, to common.Address, amount uint64) error
}

// Sentinel errors for the in-memory rail.
var (
	// ErrInsufficientFunds indicates the source account cannot cover the amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrOverflow indicates the destination balance would overflow.
	ErrOverflow = errors.New("ledger: balance overflow")
)

// Movement records one completed transfer.
type Movement struct {
	From   common.Address
	To     common.Address
	Amount uint64
}

// Hook runs before a transfer is applied and outside the ledger's lock.
// Returning an error aborts the transfer. Hooks may call back into anything,
// including the instance that issued the transfer.
type Hook func(ctx context.Context, m Movement) error

// MemoryLedger is an in-memory settlement rail.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[common.Address]uint64
	history  []Movement
	hook     Hook
}

// Compile-time interface check.
var _ Transferrer = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[common.Address]uint64),
	}
}

// Mint credits an account out of thin air (funding for tests and examples).
func (l *MemoryLedger) Mint(to common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[to] > math.MaxUint64-amount {
		return ErrOverflow
	}
	l.balances[to] += amount
	return nil
}

// Balance returns the balance of an account.
func (l *MemoryLedger) Balance(addr common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

// SetHook installs a hook called before every transfer. Pass nil to remove it.
func (l *MemoryLedger) SetHook(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = h
}

// History returns all completed transfers in order.
func (l *MemoryLedger) History() []Movement {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Movement, len(l.history))
	copy(out, l.history)
	return out
}

// Transfer implements Transferrer.
func (l *MemoryLedger) Transfer(ctx context.Context, from, to common.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := Movement{From: from, To: to, Amount: amount}

	l.mu.Lock()
	hook := l.hook
	l.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, m); err != nil {
			return fmt.Errorf("ledger hook: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from] < amount {
		return fmt.Errorf("transfer %d from %s: %w", amount, from.Hex(), ErrInsufficientFunds)
	}
	if from != to && l.balances[to] > math.MaxUint64-amount {
		return ErrOverflow
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	l.history = append(l.history, m)
	return nil
}
