package rsvpvault

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
)

func TestConcurrentRegisterRespectsLimit(t *testing.T) {
	p := testParams()
	p.Limit = 5
	h := newHarness(t, p)

	const callers = 40
	ids := make([]common.Address, callers)
	for i := range ids {
		ids[i] = common.BytesToAddress([]byte{0x10, byte(i)})
		require.NoError(t, h.rail.Mint(ids[i], p.Deposit))
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		full      atomic.Int64
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id common.Address) {
			defer wg.Done()
			err := h.inst.Register(h.ctx, id, "guest", p.Deposit)
			switch rverrors.KindOf(err) {
			case rverrors.KindCapacityExceeded:
				full.Add(1)
			default:
				if err == nil {
					succeeded.Add(1)
				}
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int64(5), succeeded.Load())
	assert.Equal(t, int64(callers-5), full.Load())
	assert.Equal(t, uint64(5), h.inst.Snapshot().RegisteredCount)
	assert.Equal(t, uint64(100), h.inst.Held())
	h.requireConserved()

	var refunded int
	for _, id := range ids {
		if !h.inst.IsRegistered(id) {
			assert.Equal(t, p.Deposit, h.rail.Balance(id))
			refunded++
		}
	}
	assert.Equal(t, callers-5, refunded)
}

func TestConcurrentWithdrawPaysOnce(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice, bob)
	require.NoError(t, h.inst.Cancel(h.ctx, owner))

	const attempts = 25
	var (
		wg   sync.WaitGroup
		paid atomic.Int64
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if amount, err := h.inst.Withdraw(h.ctx, alice); err == nil {
				paid.Add(int64(amount))
			} else {
				assert.Equal(t, rverrors.KindInvalidState, rverrors.KindOf(err))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), paid.Load())
	assert.Equal(t, uint64(20), h.rail.Balance(alice))
	assert.Equal(t, uint64(20), h.inst.Held())
	h.requireConserved()
}

func TestConcurrentMixedOperations(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice, bob, carol)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = h.inst.Attend(h.ctx, owner, []common.Address{alice})
		}()
		go func() {
			defer wg.Done()
			_ = h.inst.Snapshot()
			_ = h.inst.Participants()
		}()
		go func() {
			defer wg.Done()
			_ = h.inst.SetLimit(h.ctx, owner, 10)
		}()
	}
	wg.Wait()

	assert.True(t, h.inst.IsAttended(alice))
	assert.Equal(t, uint64(1), h.inst.Snapshot().AttendedCount)
}
