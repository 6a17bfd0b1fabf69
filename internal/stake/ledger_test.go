package stake_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/paysplit/internal/stake"
)

const (
	creator = "alice"
	supply  = uint64(100_000_000)
	grace   = 30 * 24 * time.Hour
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type payment struct {
	Destination string
	Amount      uint64
}

type fakePayer struct {
	mu    sync.Mutex
	paid  []payment
	onPay func(destination string, amount uint64) error
}

func (p *fakePayer) Pay(ctx context.Context, destination string, amount uint64) error {
	if p.onPay != nil {
		if err := p.onPay(destination, amount); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.paid = append(p.paid, payment{destination, amount})
	p.mu.Unlock()
	return nil
}

func (p *fakePayer) payments() []payment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payment(nil), p.paid...)
}

func newTestLedger(t *testing.T) (*stake.Ledger, *fakePayer, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	payer := &fakePayer{}
	l, err := stake.New(stake.Config{
		Address:           "ledger-1",
		Creator:           creator,
		FixedSupply:       supply,
		GracePeriod:       grace,
		AcceptingDeposits: true,
		Payer:             payer,
		Clock:             clock.Now,
	})
	require.NoError(t, err)
	return l, payer, clock
}

func totalBalance(l *stake.Ledger) uint64 {
	var sum uint64
	for _, h := range l.Snapshot() {
		sum += h.Balance
	}
	return sum
}

func TestNew(t *testing.T) {
	t.Run("should assign full supply to creator", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		assert.Equal(t, supply, l.BalanceOf(creator))
		assert.Equal(t, supply, l.TotalSupply())
		assert.Equal(t, creator, l.Controller())
	})

	t.Run("should reject zero supply", func(t *testing.T) {
		_, err := stake.New(stake.Config{Creator: creator})
		assert.ErrorIs(t, err, stake.ErrZeroAmount)
	})

	t.Run("should reject empty creator", func(t *testing.T) {
		_, err := stake.New(stake.Config{FixedSupply: 1})
		assert.ErrorIs(t, err, stake.ErrUnknownAccount)
	})
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("should record held value", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		require.NoError(t, l.Deposit(ctx, "payer-x", 1_000_000))
		assert.Equal(t, uint64(1_000_000), l.HeldBalance())
	})

	t.Run("should reject deposits when gate is closed", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		require.NoError(t, l.SetAcceptingDeposits(ctx, creator, false))
		err := l.Deposit(ctx, "payer-x", 500)
		assert.ErrorIs(t, err, stake.ErrDepositsClosed)
		assert.Equal(t, uint64(0), l.HeldBalance())
	})

	t.Run("should reject zero deposits", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		assert.ErrorIs(t, l.Deposit(ctx, "payer-x", 0), stake.ErrZeroAmount)
	})

	t.Run("should accept forced value regardless of gate", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		require.NoError(t, l.SetAcceptingDeposits(ctx, creator, false))
		require.NoError(t, l.ForceReceive(777))
		assert.Equal(t, uint64(777), l.HeldBalance())

		// The forced value is attributed on the next settlement.
		due, err := l.WithdrawableOf(creator)
		require.NoError(t, err)
		assert.Equal(t, uint64(777), due)
	})
}

func TestClaimSettlement(t *testing.T) {
	ctx := context.Background()

	t.Run("should split deposits exactly per the holding ratio", func(t *testing.T) {
		l, _, _ := newTestLedger(t)

		// alice 99,800,000 / bob 200,000 of 100,000,000.
		require.NoError(t, l.Transfer(ctx, creator, "bob", 200_000))
		require.NoError(t, l.Deposit(ctx, "payer-x", 1_000_000))

		aliceDue, err := l.WithdrawableOf(creator)
		require.NoError(t, err)
		bobDue, err := l.WithdrawableOf("bob")
		require.NoError(t, err)

		assert.Equal(t, uint64(998_000), aliceDue)
		assert.Equal(t, uint64(2_000), bobDue)
		assert.Equal(t, uint64(1_000_000), aliceDue+bobDue, "no dust in this exact split")
	})

	t.Run("should be idempotent within a reconciliation epoch", func(t *testing.T) {
		l, payer, _ := newTestLedger(t)

		require.NoError(t, l.Deposit(ctx, "payer-x", 1_000))
		paid, err := l.Withdraw(ctx, creator, creator)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000), paid)

		// No intervening deposit: a second settlement yields nothing.
		_, err = l.Withdraw(ctx, creator, creator)
		assert.ErrorIs(t, err, stake.ErrNothingDue)
		assert.Len(t, payer.payments(), 1)
	})

	t.Run("should not credit new holders for past deposits", func(t *testing.T) {
		l, _, _ := newTestLedger(t)

		require.NoError(t, l.Deposit(ctx, "payer-x", 1_000_000))
		// carol first appears after the deposit.
		require.NoError(t, l.Transfer(ctx, creator, "carol", 50_000_000))

		carolDue, err := l.WithdrawableOf("carol")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), carolDue)

		aliceDue, err := l.WithdrawableOf(creator)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), aliceDue)
	})

	t.Run("should accrue across consecutive deposits", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		require.NoError(t, l.Transfer(ctx, creator, "bob", supply/2))

		require.NoError(t, l.Deposit(ctx, "payer-x", 100))
		require.NoError(t, l.Deposit(ctx, "payer-y", 300))

		bobDue, err := l.WithdrawableOf("bob")
		require.NoError(t, err)
		assert.Equal(t, uint64(200), bobDue)
	})

	t.Run("should leave truncation dust unattributed", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		// Three-way split of a deposit that does not divide evenly.
		require.NoError(t, l.Transfer(ctx, creator, "bob", supply/3))
		require.NoError(t, l.Transfer(ctx, creator, "carol", supply/3))
		require.NoError(t, l.Deposit(ctx, "payer-x", 100))

		var due uint64
		for _, acct := range []string{creator, "bob", "carol"} {
			d, err := l.WithdrawableOf(acct)
			require.NoError(t, err)
			due += d
		}
		assert.LessOrEqual(t, due, uint64(100))
		assert.GreaterOrEqual(t, due, uint64(98), "per-holder dust is bounded by one unit each")
	})
}

func TestConservationOfSupply(t *testing.T) {
	ctx := context.Background()

	t.Run("should hold fixed supply through arbitrary transfer sequences", func(t *testing.T) {
		l, _, _ := newTestLedger(t)

		steps := []struct {
			from, to string
			amount   uint64
		}{
			{creator, "bob", 1_000_000},
			{creator, "carol", 2_500_000},
			{"bob", "carol", 400_000},
			{"carol", "dave", 2_900_000},
			{"dave", creator, 1},
		}
		for _, s := range steps {
			require.NoError(t, l.Transfer(ctx, s.from, s.to, s.amount))
			assert.Equal(t, supply, totalBalance(l))
		}
	})
}

func TestWithdrawableOf(t *testing.T) {
	ctx := context.Background()

	t.Run("should see unreconciled deposits without mutating state", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		require.NoError(t, l.Deposit(ctx, "payer-x", 5_000))

		due, err := l.WithdrawableOf(creator)
		require.NoError(t, err)
		assert.Equal(t, uint64(5_000), due)

		// The real accumulator has not been advanced by the query.
		assert.Equal(t, uint64(0), l.CumulativeDeposits())
	})

	t.Run("should return zero for unknown accounts", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		due, err := l.WithdrawableOf("nobody")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), due)
	})
}

func TestReentrancyGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject nested transfer during withdrawal payout", func(t *testing.T) {
		l, payer, _ := newTestLedger(t)
		require.NoError(t, l.Deposit(ctx, "payer-x", 10_000))

		var nestedErr error
		payer.onPay = func(destination string, amount uint64) error {
			// The destination calls back into the ledger mid-payout.
			nestedErr = l.Transfer(ctx, creator, "mallory", 1)
			return nil
		}

		paid, err := l.Withdraw(ctx, creator, "alice-wallet")
		require.NoError(t, err, "outer withdrawal must complete once the nested call is rejected")
		assert.Equal(t, uint64(10_000), paid)
		assert.ErrorIs(t, nestedErr, stake.ErrReentrantCall)
		assert.Equal(t, uint64(0), l.BalanceOf("mallory"))
	})

	t.Run("should keep the deposit path open during payout", func(t *testing.T) {
		l, payer, _ := newTestLedger(t)
		require.NoError(t, l.Deposit(ctx, "payer-x", 10_000))

		var depositErr error
		payer.onPay = func(destination string, amount uint64) error {
			depositErr = l.Deposit(ctx, "refunder", 42)
			return nil
		}

		_, err := l.Withdraw(ctx, creator, "alice-wallet")
		require.NoError(t, err)
		assert.NoError(t, depositErr, "passive receive path is deliberately unguarded")
		assert.Equal(t, uint64(42), l.HeldBalance())
	})

	t.Run("should release the guard after a failed operation", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		err := l.Transfer(ctx, creator, creator, 1)
		require.ErrorIs(t, err, stake.ErrSelfTransfer)

		// Guard must not be stuck.
		require.NoError(t, l.Transfer(ctx, creator, "bob", 1))
	})
}
