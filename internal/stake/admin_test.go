package stake_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/paysplit/internal/stake"
)

func TestSetNameAndSymbol(t *testing.T) {
	ctx := context.Background()

	t.Run("should set each label exactly once", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		require.NoError(t, l.SetName(ctx, creator, "Dividend Pool"))
		require.NoError(t, l.SetSymbol(ctx, creator, "DVP"))

		assert.Equal(t, "Dividend Pool", l.Name())
		assert.Equal(t, "DVP", l.Symbol())

		assert.ErrorIs(t, l.SetName(ctx, creator, "Other"), stake.ErrAlreadySet)
		assert.ErrorIs(t, l.SetSymbol(ctx, creator, "OTH"), stake.ErrAlreadySet)
	})

	t.Run("should reject empty labels", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		assert.ErrorIs(t, l.SetName(ctx, creator, ""), stake.ErrEmptyValue)
	})

	t.Run("should reject non-controller", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		assert.ErrorIs(t, l.SetName(ctx, "mallory", "X"), stake.ErrNotController)
	})
}

func TestTransferControl(t *testing.T) {
	ctx := context.Background()

	t.Run("should hand the administrative role over", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		require.NoError(t, l.TransferControl(ctx, creator, "bob"))
		assert.Equal(t, "bob", l.Controller())

		// Old controller lost admin rights.
		assert.ErrorIs(t, l.SetAcceptingDeposits(ctx, creator, false), stake.ErrNotController)
	})
}

type fakeForwarder struct {
	err     error
	target  string
	value   uint64
	payload []byte
}

func (f *fakeForwarder) Forward(ctx context.Context, target string, value uint64, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.target, f.value, f.payload = target, value, payload
	return nil
}

func TestForwardCall(t *testing.T) {
	ctx := context.Background()

	newLedgerWithForwarder := func(t *testing.T, fwd stake.Forwarder) *stake.Ledger {
		t.Helper()
		l, err := stake.New(stake.Config{
			Address:           "ledger-1",
			Creator:           creator,
			FixedSupply:       supply,
			GracePeriod:       grace,
			AcceptingDeposits: true,
			Payer:             &fakePayer{},
			Forwarder:         fwd,
		})
		require.NoError(t, err)
		return l
	}

	t.Run("should deliver payload with attached value", func(t *testing.T) {
		fwd := &fakeForwarder{}
		l := newLedgerWithForwarder(t, fwd)
		require.NoError(t, l.Deposit(ctx, "payer-x", 1_000))

		require.NoError(t, l.ForwardCall(ctx, creator, "target-svc", 400, []byte(`{"op":"ping"}`)))
		assert.Equal(t, "target-svc", fwd.target)
		assert.Equal(t, uint64(400), fwd.value)
		assert.Equal(t, uint64(600), l.HeldBalance())
	})

	t.Run("should restore value when delivery fails", func(t *testing.T) {
		fwd := &fakeForwarder{err: errors.New("target unreachable")}
		l := newLedgerWithForwarder(t, fwd)
		require.NoError(t, l.Deposit(ctx, "payer-x", 1_000))

		err := l.ForwardCall(ctx, creator, "target-svc", 400, nil)
		assert.ErrorIs(t, err, stake.ErrExternalTransfer)
		assert.Equal(t, uint64(1_000), l.HeldBalance())
	})

	t.Run("should reject attached value above holdings", func(t *testing.T) {
		fwd := &fakeForwarder{}
		l := newLedgerWithForwarder(t, fwd)

		err := l.ForwardCall(ctx, creator, "target-svc", 1, nil)
		assert.ErrorIs(t, err, stake.ErrInsufficientBalance)
	})
}

type fakeAssetMover struct {
	err    error
	moved  []string
	amount uint64
}

func (m *fakeAssetMover) TransferAsset(ctx context.Context, asset, to string, amount uint64) error {
	if m.err != nil {
		return m.err
	}
	m.moved = append(m.moved, asset+"->"+to)
	m.amount = amount
	return nil
}

func TestTransferForeignAsset(t *testing.T) {
	ctx := context.Background()

	t.Run("should move a foreign asset without touching ledger state", func(t *testing.T) {
		mover := &fakeAssetMover{}
		l, err := stake.New(stake.Config{
			Address:     "ledger-1",
			Creator:     creator,
			FixedSupply: supply,
			GracePeriod: grace,
			Assets:      mover,
		})
		require.NoError(t, err)

		require.NoError(t, l.TransferForeignAsset(ctx, creator, "OTHERTOKEN", "bob", 55))
		assert.Equal(t, []string{"OTHERTOKEN->bob"}, mover.moved)
		assert.Equal(t, uint64(0), l.HeldBalance())
		assert.Equal(t, supply, l.BalanceOf(creator))
	})
}

func TestTerminate(t *testing.T) {
	ctx := context.Background()

	t.Run("should terminate once residual dust is within tolerance", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		require.NoError(t, l.Deposit(ctx, "payer-x", 1_000_000))
		_, err := l.Withdraw(ctx, creator, "alice-wallet")
		require.NoError(t, err)

		require.NoError(t, l.Terminate(ctx, creator))
		assert.True(t, l.Terminated())
	})

	t.Run("should reject teardown while residual dust exceeds tolerance", func(t *testing.T) {
		// Tiny supply so truncation dust can outgrow the tolerance bound.
		l, err := stake.New(stake.Config{
			Address:           "ledger-1",
			Creator:           creator,
			FixedSupply:       10,
			GracePeriod:       grace,
			AcceptingDeposits: true,
			Payer:             &fakePayer{},
		})
		require.NoError(t, err)
		require.NoError(t, l.Transfer(ctx, creator, "bob", 3))
		require.NoError(t, l.Transfer(ctx, creator, "carol", 3))

		// Each one-unit deposit truncates to a zero share for everyone,
		// and settling per epoch strands the whole unit as dust.
		for i := 0; i < 12; i++ {
			require.NoError(t, l.Deposit(ctx, "payer-x", 1))
			results, werr := l.WithdrawMany(ctx, []string{creator, "bob", "carol"})
			require.NoError(t, werr)
			for _, res := range results {
				assert.Equal(t, stake.ErrNothingDue.Error(), res.Err)
			}
		}

		assert.ErrorIs(t, l.Terminate(ctx, creator), stake.ErrResidualTooLarge)
	})

	t.Run("should reject mutations after termination", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		require.NoError(t, l.Terminate(ctx, creator))

		assert.ErrorIs(t, l.Transfer(ctx, creator, "bob", 1), stake.ErrTerminated)
		assert.ErrorIs(t, l.Deposit(ctx, "payer-x", 1), stake.ErrTerminated)
		_, err := l.Withdraw(ctx, creator, "alice-wallet")
		assert.ErrorIs(t, err, stake.ErrTerminated)
	})

	t.Run("should require the controller", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		assert.ErrorIs(t, l.Terminate(ctx, "mallory"), stake.ErrNotController)
	})
}
