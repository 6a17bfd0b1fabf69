package stake

import (
	"context"
	"fmt"

	"github.com/terminal-bench/paysplit/pkg/messaging"
	"github.com/terminal-bench/paysplit/pkg/valuemath"
)

// WithdrawalResult reports the outcome of one entry in a batch withdrawal.
type WithdrawalResult struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
	Err     string `json:"error,omitempty"`
}

// Withdraw settles the holder and pays out their unclaimed value to the
// destination. Bookkeeping is updated before the external transfer
// (checks-effects-interactions); if the destination rejects the transfer
// the whole operation rolls back and the value stays owed.
func (l *Ledger) Withdraw(ctx context.Context, holder, destination string) (uint64, error) {
	if err := l.guard.enter(); err != nil {
		return 0, err
	}
	defer l.guard.exit()

	return l.withdraw(ctx, holder, destination)
}

// WithdrawMany pays out each listed holder to themselves. The batch is
// best-effort: one failing destination does not prevent processing of the
// others, and each entry's outcome is reported independently.
func (l *Ledger) WithdrawMany(ctx context.Context, holders []string) ([]WithdrawalResult, error) {
	if err := l.guard.enter(); err != nil {
		return nil, err
	}
	defer l.guard.exit()

	results := make([]WithdrawalResult, 0, len(holders))
	for _, account := range holders {
		amount, err := l.withdraw(ctx, account, account)
		res := WithdrawalResult{Account: account, Amount: amount}
		if err != nil {
			res.Err = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

// PullFrom withdraws the value this ledger is owed as a holder of stake in
// a remote instance. The guard stays held for the entire remote call since
// an arbitrary external party is being invoked; the pulled value lands on
// the unguarded deposit path and is reconciled lazily.
func (l *Ledger) PullFrom(ctx context.Context, remote RemoteLedger) (uint64, error) {
	if err := l.guard.enter(); err != nil {
		return 0, err
	}
	defer l.guard.exit()

	l.mu.RLock()
	terminated := l.terminated
	name := l.name
	l.mu.RUnlock()
	if terminated {
		return 0, ErrTerminated
	}

	amount, err := remote.Withdraw(ctx, l.address)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExternalTransfer, err)
	}

	l.publish(ctx, messaging.EventTypeValuePulled, messaging.WithdrawalEvent{
		Ledger: name, Holder: l.address, Destination: l.address, Amount: amount,
	})
	return amount, nil
}

// withdraw runs with the guard already held.
func (l *Ledger) withdraw(ctx context.Context, holder, destination string) (uint64, error) {
	l.mu.Lock()

	if l.terminated {
		l.mu.Unlock()
		return 0, ErrTerminated
	}

	h, ok := l.holders[holder]
	if !ok {
		l.mu.Unlock()
		return 0, ErrUnknownAccount
	}

	if err := l.settle(h); err != nil {
		l.mu.Unlock()
		return 0, err
	}

	amount := h.Unclaimed
	if amount == 0 {
		l.mu.Unlock()
		return 0, ErrNothingDue
	}

	// Effects before the interaction: zero the claim and shrink both
	// balance counters so a reconcile triggered mid-payout cannot see the
	// outgoing value as a fresh deposit.
	held, err := valuemath.Sub(l.held, amount)
	if err != nil {
		l.mu.Unlock()
		return 0, err
	}
	observed, err := valuemath.Sub(l.lastObservedBalance, amount)
	if err != nil {
		l.mu.Unlock()
		return 0, err
	}
	h.Unclaimed = 0
	l.held = held
	l.lastObservedBalance = observed
	name := l.name
	l.mu.Unlock()

	if err := l.payer.Pay(ctx, destination, amount); err != nil {
		// Atomic abort: restore every bookkeeping change of this call.
		l.mu.Lock()
		h.Unclaimed = amount
		l.held += amount
		l.lastObservedBalance += amount
		l.mu.Unlock()

		l.publish(ctx, messaging.EventTypeWithdrawFailed, messaging.WithdrawalEvent{
			Ledger: name, Holder: holder, Destination: destination,
			Amount: amount, Failed: true, Reason: err.Error(),
		})
		return 0, fmt.Errorf("%w: %v", ErrExternalTransfer, err)
	}

	l.publish(ctx, messaging.EventTypeClaimWithdrawn, messaging.WithdrawalEvent{
		Ledger: name, Holder: holder, Destination: destination, Amount: amount,
	})
	return amount, nil
}
