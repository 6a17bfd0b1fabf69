package stake

import (
	"context"

	"github.com/terminal-bench/paysplit/pkg/messaging"
	"github.com/terminal-bench/paysplit/pkg/valuemath"
)

// Transfer moves ownership units from one holder to another. Both parties
// are settled first so each keeps the exact entitlement earned under their
// prior balance.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.exit()

	l.mu.Lock()
	name, err := l.transferLocked(from, to, amount)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.publish(ctx, messaging.EventTypeStakeTransferred, messaging.TransferEvent{
		Ledger: name, From: from, To: to, Amount: amount,
	})
	return nil
}

// TransferFrom moves ownership units on behalf of the owner, consuming the
// spender's allowance before the stake moves.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to string, amount uint64) error {
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.exit()

	l.mu.Lock()
	name, err := l.transferFromLocked(spender, from, to, amount)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.publish(ctx, messaging.EventTypeStakeTransferred, messaging.TransferEvent{
		Ledger: name, From: from, To: to, Amount: amount, Spender: spender,
	})
	return nil
}

// Approve sets spender's allowance over owner's stake. The grant is an
// unconditional overwrite, not a delta; callers worried about the classic
// allowance race must set it to zero first.
func (l *Ledger) Approve(ctx context.Context, owner, spender string, amount uint64) error {
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.exit()

	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return ErrTerminated
	}
	h, ok := l.holders[owner]
	if !ok || h.Balance == 0 {
		l.mu.Unlock()
		return ErrNoStake
	}
	h.Allowances[spender] = amount
	name := l.name
	l.mu.Unlock()

	l.publish(ctx, messaging.EventTypeStakeApproved, messaging.ApprovalEvent{
		Ledger: name, Owner: owner, Spender: spender, Amount: amount,
	})
	return nil
}

func (l *Ledger) transferFromLocked(spender, from, to string, amount uint64) (string, error) {
	if err := l.checkTransfer(from, to, amount); err != nil {
		return "", err
	}

	h := l.holders[from]
	allowance := h.Allowances[spender]
	if amount > allowance {
		return "", ErrInsufficientAllowance
	}

	if err := l.moveStake(from, to, amount); err != nil {
		return "", err
	}
	h.Allowances[spender] = allowance - amount
	return l.name, nil
}

func (l *Ledger) transferLocked(from, to string, amount uint64) (string, error) {
	if err := l.checkTransfer(from, to, amount); err != nil {
		return "", err
	}
	if err := l.moveStake(from, to, amount); err != nil {
		return "", err
	}
	return l.name, nil
}

func (l *Ledger) checkTransfer(from, to string, amount uint64) error {
	if l.terminated {
		return ErrTerminated
	}
	if from == to {
		return ErrSelfTransfer
	}
	if to == l.address {
		return ErrTransferToLedger
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	h, ok := l.holders[from]
	if !ok {
		return ErrUnknownAccount
	}
	if amount > h.Balance {
		return ErrInsufficientBalance
	}
	return nil
}

// moveStake is the only routine that changes balances. It settles both
// parties before touching either balance, so a raw balance setter never
// exists to be misused.
func (l *Ledger) moveStake(from, to string, amount uint64) error {
	src := l.holders[from]
	dst := l.holderAt(to)

	if err := l.settle(src); err != nil {
		return err
	}
	if err := l.settle(dst); err != nil {
		return err
	}

	srcBal, err := valuemath.Sub(src.Balance, amount)
	if err != nil {
		return err
	}
	dstBal, err := valuemath.Add(dst.Balance, amount)
	if err != nil {
		return err
	}

	src.Balance = srcBal
	dst.Balance = dstBal
	return nil
}
