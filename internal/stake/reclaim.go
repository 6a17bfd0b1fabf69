package stake

import (
	"context"
	"time"

	"github.com/terminal-bench/paysplit/pkg/messaging"
	"github.com/terminal-bench/paysplit/pkg/valuemath"
)

// OrphanDeadline returns the instant after which the account becomes
// reclaimable.
func (l *Ledger) OrphanDeadline(account string) (time.Time, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	h, ok := l.holders[account]
	if !ok {
		return time.Time{}, ErrUnknownAccount
	}
	return h.LastActivity.Add(l.gracePeriod), nil
}

// IsOrphaned reports whether the account's grace period has elapsed.
func (l *Ledger) IsOrphaned(account string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isOrphanedLocked(account)
}

func (l *Ledger) isOrphanedLocked(account string) (bool, error) {
	h, ok := l.holders[account]
	if !ok {
		return false, ErrUnknownAccount
	}
	return l.now().After(h.LastActivity.Add(l.gracePeriod)), nil
}

// Touch refreshes an account's activity time on its behalf, resetting the
// orphan clock without a balance-affecting operation. Any holder with
// nonzero stake may touch any account.
func (l *Ledger) Touch(ctx context.Context, caller, account string) error {
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.exit()

	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return ErrTerminated
	}
	c, ok := l.holders[caller]
	if !ok || c.Balance == 0 {
		l.mu.Unlock()
		return ErrNoStake
	}
	h, ok := l.holders[account]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownAccount
	}
	h.LastActivity = l.now()
	deadline := h.LastActivity.Add(l.gracePeriod)
	name := l.name
	l.mu.Unlock()

	l.publish(ctx, messaging.EventTypeAccountTouched, messaging.TouchEvent{
		Ledger: name, Account: account, By: caller, ActiveUntil: deadline,
	})
	return nil
}

// Reclaim reassigns an orphaned account's stake and accrued value to the
// caller and deletes the record. If administrative control itself has gone
// orphaned, control cascades to the caller first; after that only the
// controlling account may reclaim.
func (l *Ledger) Reclaim(ctx context.Context, caller, orphan string) error {
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.exit()

	l.mu.Lock()
	res, err := l.reclaimLocked(caller, orphan)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	if res.controlMoved {
		l.publish(ctx, messaging.EventTypeControlTransferred, messaging.ControlEvent{
			Ledger: res.name, From: res.previousController, To: caller,
		})
	}
	l.publish(ctx, messaging.EventTypeStakeReclaimed, messaging.ReclaimEvent{
		Ledger:         res.name,
		Orphan:         orphan,
		Claimant:       caller,
		StakeReclaimed: res.stake,
		ValueReclaimed: res.value,
	})
	return nil
}

type reclaimOutcome struct {
	name               string
	stake              uint64
	value              uint64
	controlMoved       bool
	previousController string
}

func (l *Ledger) reclaimLocked(caller, orphan string) (out reclaimOutcome, err error) {
	if l.terminated {
		return out, ErrTerminated
	}
	if caller == orphan {
		return out, ErrSelfTransfer
	}

	// A controller with no holder record has no activity to measure, so
	// control is treated as abandoned too.
	controllerOrphaned, err := l.isOrphanedLocked(l.controller)
	if err == ErrUnknownAccount {
		controllerOrphaned = true
	} else if err != nil {
		return out, err
	}
	if controllerOrphaned && caller != l.controller {
		out.controlMoved = true
		out.previousController = l.controller
		l.controller = caller
	}
	defer func() {
		// The cascade is part of the same atomic operation; a failed
		// reclaim must not leave control moved.
		if err != nil && out.controlMoved {
			l.controller = out.previousController
			out.controlMoved = false
		}
	}()

	if caller != l.controller {
		return out, ErrNotController
	}

	orphaned, err := l.isOrphanedLocked(orphan)
	if err != nil {
		return out, err
	}
	if !orphaned {
		return out, ErrNotOrphaned
	}

	target := l.holders[orphan]
	if err := l.settle(target); err != nil {
		return out, err
	}

	out.stake = target.Balance
	out.value = target.Unclaimed

	// The claimant inherits through the normal settlement path so their
	// own pending share is crystallized before their balance grows.
	if out.stake > 0 {
		if err := l.moveStake(orphan, caller, out.stake); err != nil {
			return out, err
		}
	}
	if out.value > 0 {
		claimant := l.holderAt(caller)
		unclaimed, err := valuemath.Add(claimant.Unclaimed, out.value)
		if err != nil {
			return out, err
		}
		claimant.Unclaimed = unclaimed
	}

	delete(l.holders, orphan)
	out.name = l.name
	return out, nil
}
