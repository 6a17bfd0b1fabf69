package stake

import (
	"context"
	"fmt"

	"github.com/terminal-bench/paysplit/pkg/messaging"
	"github.com/terminal-bench/paysplit/pkg/valuemath"
)

// SetName assigns the ledger's name exactly once.
func (l *Ledger) SetName(ctx context.Context, caller, name string) error {
	return l.setLabel(ctx, caller, name, &l.name)
}

// SetSymbol assigns the ledger's symbol exactly once.
func (l *Ledger) SetSymbol(ctx context.Context, caller, symbol string) error {
	return l.setLabel(ctx, caller, symbol, &l.symbol)
}

func (l *Ledger) setLabel(ctx context.Context, caller, value string, field *string) error {
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.terminated {
		return ErrTerminated
	}
	if caller != l.controller {
		return ErrNotController
	}
	if value == "" {
		return ErrEmptyValue
	}
	if *field != "" {
		return ErrAlreadySet
	}
	*field = value
	return nil
}

// SetAcceptingDeposits opens or closes the passive receive path.
func (l *Ledger) SetAcceptingDeposits(ctx context.Context, caller string, accepting bool) error {
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.exit()

	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return ErrTerminated
	}
	if caller != l.controller {
		l.mu.Unlock()
		return ErrNotController
	}
	l.acceptingDeposits = accepting
	name := l.name
	l.mu.Unlock()

	l.publish(ctx, messaging.EventTypeDepositsGated, messaging.GateEvent{
		Ledger: name, Accepting: accepting,
	})
	return nil
}

// TransferControl hands the administrative role to another account.
func (l *Ledger) TransferControl(ctx context.Context, caller, to string) error {
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.exit()

	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return ErrTerminated
	}
	if caller != l.controller {
		l.mu.Unlock()
		return ErrNotController
	}
	if to == "" {
		l.mu.Unlock()
		return ErrEmptyValue
	}
	l.controller = to
	name := l.name
	l.mu.Unlock()

	l.publish(ctx, messaging.EventTypeControlTransferred, messaging.ControlEvent{
		Ledger: name, From: caller, To: to,
	})
	return nil
}

// ForwardCall delivers an arbitrary payload with attached value to a
// third-party target on the controller's behalf. The attached value is
// taken from the ledger's holdings and restored if delivery fails. Every
// forward is logged.
func (l *Ledger) ForwardCall(ctx context.Context, caller, target string, value uint64, payload []byte) error {
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.exit()

	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return ErrTerminated
	}
	if caller != l.controller {
		l.mu.Unlock()
		return ErrNotController
	}

	// Deposits land on held only; fold them in before checking whether
	// the observed balance covers the attached value.
	if err := l.reconcile(); err != nil {
		l.mu.Unlock()
		return err
	}

	if value > 0 {
		held, err := valuemath.Sub(l.held, value)
		if err != nil {
			l.mu.Unlock()
			return ErrInsufficientBalance
		}
		observed, err := valuemath.Sub(l.lastObservedBalance, value)
		if err != nil {
			l.mu.Unlock()
			return ErrInsufficientBalance
		}
		l.held = held
		l.lastObservedBalance = observed
	}
	name := l.name
	l.mu.Unlock()

	if err := l.forwarder.Forward(ctx, target, value, payload); err != nil {
		if value > 0 {
			l.mu.Lock()
			l.held += value
			l.lastObservedBalance += value
			l.mu.Unlock()
		}
		return fmt.Errorf("%w: %v", ErrExternalTransfer, err)
	}

	l.publish(ctx, messaging.EventTypeCallForwarded, messaging.ForwardEvent{
		Ledger: name, Target: target, Value: value, Bytes: len(payload),
	})
	return nil
}

// TransferForeignAsset moves a balance of a different token-like asset
// held by this ledger to a third party. Ledger accounting is untouched.
func (l *Ledger) TransferForeignAsset(ctx context.Context, caller, asset, to string, amount uint64) error {
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.exit()

	l.mu.RLock()
	terminated := l.terminated
	controller := l.controller
	name := l.name
	l.mu.RUnlock()

	if terminated {
		return ErrTerminated
	}
	if caller != controller {
		return ErrNotController
	}
	if amount == 0 {
		return ErrZeroAmount
	}

	if err := l.assets.TransferAsset(ctx, asset, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrExternalTransfer, err)
	}

	l.publish(ctx, messaging.EventTypeAssetTransferred, messaging.AssetEvent{
		Ledger: name, Asset: asset, To: to, Amount: amount,
	})
	return nil
}

// Terminate irrevocably tears the ledger down. Permitted only while the
// unattributed residual -- held value minus everything owed once every
// holder is settled -- stays below the dust tolerance of one unit per
// supply denomination. Settling every holder here is O(holders), a cost
// taken only on this one-shot administrative path.
func (l *Ledger) Terminate(ctx context.Context, caller string) error {
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.exit()

	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return ErrTerminated
	}
	if caller != l.controller {
		l.mu.Unlock()
		return ErrNotController
	}

	var owed uint64
	for _, h := range l.holders {
		if err := l.settle(h); err != nil {
			l.mu.Unlock()
			return err
		}
		total, err := valuemath.Add(owed, h.Unclaimed)
		if err != nil {
			l.mu.Unlock()
			return err
		}
		owed = total
	}

	residual, err := valuemath.Sub(l.held, owed)
	if err != nil {
		residual = 0
	}
	if residual >= l.fixedSupply {
		l.mu.Unlock()
		return ErrResidualTooLarge
	}

	l.terminated = true
	name := l.name
	l.mu.Unlock()

	l.publish(ctx, messaging.EventTypeLedgerTerminated, messaging.TerminationEvent{
		Ledger: name, Residual: residual,
	})
	return nil
}
