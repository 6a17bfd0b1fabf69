// Package stake implements a fixed-supply fractional-ownership ledger that
// splits pooled value payments across holders in proportion to their stake.
//
// Deposits are never fanned out to holders. A single monotonic accumulator
// records total value ever received, and each holder carries a snapshot of
// the accumulator at their last settlement; the difference times the
// holder's stake over the fixed supply is their claim. That keeps every
// operation O(1) in the number of holders.
package stake

import (
	"context"
	"sync"
	"time"

	"github.com/terminal-bench/paysplit/pkg/messaging"
	"github.com/terminal-bench/paysplit/pkg/valuemath"
)

// Payer performs an outgoing value transfer to an external destination.
type Payer interface {
	Pay(ctx context.Context, destination string, amount uint64) error
}

// Forwarder delivers an arbitrary administrative call with attached value.
type Forwarder interface {
	Forward(ctx context.Context, target string, value uint64, payload []byte) error
}

// AssetMover transfers a balance of a foreign token-like asset held by
// this ledger.
type AssetMover interface {
	TransferAsset(ctx context.Context, asset, to string, amount uint64) error
}

// RemoteLedger is another ledger instance in which this ledger holds stake.
type RemoteLedger interface {
	Withdraw(ctx context.Context, holder string) (uint64, error)
}

// Publisher emits ledger notifications for off-chain observers.
// *messaging.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Holder is one account's slice of the ledger. Records are created on
// first balance assignment and deleted on full reclamation.
type Holder struct {
	Balance      uint64
	Allowances   map[string]uint64
	LastSettled  uint64 // accumulator snapshot at last settlement
	LastActivity time.Time
	Unclaimed    uint64 // settled, withdrawable value
}

// HolderSnapshot is a read-only copy of a holder used by reporting.
type HolderSnapshot struct {
	Account   string
	Balance   uint64
	Unclaimed uint64
}

// Config configures a ledger instance.
type Config struct {
	// Address is the account identity of the ledger itself; transfers to
	// it are rejected and it is the holder identity used with PullFrom.
	Address string
	// Creator receives the entire fixed supply and initial control.
	Creator           string
	FixedSupply       uint64
	GracePeriod       time.Duration
	AcceptingDeposits bool

	Payer     Payer
	Forwarder Forwarder
	Assets    AssetMover
	Bus       Publisher
	Clock     func() time.Time
}

// Ledger is a single proportional-dividend ledger instance. All mutation
// is serialized; state-mutating entry points are additionally wrapped in
// the reentrancy guard.
type Ledger struct {
	address     string
	fixedSupply uint64
	gracePeriod time.Duration

	payer     Payer
	forwarder Forwarder
	assets    AssetMover
	bus       Publisher
	now       func() time.Time

	guard guard

	mu                  sync.RWMutex
	name                string
	symbol              string
	controller          string
	holders             map[string]*Holder
	cumulativeDeposits  uint64
	lastObservedBalance uint64
	held                uint64
	acceptingDeposits   bool
	terminated          bool
}

// New creates a ledger with the full fixed supply assigned to the creator.
func New(cfg Config) (*Ledger, error) {
	if cfg.FixedSupply == 0 {
		return nil, ErrZeroAmount
	}
	if cfg.Creator == "" {
		return nil, ErrUnknownAccount
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	l := &Ledger{
		address:           cfg.Address,
		fixedSupply:       cfg.FixedSupply,
		gracePeriod:       cfg.GracePeriod,
		payer:             cfg.Payer,
		forwarder:         cfg.Forwarder,
		assets:            cfg.Assets,
		bus:               cfg.Bus,
		now:               clock,
		controller:        cfg.Creator,
		holders:           make(map[string]*Holder),
		acceptingDeposits: cfg.AcceptingDeposits,
	}

	l.holders[cfg.Creator] = &Holder{
		Balance:      cfg.FixedSupply,
		Allowances:   make(map[string]uint64),
		LastActivity: clock(),
	}

	return l, nil
}

// reconcile folds any growth of the held balance that arrived outside the
// explicit deposit path into the cumulative accumulator. First step of
// every settlement, which makes the accumulator eventually consistent with
// the true balance at O(1) cost per operation.
func (l *Ledger) reconcile() error {
	if l.held <= l.lastObservedBalance {
		return nil
	}
	delta := l.held - l.lastObservedBalance
	cum, err := valuemath.Add(l.cumulativeDeposits, delta)
	if err != nil {
		return err
	}
	l.cumulativeDeposits = cum
	l.lastObservedBalance = l.held
	return nil
}

// settle crystallizes the holder's share of accumulator growth since their
// snapshot into withdrawable value. Idempotent within a reconciliation
// epoch. Must run before the holder's balance changes; that ordering is
// what keeps entitlements exact across transfers.
func (l *Ledger) settle(h *Holder) error {
	if err := l.reconcile(); err != nil {
		return err
	}

	growth := l.cumulativeDeposits - h.LastSettled
	if growth > 0 && h.Balance > 0 {
		share, err := valuemath.MulDiv(h.Balance, growth, l.fixedSupply)
		if err != nil {
			return err
		}
		unclaimed, err := valuemath.Add(h.Unclaimed, share)
		if err != nil {
			return err
		}
		h.Unclaimed = unclaimed
	}

	h.LastSettled = l.cumulativeDeposits
	h.LastActivity = l.now()
	return nil
}

// holderAt returns the record for account, creating it with a snapshot at
// the current accumulator so a new holder earns nothing from deposits that
// predate it.
func (l *Ledger) holderAt(account string) *Holder {
	h, ok := l.holders[account]
	if !ok {
		h = &Holder{
			Allowances:   make(map[string]uint64),
			LastSettled:  l.cumulativeDeposits,
			LastActivity: l.now(),
		}
		l.holders[account] = h
	}
	return h
}

// Deposit is the passive value-receiving path. It is not guarded: it only
// records the arrival, so re-entering it during an outgoing transfer is
// safe. The accumulator is reconciled lazily on the next settlement.
func (l *Ledger) Deposit(ctx context.Context, from string, amount uint64) error {
	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return ErrTerminated
	}
	if !l.acceptingDeposits {
		l.mu.Unlock()
		return ErrDepositsClosed
	}
	if amount == 0 {
		l.mu.Unlock()
		return ErrZeroAmount
	}

	held, err := valuemath.Add(l.held, amount)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.held = held
	name := l.name
	l.mu.Unlock()

	l.publish(ctx, messaging.EventTypeDepositReceived, messaging.DepositEvent{
		Ledger: name, From: from, Amount: amount, HeldBalance: held,
	})
	return nil
}

// ForceReceive records value that arrived without consent of the gate, the
// way a forced transfer lands on a contract regardless of its receive
// hook. Exercised by reconciliation.
func (l *Ledger) ForceReceive(amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, err := valuemath.Add(l.held, amount)
	if err != nil {
		return err
	}
	l.held = held
	return nil
}

func (l *Ledger) publish(ctx context.Context, subject string, data interface{}) {
	if l.bus == nil {
		return
	}
	// Notification failures never abort ledger operations.
	_ = l.bus.Publish(ctx, subject, data)
}

// Queries. All are non-mutating.

// TotalSupply returns the compile-time-fixed total ownership units.
func (l *Ledger) TotalSupply() uint64 {
	return l.fixedSupply
}

// Name returns the one-time-settable ledger name.
func (l *Ledger) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// Symbol returns the one-time-settable ledger symbol.
func (l *Ledger) Symbol() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.symbol
}

// Controller returns the current administrative account.
func (l *Ledger) Controller() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.controller
}

// Address returns the ledger's own account identity.
func (l *Ledger) Address() string {
	return l.address
}

// AcceptingDeposits reports whether the passive receive path is open.
func (l *Ledger) AcceptingDeposits() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.acceptingDeposits
}

// Terminated reports whether the ledger has been torn down.
func (l *Ledger) Terminated() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.terminated
}

// BalanceOf returns the stake of an account, zero for unknown accounts.
func (l *Ledger) BalanceOf(account string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if h, ok := l.holders[account]; ok {
		return h.Balance
	}
	return 0
}

// Allowance returns the remaining amount spender may move on behalf of
// owner.
func (l *Ledger) Allowance(owner, spender string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if h, ok := l.holders[owner]; ok {
		return h.Allowances[spender]
	}
	return 0
}

// WithdrawableOf returns settled plus currently-claimable value for an
// account, computed against a virtual reconciliation without mutating
// state.
func (l *Ledger) WithdrawableOf(account string) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	h, ok := l.holders[account]
	if !ok {
		return 0, nil
	}

	cum := l.cumulativeDeposits
	if l.held > l.lastObservedBalance {
		var err error
		cum, err = valuemath.Add(cum, l.held-l.lastObservedBalance)
		if err != nil {
			return 0, err
		}
	}

	pending := uint64(0)
	if growth := cum - h.LastSettled; growth > 0 && h.Balance > 0 {
		var err error
		pending, err = valuemath.MulDiv(h.Balance, growth, l.fixedSupply)
		if err != nil {
			return 0, err
		}
	}

	return valuemath.Add(h.Unclaimed, pending)
}

// CumulativeDeposits returns the monotonic total of value ever received,
// as of the last reconciliation.
func (l *Ledger) CumulativeDeposits() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cumulativeDeposits
}

// HeldBalance returns the ledger's total held value.
func (l *Ledger) HeldBalance() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.held
}

// HolderCount returns the number of live holder records.
func (l *Ledger) HolderCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.holders)
}

// Snapshot copies the holder table for reporting.
func (l *Ledger) Snapshot() []HolderSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]HolderSnapshot, 0, len(l.holders))
	for account, h := range l.holders {
		out = append(out, HolderSnapshot{
			Account:   account,
			Balance:   h.Balance,
			Unclaimed: h.Unclaimed,
		})
	}
	return out
}
