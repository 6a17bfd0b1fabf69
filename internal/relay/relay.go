// Package relay implements the pull-payment collaborators that share the
// ledger's withdrawal contract without its proportional accounting: an
// invoice channel paying a single destination, a passcode-gated locker, and
// a linear drip stream. Value accumulates passively and leaves only when a
// party asks for it.
package relay

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/terminal-bench/paysplit/internal/stake"
	"github.com/terminal-bench/paysplit/pkg/valuemath"
)

var (
	ErrNothingDue  = errors.New("relay: nothing due")
	ErrWrongParty  = errors.New("relay: caller is not a party to this relay")
	ErrBadPasscode = errors.New("relay: passcode does not match")
	ErrClosed      = errors.New("relay: relay is closed")
)

// Withdrawable is the contract every relay shares with the ledger: report
// what an account could pull right now, and pull it.
type Withdrawable interface {
	WithdrawableOf(account string) uint64
	Withdraw(ctx context.Context, account string) (uint64, error)
}

// InvoiceChannel accumulates deposits owed to a single payee. Anyone may
// trigger the payout; the value always goes to the payee.
type InvoiceChannel struct {
	payee string
	payer stake.Payer

	mu   sync.Mutex
	held uint64
}

// NewInvoiceChannel creates a channel paying payee.
func NewInvoiceChannel(payee string, payer stake.Payer) *InvoiceChannel {
	return &InvoiceChannel{payee: payee, payer: payer}
}

// Deposit records incoming value. Zero deposits are rejected.
func (ic *InvoiceChannel) Deposit(amount uint64) error {
	if amount == 0 {
		return stake.ErrZeroAmount
	}
	ic.mu.Lock()
	ic.held += amount
	ic.mu.Unlock()
	return nil
}

// WithdrawableOf reports the accumulated balance. Only the payee has a
// claim; every other account sees zero.
func (ic *InvoiceChannel) WithdrawableOf(account string) uint64 {
	if account != ic.payee {
		return 0
	}
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.held
}

// Withdraw pays out the full accumulated balance to the payee. The held
// balance is restored if the external transfer fails.
func (ic *InvoiceChannel) Withdraw(ctx context.Context, account string) (uint64, error) {
	if account != ic.payee {
		return 0, ErrWrongParty
	}

	ic.mu.Lock()
	owed := ic.held
	if owed == 0 {
		ic.mu.Unlock()
		return 0, ErrNothingDue
	}
	ic.held = 0
	ic.mu.Unlock()

	if err := ic.payer.Pay(ctx, ic.payee, owed); err != nil {
		ic.mu.Lock()
		ic.held += owed
		ic.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", stake.ErrExternalTransfer, err)
	}
	return owed, nil
}

// PasscodeLocker holds deposited value behind a passcode digest. Whoever
// presents the matching passcode claims the whole balance, once.
type PasscodeLocker struct {
	digest string
	payer  stake.Payer

	mu     sync.Mutex
	held   uint64
	closed bool
}

// Digest computes the hex digest a locker is keyed on. The plain passcode
// never needs to be stored anywhere.
func Digest(passcode string) string {
	sum := sha256.Sum256([]byte(passcode))
	return hex.EncodeToString(sum[:])
}

// NewPasscodeLocker creates a locker gated on the given digest.
func NewPasscodeLocker(digest string, payer stake.Payer) *PasscodeLocker {
	return &PasscodeLocker{digest: digest, payer: payer}
}

// Deposit records incoming value. A claimed locker accepts nothing further.
func (pl *PasscodeLocker) Deposit(amount uint64) error {
	if amount == 0 {
		return stake.ErrZeroAmount
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.closed {
		return ErrClosed
	}
	pl.held += amount
	return nil
}

// WithdrawableOf reports the locked balance. The locker cannot know who
// holds the passcode, so the balance is visible to any account.
func (pl *PasscodeLocker) WithdrawableOf(account string) uint64 {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.closed {
		return 0
	}
	return pl.held
}

// Withdraw satisfies Withdrawable but a locker cannot release value on
// identity alone.
func (pl *PasscodeLocker) Withdraw(ctx context.Context, account string) (uint64, error) {
	return 0, ErrBadPasscode
}

// Claim releases the full balance to destination if passcode matches the
// digest. The comparison is constant-time. A successful claim closes the
// locker; a failed external transfer reopens it.
func (pl *PasscodeLocker) Claim(ctx context.Context, passcode, destination string) (uint64, error) {
	presented := Digest(passcode)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(pl.digest)) != 1 {
		return 0, ErrBadPasscode
	}

	pl.mu.Lock()
	if pl.closed {
		pl.mu.Unlock()
		return 0, ErrClosed
	}
	owed := pl.held
	if owed == 0 {
		pl.mu.Unlock()
		return 0, ErrNothingDue
	}
	pl.held = 0
	pl.closed = true
	pl.mu.Unlock()

	if err := pl.payer.Pay(ctx, destination, owed); err != nil {
		pl.mu.Lock()
		pl.held = owed
		pl.closed = false
		pl.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", stake.ErrExternalTransfer, err)
	}
	return owed, nil
}

// DripStream vests a fixed deposit toward a beneficiary at a linear rate
// between start and end. The beneficiary may withdraw the vested portion at
// any time; withdrawals never exceed what the elapsed time has released.
type DripStream struct {
	beneficiary string
	payer       stake.Payer
	clock       func() time.Time

	total uint64
	start time.Time
	end   time.Time

	mu       sync.Mutex
	released uint64
}

// NewDripStream creates a stream releasing total to beneficiary linearly
// over [start, end]. A nil clock means wall time.
func NewDripStream(beneficiary string, total uint64, start, end time.Time, payer stake.Payer, clock func() time.Time) (*DripStream, error) {
	if total == 0 {
		return nil, stake.ErrZeroAmount
	}
	if !end.After(start) {
		return nil, errors.New("relay: stream must end after it starts")
	}
	if clock == nil {
		clock = time.Now
	}
	return &DripStream{
		beneficiary: beneficiary,
		payer:       payer,
		clock:       clock,
		total:       total,
		start:       start,
		end:         end,
	}, nil
}

// vestedAt returns how much of the total the stream has released by t,
// truncating fractional units.
func (ds *DripStream) vestedAt(t time.Time) uint64 {
	if !t.After(ds.start) {
		return 0
	}
	if !t.Before(ds.end) {
		return ds.total
	}
	elapsed := uint64(t.Sub(ds.start))
	window := uint64(ds.end.Sub(ds.start))
	// elapsed < window here, so total*elapsed/window cannot overflow.
	vested, _ := valuemath.MulDiv(ds.total, elapsed, window)
	return vested
}

// WithdrawableOf reports the vested, not yet withdrawn portion.
func (ds *DripStream) WithdrawableOf(account string) uint64 {
	if account != ds.beneficiary {
		return 0
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.vestedAt(ds.clock()) - ds.released
}

// Withdraw pays the beneficiary everything vested since the last call.
func (ds *DripStream) Withdraw(ctx context.Context, account string) (uint64, error) {
	if account != ds.beneficiary {
		return 0, ErrWrongParty
	}

	ds.mu.Lock()
	due := ds.vestedAt(ds.clock()) - ds.released
	if due == 0 {
		ds.mu.Unlock()
		return 0, ErrNothingDue
	}
	ds.released += due
	ds.mu.Unlock()

	if err := ds.payer.Pay(ctx, ds.beneficiary, due); err != nil {
		ds.mu.Lock()
		ds.released -= due
		ds.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", stake.ErrExternalTransfer, err)
	}
	return due, nil
}
