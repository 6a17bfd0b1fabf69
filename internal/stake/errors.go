package stake

import "errors"

// Precondition violations. Every one of these aborts the triggering call
// with no partial state change.
var (
	ErrSelfTransfer          = errors.New("cannot transfer stake to self")
	ErrTransferToLedger      = errors.New("cannot transfer stake to the ledger itself")
	ErrZeroAmount            = errors.New("amount must be nonzero")
	ErrInsufficientBalance   = errors.New("insufficient stake balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNoStake               = errors.New("caller holds no stake")
	ErrUnknownAccount        = errors.New("unknown account")
	ErrNotController         = errors.New("caller is not the controlling account")
	ErrNotOrphaned           = errors.New("account is not orphaned")
	ErrNothingDue            = errors.New("no withdrawable value due")
	ErrAlreadySet            = errors.New("value is already set")
	ErrEmptyValue            = errors.New("value must be non-empty")
	ErrDepositsClosed        = errors.New("ledger is not accepting deposits")
	ErrTerminated            = errors.New("ledger has been terminated")
	ErrResidualTooLarge      = errors.New("unattributed residual value exceeds dust tolerance")
)

// ErrReentrantCall is returned to any nested call into a guarded entry
// point while another guarded operation is in progress.
var ErrReentrantCall = errors.New("reentrant call rejected")

// ErrExternalTransfer wraps a failure reported by the destination of an
// outgoing value transfer. The enclosing operation rolls back as a unit.
var ErrExternalTransfer = errors.New("external value transfer failed")
