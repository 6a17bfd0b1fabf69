package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published on the ledger.> subject tree.
const (
	EventTypeDepositReceived = "ledger.deposit.received"
	EventTypeDepositsGated   = "ledger.deposit.gated"

	EventTypeStakeTransferred = "ledger.stake.transferred"
	EventTypeStakeApproved    = "ledger.stake.approved"

	EventTypeClaimWithdrawn = "ledger.claim.withdrawn"
	EventTypeWithdrawFailed = "ledger.claim.withdraw_failed"
	EventTypeValuePulled    = "ledger.claim.pulled"

	EventTypeAccountTouched = "ledger.account.touched"
	EventTypeStakeReclaimed = "ledger.account.reclaimed"

	EventTypeControlTransferred = "ledger.admin.control_transferred"
	EventTypeCallForwarded      = "ledger.admin.call_forwarded"
	EventTypeAssetTransferred   = "ledger.admin.asset_transferred"
	EventTypeLedgerTerminated   = "ledger.admin.terminated"

	EventTypeInstanceRegistered = "registry.instance.registered"
)

// Event is the base event structure.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Ledger    string          `json:"ledger"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Metadata  EventMetadata   `json:"metadata"`
}

// EventMetadata contains event metadata.
type EventMetadata struct {
	CorrelationID string `json:"correlation_id"`
	Source        string `json:"source"`
}

// DepositEvent records value received on the passive path.
type DepositEvent struct {
	Ledger      string `json:"ledger"`
	From        string `json:"from"`
	Amount      uint64 `json:"amount"`
	HeldBalance uint64 `json:"held_balance"`
}

// TransferEvent records a stake movement between two holders.
type TransferEvent struct {
	Ledger string `json:"ledger"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	// Spender is set when the transfer consumed an allowance.
	Spender string `json:"spender,omitempty"`
}

// ApprovalEvent records an allowance grant.
type ApprovalEvent struct {
	Ledger  string `json:"ledger"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  uint64 `json:"amount"`
}

// WithdrawalEvent records a payout of settled value.
type WithdrawalEvent struct {
	Ledger      string `json:"ledger"`
	Holder      string `json:"holder"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
	Failed      bool   `json:"failed,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// TouchEvent records an activity refresh on an account.
type TouchEvent struct {
	Ledger      string    `json:"ledger"`
	Account     string    `json:"account"`
	By          string    `json:"by"`
	ActiveUntil time.Time `json:"active_until"`
}

// ReclaimEvent carries both the stake and the value salvaged from an
// orphaned account.
type ReclaimEvent struct {
	Ledger         string `json:"ledger"`
	Orphan         string `json:"orphan"`
	Claimant       string `json:"claimant"`
	StakeReclaimed uint64 `json:"stake_reclaimed"`
	ValueReclaimed uint64 `json:"value_reclaimed"`
}

// ControlEvent records an administrative-control transfer.
type ControlEvent struct {
	Ledger string `json:"ledger"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ForwardEvent logs an administrative forwarded call.
type ForwardEvent struct {
	Ledger string `json:"ledger"`
	Target string `json:"target"`
	Value  uint64 `json:"value"`
	Bytes  int    `json:"bytes"`
}

// AssetEvent logs an administrative foreign-asset transfer.
type AssetEvent struct {
	Ledger string `json:"ledger"`
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// TerminationEvent records the irrevocable teardown of a ledger.
type TerminationEvent struct {
	Ledger   string `json:"ledger"`
	Residual uint64 `json:"residual"`
}

// GateEvent records a change to the deposit gate.
type GateEvent struct {
	Ledger    string `json:"ledger"`
	Accepting bool   `json:"accepting"`
}

// InstanceEvent announces a newly registered ledger instance.
type InstanceEvent struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Creator  string `json:"creator"`
	Endpoint string `json:"endpoint"`
}
