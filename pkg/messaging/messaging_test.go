package messaging_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/paysplit/pkg/messaging"
)

func TestEventWire(t *testing.T) {
	t.Run("should marshal deposit events with stable field names", func(t *testing.T) {
		payload, err := json.Marshal(messaging.DepositEvent{
			Ledger: "ledger-1", From: "payer-x", Amount: 1_000, HeldBalance: 1_000,
		})
		require.NoError(t, err)

		assert.JSONEq(t,
			`{"ledger":"ledger-1","from":"payer-x","amount":1000,"held_balance":1000}`,
			string(payload))
	})

	t.Run("should omit failure fields on successful withdrawals", func(t *testing.T) {
		payload, err := json.Marshal(messaging.WithdrawalEvent{
			Ledger: "ledger-1", Holder: "alice", Destination: "alice", Amount: 75,
		})
		require.NoError(t, err)

		assert.NotContains(t, string(payload), "failed")
		assert.NotContains(t, string(payload), "reason")
	})

	t.Run("should carry failure fields on rejected withdrawals", func(t *testing.T) {
		payload, err := json.Marshal(messaging.WithdrawalEvent{
			Ledger: "ledger-1", Holder: "alice", Destination: "alice",
			Failed: true, Reason: "destination unreachable",
		})
		require.NoError(t, err)

		var decoded messaging.WithdrawalEvent
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.True(t, decoded.Failed)
		assert.Equal(t, "destination unreachable", decoded.Reason)
	})

	t.Run("should mark spender only on allowance-consuming transfers", func(t *testing.T) {
		direct, err := json.Marshal(messaging.TransferEvent{
			Ledger: "ledger-1", From: "alice", To: "bob", Amount: 250,
		})
		require.NoError(t, err)
		assert.NotContains(t, string(direct), "spender")

		delegated, err := json.Marshal(messaging.TransferEvent{
			Ledger: "ledger-1", From: "alice", To: "bob", Amount: 250, Spender: "carol",
		})
		require.NoError(t, err)
		assert.Contains(t, string(delegated), `"spender":"carol"`)
	})
}

func TestSubjectTree(t *testing.T) {
	t.Run("should keep every subject under the observed trees", func(t *testing.T) {
		// Observers queue-subscribe to ledger.> and registry.>; a subject
		// outside those trees is silently never consumed.
		subjects := []string{
			messaging.EventTypeDepositReceived,
			messaging.EventTypeDepositsGated,
			messaging.EventTypeStakeTransferred,
			messaging.EventTypeStakeApproved,
			messaging.EventTypeClaimWithdrawn,
			messaging.EventTypeWithdrawFailed,
			messaging.EventTypeValuePulled,
			messaging.EventTypeAccountTouched,
			messaging.EventTypeStakeReclaimed,
			messaging.EventTypeControlTransferred,
			messaging.EventTypeCallForwarded,
			messaging.EventTypeAssetTransferred,
			messaging.EventTypeLedgerTerminated,
			messaging.EventTypeInstanceRegistered,
		}

		seen := make(map[string]bool, len(subjects))
		for _, s := range subjects {
			assert.True(t,
				strings.HasPrefix(s, "ledger.") || strings.HasPrefix(s, "registry."),
				"subject %q outside the consumed trees", s)
			assert.False(t, seen[s], "duplicate subject %q", s)
			seen[s] = true
		}
	})
}

func TestClientWithoutConnection(t *testing.T) {
	t.Run("should reject publish when never connected", func(t *testing.T) {
		var c messaging.Client
		err := c.Publish(context.Background(), messaging.EventTypeDepositReceived,
			messaging.DepositEvent{Ledger: "ledger-1", Amount: 1})
		assert.Error(t, err)
	})

	t.Run("should reject drain when never connected", func(t *testing.T) {
		var c messaging.Client
		assert.Error(t, c.Drain())
	})

	t.Run("should report disconnected", func(t *testing.T) {
		var c messaging.Client
		assert.False(t, c.IsConnected())
	})

	t.Run("should reject unsubscribing an unknown subject", func(t *testing.T) {
		var c messaging.Client
		assert.Error(t, c.Unsubscribe("ledger.>"))
	})

	t.Run("should close cleanly with nothing open", func(t *testing.T) {
		var c messaging.Client
		assert.NoError(t, c.Close())
	})
}
