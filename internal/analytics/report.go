// Package analytics renders decimal reports over the integer accounting
// core: ownership percentages, distribution efficiency, and dust. The
// ledger itself never leaves uint64 arithmetic; everything here is
// presentation.
package analytics

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/terminal-bench/paysplit/internal/stake"
	"github.com/terminal-bench/paysplit/pkg/valuemath"
)

// HolderReport describes one holder's position.
type HolderReport struct {
	Account      string          `json:"account"`
	Balance      uint64          `json:"balance"`
	OwnershipPct decimal.Decimal `json:"ownership_pct"`
	Withdrawable uint64          `json:"withdrawable"`
}

// Report is a point-in-time view of a ledger's distribution.
type Report struct {
	Ledger             string         `json:"ledger"`
	FixedSupply        uint64         `json:"fixed_supply"`
	CumulativeDeposits uint64         `json:"cumulative_deposits"`
	HeldBalance        uint64         `json:"held_balance"`
	Holders            []HolderReport `json:"holders"`
	// DistributionPct is how much of every deposited unit has been paid
	// out already: (cumulative - held) / cumulative.
	DistributionPct decimal.Decimal `json:"distribution_pct"`
	// Dust is held value not attributable to any holder's claim, the
	// residue of truncating division.
	Dust uint64 `json:"dust"`
}

// Ledger is the read surface a report is built from.
type Ledger interface {
	Address() string
	TotalSupply() uint64
	CumulativeDeposits() uint64
	HeldBalance() uint64
	Snapshot() []stake.HolderSnapshot
	WithdrawableOf(account string) (uint64, error)
}

var hundred = decimal.NewFromInt(100)

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// Build assembles a report. Holders are ordered by balance, largest first,
// with account as tie-break so output is stable.
func Build(l Ledger) (*Report, error) {
	supply := fromUint64(l.TotalSupply())
	snapshot := l.Snapshot()

	holders := make([]HolderReport, 0, len(snapshot))
	var owed uint64
	for _, h := range snapshot {
		withdrawable, err := l.WithdrawableOf(h.Account)
		if err != nil {
			return nil, err
		}
		owed, err = valuemath.Add(owed, withdrawable)
		if err != nil {
			return nil, err
		}

		pct := fromUint64(h.Balance).Mul(hundred).Div(supply)
		holders = append(holders, HolderReport{
			Account:      h.Account,
			Balance:      h.Balance,
			OwnershipPct: pct,
			Withdrawable: withdrawable,
		})
	}

	sort.Slice(holders, func(i, j int) bool {
		if holders[i].Balance != holders[j].Balance {
			return holders[i].Balance > holders[j].Balance
		}
		return holders[i].Account < holders[j].Account
	})

	held := l.HeldBalance()
	cumulative := l.CumulativeDeposits()

	// Deposits observed after the last reconcile can put held above
	// cumulative; nothing of those has been paid out yet.
	var distributed decimal.Decimal
	if cumulative > 0 && cumulative > held {
		distributed = fromUint64(cumulative - held).Mul(hundred).Div(fromUint64(cumulative))
	}

	var dust uint64
	if held > owed {
		dust = held - owed
	}

	return &Report{
		Ledger:             l.Address(),
		FixedSupply:        l.TotalSupply(),
		CumulativeDeposits: cumulative,
		HeldBalance:        held,
		Holders:            holders,
		DistributionPct:    distributed,
		Dust:               dust,
	}, nil
}
