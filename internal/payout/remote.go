package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Resolver maps a ledger name to its endpoint. The registry's discovery
// client satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Remote is a handle on another ledger instance, used when this ledger
// holds stake there and wants to pull the value it is owed.
type Remote struct {
	client   *Client
	endpoint string
}

// NewRemote resolves a remote ledger by name.
func NewRemote(ctx context.Context, c *Client, resolver Resolver, name string) (*Remote, error) {
	endpoint, err := resolver.Resolve(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ledger %q: %w", name, err)
	}
	return &Remote{client: c, endpoint: endpoint}, nil
}

type withdrawRequest struct {
	Holder      string `json:"holder"`
	Destination string `json:"destination"`
}

type withdrawResponse struct {
	Amount uint64 `json:"amount"`
	Error  string `json:"error,omitempty"`
}

// Withdraw invokes the remote ledger's withdrawal entry point for the
// given holder identity. The value itself arrives on this ledger's own
// receive endpoint.
func (r *Remote) Withdraw(ctx context.Context, holder string) (uint64, error) {
	var amount uint64
	err := r.client.breakers.Execute(ctx, r.endpoint, func() error {
		return r.withdrawOnce(ctx, holder, &amount)
	})
	return amount, err
}

func (r *Remote) withdrawOnce(ctx context.Context, holder string, amount *uint64) error {
	payload, err := json.Marshal(withdrawRequest{Holder: holder, Destination: holder})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.endpoint+"/api/v1/ledger/withdraw", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote ledger unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var out withdrawResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("remote ledger refused withdrawal: %s", out.Error)
	}

	*amount = out.Amount
	return nil
}
