// Package payout sends value out of the ledger: payouts to holder
// destinations, administrative forwarded calls, and pulls against remote
// ledger instances. Every outbound call runs behind a circuit breaker so a
// repeatedly failing destination stops being dialed.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/terminal-bench/paysplit/pkg/circuit"
)

// Client issues outbound value transfers over HTTP.
type Client struct {
	http     *http.Client
	breakers *circuit.BreakerGroup
}

// Config holds payout client configuration.
type Config struct {
	RequestTimeout time.Duration
	MaxFailures    int
	BreakerTimeout time.Duration
}

// NewClient creates a payout client.
func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	return &Client{
		http: &http.Client{Timeout: cfg.RequestTimeout},
		breakers: circuit.NewBreakerGroup(circuit.Config{
			MaxFailures: cfg.MaxFailures,
			Timeout:     cfg.BreakerTimeout,
			HalfOpenMax: 3,
		}),
	}
}

type paymentRequest struct {
	Amount uint64 `json:"amount"`
}

// Pay delivers amount to the destination's receive endpoint. A non-2xx
// response is a rejection of the transfer.
func (c *Client) Pay(ctx context.Context, destination string, amount uint64) error {
	return c.breakers.Execute(ctx, destination, func() error {
		return c.post(ctx, destination+"/receive", paymentRequest{Amount: amount})
	})
}

type forwardRequest struct {
	Value   uint64          `json:"value"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Forward delivers an arbitrary payload with attached value to a target.
func (c *Client) Forward(ctx context.Context, target string, value uint64, payload []byte) error {
	return c.breakers.Execute(ctx, target, func() error {
		return c.post(ctx, target+"/call", forwardRequest{Value: value, Payload: payload})
	})
}

type assetRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// TransferAsset asks the asset's own ledger to move a balance held by this
// ledger to a third party.
func (c *Client) TransferAsset(ctx context.Context, asset, to string, amount uint64) error {
	return c.breakers.Execute(ctx, asset, func() error {
		return c.post(ctx, asset+"/transfer", assetRequest{Asset: asset, To: to, Amount: amount})
	})
}

func (c *Client) post(ctx context.Context, url string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("destination unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("destination rejected transfer: status %d", resp.StatusCode)
	}
	return nil
}
