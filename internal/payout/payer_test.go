package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/paysplit/pkg/circuit"
)

func newTestClient() *Client {
	return NewClient(Config{
		RequestTimeout: 2 * time.Second,
		MaxFailures:    3,
		BreakerTimeout: time.Minute,
	})
}

func TestPay(t *testing.T) {
	t.Run("should post the amount to the receive endpoint", func(t *testing.T) {
		var got paymentRequest
		var path string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := newTestClient()
		err := c.Pay(context.Background(), srv.URL, 50_000)
		require.NoError(t, err)
		assert.Equal(t, "/receive", path)
		assert.Equal(t, uint64(50_000), got.Amount)
	})

	t.Run("should treat a non-2xx response as a rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		c := newTestClient()
		err := c.Pay(context.Background(), srv.URL, 1)
		assert.Error(t, err)
	})

	t.Run("should open the breaker after repeated failures", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestClient()
		for i := 0; i < 3; i++ {
			assert.Error(t, c.Pay(context.Background(), srv.URL, 1))
		}

		err := c.Pay(context.Background(), srv.URL, 1)
		assert.ErrorIs(t, err, circuit.ErrCircuitOpen)
	})

	t.Run("should isolate breakers per destination", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer bad.Close()
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer good.Close()

		c := newTestClient()
		for i := 0; i < 4; i++ {
			_ = c.Pay(context.Background(), bad.URL, 1)
		}
		assert.NoError(t, c.Pay(context.Background(), good.URL, 1))
	})
}

func TestForward(t *testing.T) {
	t.Run("should deliver value and payload to the call endpoint", func(t *testing.T) {
		var got forwardRequest
		var path string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := newTestClient()
		err := c.Forward(context.Background(), srv.URL, 1_000, []byte(`{"op":"rotate"}`))
		require.NoError(t, err)
		assert.Equal(t, "/call", path)
		assert.Equal(t, uint64(1_000), got.Value)
		assert.JSONEq(t, `{"op":"rotate"}`, string(got.Payload))
	})
}

func TestTransferAsset(t *testing.T) {
	t.Run("should ask the asset ledger to move the balance", func(t *testing.T) {
		var got assetRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := newTestClient()
		err := c.TransferAsset(context.Background(), srv.URL, "carol", 777)
		require.NoError(t, err)
		assert.Equal(t, "carol", got.To)
		assert.Equal(t, uint64(777), got.Amount)
	})
}

type staticResolver map[string]string

func (s staticResolver) Resolve(_ context.Context, name string) (string, error) {
	endpoint, ok := s[name]
	if !ok {
		return "", errors.New("unknown ledger")
	}
	return endpoint, nil
}

func TestRemoteWithdraw(t *testing.T) {
	t.Run("should pull the owed amount from the remote ledger", func(t *testing.T) {
		var got withdrawRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v1/ledger/withdraw", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(withdrawResponse{Amount: 42_000})
		}))
		defer srv.Close()

		c := newTestClient()
		remote, err := NewRemote(context.Background(), c, staticResolver{"upstream": srv.URL}, "upstream")
		require.NoError(t, err)

		amount, err := remote.Withdraw(context.Background(), "ledger-1")
		require.NoError(t, err)
		assert.Equal(t, uint64(42_000), amount)
		assert.Equal(t, "ledger-1", got.Holder)
	})

	t.Run("should surface the remote rejection reason", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(withdrawResponse{Error: "nothing due"})
		}))
		defer srv.Close()

		c := newTestClient()
		remote, err := NewRemote(context.Background(), c, staticResolver{"upstream": srv.URL}, "upstream")
		require.NoError(t, err)

		_, err = remote.Withdraw(context.Background(), "ledger-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nothing due")
	})

	t.Run("should fail when the ledger name cannot be resolved", func(t *testing.T) {
		c := newTestClient()
		_, err := NewRemote(context.Background(), c, staticResolver{}, "ghost")
		assert.Error(t, err)
	})
}
