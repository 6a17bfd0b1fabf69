package observer

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Series writes deposit and withdrawal time series to InfluxDB.
type Series struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewSeries connects to InfluxDB.
func NewSeries(url, token, org, bucket string) *Series {
	client := influxdb2.NewClient(url, token)
	return &Series{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
	}
}

// RecordDeposit writes one point on the deposit series.
func (s *Series) RecordDeposit(ctx context.Context, ledger, from string, amount, held uint64, at time.Time) error {
	p := influxdb2.NewPoint(
		"deposits",
		map[string]string{
			"ledger": ledger,
			"from":   from,
		},
		map[string]interface{}{
			"amount":       int64(amount),
			"held_balance": int64(held),
		},
		at,
	)
	return s.write.WritePoint(ctx, p)
}

// RecordWithdrawal writes one point on the withdrawal series. Failed
// attempts are recorded too; they carry their own tag.
func (s *Series) RecordWithdrawal(ctx context.Context, ledger, holder string, amount uint64, failed bool, at time.Time) error {
	outcome := "paid"
	if failed {
		outcome = "failed"
	}
	p := influxdb2.NewPoint(
		"withdrawals",
		map[string]string{
			"ledger":  ledger,
			"holder":  holder,
			"outcome": outcome,
		},
		map[string]interface{}{
			"amount": int64(amount),
		},
		at,
	)
	return s.write.WritePoint(ctx, p)
}

// Close releases the InfluxDB connection.
func (s *Series) Close() {
	s.client.Close()
}
