package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/terminal-bench/paysplit/pkg/messaging"
)

// AuditLog records consumed events; *Audit satisfies it.
type AuditLog interface {
	Record(ctx context.Context, subject string, payload []byte, receivedAt time.Time) error
}

// TimeSeries records deposit and withdrawal points; *Series satisfies it.
type TimeSeries interface {
	RecordDeposit(ctx context.Context, ledger, from string, amount, held uint64, at time.Time) error
	RecordWithdrawal(ctx context.Context, ledger, holder string, amount uint64, failed bool, at time.Time) error
}

// Observer wires the event stream to its sinks.
type Observer struct {
	msg    *messaging.Client
	audit  AuditLog
	series TimeSeries
	hub    *Hub
	now    func() time.Time
}

// New creates an observer. hub may be nil when no live feed is wanted.
func New(msg *messaging.Client, audit AuditLog, series TimeSeries, hub *Hub) *Observer {
	return &Observer{
		msg:    msg,
		audit:  audit,
		series: series,
		hub:    hub,
		now:    time.Now,
	}
}

// envelope is the shape events take on the websocket feed.
type envelope struct {
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// Start subscribes to the ledger and registry subject trees. Observers in
// the same queue group share the stream.
func (o *Observer) Start(queue string) error {
	handler := func(msg *nats.Msg) {
		if err := o.Handle(context.Background(), msg.Subject, msg.Data); err != nil {
			log.Printf("observer: failed to handle %s: %v", msg.Subject, err)
		}
	}

	if err := o.msg.QueueSubscribe("ledger.>", queue, handler); err != nil {
		return fmt.Errorf("failed to subscribe to ledger events: %w", err)
	}
	if err := o.msg.QueueSubscribe("registry.>", queue, handler); err != nil {
		return fmt.Errorf("failed to subscribe to registry events: %w", err)
	}
	return nil
}

// Handle processes one consumed event: audit first, then the series sinks,
// then the live feed. A sink failure stops processing so the error is not
// silently partial; audit is the sink that must not miss.
func (o *Observer) Handle(ctx context.Context, subject string, payload []byte) error {
	receivedAt := o.now()

	if err := o.audit.Record(ctx, subject, payload, receivedAt); err != nil {
		return err
	}

	switch subject {
	case messaging.EventTypeDepositReceived:
		var e messaging.DepositEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("malformed deposit event: %w", err)
		}
		if err := o.series.RecordDeposit(ctx, e.Ledger, e.From, e.Amount, e.HeldBalance, receivedAt); err != nil {
			return err
		}

	case messaging.EventTypeClaimWithdrawn, messaging.EventTypeWithdrawFailed:
		var e messaging.WithdrawalEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("malformed withdrawal event: %w", err)
		}
		if err := o.series.RecordWithdrawal(ctx, e.Ledger, e.Holder, e.Amount, e.Failed, receivedAt); err != nil {
			return err
		}
	}

	if o.hub != nil {
		framed, err := json.Marshal(envelope{Subject: subject, Data: payload})
		if err != nil {
			return err
		}
		o.hub.Broadcast(framed)
	}
	return nil
}
