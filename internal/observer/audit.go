// Package observer consumes the ledger event stream and turns it into an
// append-only audit trail, deposit and withdrawal time series, and a live
// websocket feed. It never talks back to the ledger.
package observer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one consumed event as stored.
type AuditEntry struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Audit is the append-only Postgres event record.
type Audit struct {
	db *sql.DB
}

// NewAudit creates an audit store over an open database handle.
func NewAudit(db *sql.DB) *Audit {
	return &Audit{db: db}
}

// Record appends one event. Entries are never updated or deleted.
func (a *Audit) Record(ctx context.Context, subject string, payload []byte, receivedAt time.Time) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO audit_events (id, subject, payload, received_at) VALUES ($1, $2, $3, $4)",
		uuid.New().String(), subject, payload, receivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (a *Audit) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT id, subject, payload, received_at FROM audit_events ORDER BY received_at DESC LIMIT $1",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Subject, &e.Payload, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
