// Package registry is the factory side of the system: it records every
// ledger instance ever created and publishes where each one can be
// reached. Records live in Postgres; endpoint discovery goes through etcd
// so pull-withdrawals can resolve a remote ledger by name alone.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInstanceExists   = errors.New("instance name already registered")
	ErrInstanceNotFound = errors.New("instance not found")
)

// Instance is one registered ledger.
type Instance struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Symbol      string    `json:"symbol"`
	Creator     string    `json:"creator"`
	Endpoint    string    `json:"endpoint"`
	FixedSupply uint64    `json:"fixed_supply"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists instance records.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new instance record. Names are unique.
func (s *Store) Create(ctx context.Context, inst *Instance) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM instances WHERE name = $1)", inst.Name,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check instance name: %w", err)
	}
	if exists {
		return ErrInstanceExists
	}

	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO instances (id, name, symbol, creator, endpoint, fixed_supply, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		inst.ID, inst.Name, inst.Symbol, inst.Creator, inst.Endpoint, int64(inst.FixedSupply), inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert instance: %w", err)
	}
	return nil
}

// Get looks an instance up by name.
func (s *Store) Get(ctx context.Context, name string) (*Instance, error) {
	var inst Instance
	var supply int64

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, symbol, creator, endpoint, fixed_supply, created_at FROM instances WHERE name = $1",
		name,
	).Scan(&inst.ID, &inst.Name, &inst.Symbol, &inst.Creator, &inst.Endpoint, &supply, &inst.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query instance: %w", err)
	}

	inst.FixedSupply = uint64(supply)
	return &inst, nil
}

// List returns all registered instances, newest first.
func (s *Store) List(ctx context.Context) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, symbol, creator, endpoint, fixed_supply, created_at FROM instances ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		var inst Instance
		var supply int64
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.Symbol, &inst.Creator, &inst.Endpoint, &supply, &inst.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		inst.FixedSupply = uint64(supply)
		out = append(out, &inst)
	}
	return out, rows.Err()
}

// Delete removes an instance record, typically after termination.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM instances WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInstanceNotFound
	}
	return nil
}
