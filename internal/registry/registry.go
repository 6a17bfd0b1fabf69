package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/terminal-bench/paysplit/pkg/messaging"
)

var ErrInvalidRequest = errors.New("registry: name, creator and endpoint are required")

// Announcer is the discovery half Registry needs; *Discovery satisfies it.
type Announcer interface {
	Announce(ctx context.Context, name, endpoint string) error
	Retract(ctx context.Context, name string) error
}

// InstanceStore is the persistence half Registry needs; *Store satisfies it.
type InstanceStore interface {
	Create(ctx context.Context, inst *Instance) error
	Get(ctx context.Context, name string) (*Instance, error)
	List(ctx context.Context) ([]*Instance, error)
	Delete(ctx context.Context, name string) error
}

// Publisher emits registry notifications. *messaging.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Registry assigns names to ledger instances, persists their records and
// makes their endpoints discoverable.
type Registry struct {
	store     InstanceStore
	discovery Announcer
	bus       Publisher
}

// New creates a registry. bus may be nil.
func New(store InstanceStore, discovery Announcer, bus Publisher) *Registry {
	return &Registry{store: store, discovery: discovery, bus: bus}
}

// Register records a new instance and announces its endpoint. The record
// is removed again if the announcement fails, so a name never ends up
// registered but unreachable.
func (r *Registry) Register(ctx context.Context, inst *Instance) error {
	if inst.Name == "" || inst.Creator == "" || inst.Endpoint == "" {
		return ErrInvalidRequest
	}

	if err := r.store.Create(ctx, inst); err != nil {
		return err
	}

	if err := r.discovery.Announce(ctx, inst.Name, inst.Endpoint); err != nil {
		if delErr := r.store.Delete(ctx, inst.Name); delErr != nil {
			return fmt.Errorf("announce failed (%v) and record cleanup failed: %w", err, delErr)
		}
		return err
	}

	if r.bus != nil {
		// Notification failures never abort registration.
		_ = r.bus.Publish(ctx, messaging.EventTypeInstanceRegistered, messaging.InstanceEvent{
			Name:     inst.Name,
			Symbol:   inst.Symbol,
			Creator:  inst.Creator,
			Endpoint: inst.Endpoint,
		})
	}
	return nil
}

// Deregister removes a terminated instance from the record and from
// discovery.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	if err := r.discovery.Retract(ctx, name); err != nil {
		return err
	}
	return r.store.Delete(ctx, name)
}

// Lookup returns the stored record for a named instance.
func (r *Registry) Lookup(ctx context.Context, name string) (*Instance, error) {
	return r.store.Get(ctx, name)
}

// Instances lists every registered instance.
func (r *Registry) Instances(ctx context.Context) ([]*Instance, error) {
	return r.store.List(ctx)
}
