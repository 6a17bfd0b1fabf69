package registry

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const discoveryPrefix = "/paysplit/instances/"

// Discovery publishes and resolves instance endpoints through etcd. It
// satisfies the payout package's Resolver interface.
type Discovery struct {
	cli *clientv3.Client
}

// NewDiscovery connects to the etcd cluster.
func NewDiscovery(endpoints []string, dialTimeout time.Duration) (*Discovery, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &Discovery{cli: cli}, nil
}

// Announce publishes where an instance can be reached.
func (d *Discovery) Announce(ctx context.Context, name, endpoint string) error {
	if _, err := d.cli.Put(ctx, discoveryPrefix+name, endpoint); err != nil {
		return fmt.Errorf("failed to announce instance %q: %w", name, err)
	}
	return nil
}

// Resolve returns the endpoint for a named instance.
func (d *Discovery) Resolve(ctx context.Context, name string) (string, error) {
	resp, err := d.cli.Get(ctx, discoveryPrefix+name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve instance %q: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return "", ErrInstanceNotFound
	}
	return string(resp.Kvs[0].Value), nil
}

// Endpoints returns every announced instance endpoint keyed by name.
func (d *Discovery) Endpoints(ctx context.Context) (map[string]string, error) {
	resp, err := d.cli.Get(ctx, discoveryPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out[string(kv.Key)[len(discoveryPrefix):]] = string(kv.Value)
	}
	return out, nil
}

// Retract removes an instance's endpoint after termination.
func (d *Discovery) Retract(ctx context.Context, name string) error {
	if _, err := d.cli.Delete(ctx, discoveryPrefix+name); err != nil {
		return fmt.Errorf("failed to retract instance %q: %w", name, err)
	}
	return nil
}

// Close releases the etcd connection.
func (d *Discovery) Close() error {
	return d.cli.Close()
}
