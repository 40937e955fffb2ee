// etcd-backed Registry implementation.
//
// Layout:
//
//	Key:   /flowrpc/{Surface}/{Addr}
//	Value: JSON-encoded Endpoint
//
// Registration rides a TTL lease with background KeepAlive, so a crashed
// host disappears when its lease expires instead of lingering as a ghost
// endpoint.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/flowrpc/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // safe for concurrent use

	mu     sync.Mutex
	leases map[string]*lease // registration key → live lease
}

// lease is one registration's TTL lease plus the cancel func stopping
// its KeepAlive renewal.
type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, leases: make(map[string]*lease)}, nil
}

// Ping checks that at least the first configured endpoint answers within
// the timeout. Useful to probe availability before registering.
func (r *EtcdRegistry) Ping(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := r.client.Status(ctx, r.client.Endpoints()[0])
	return err
}

// Register publishes an endpoint under a TTL lease and starts KeepAlive
// renewal. The lease is kept per registration key so Deregister can
// revoke it; re-registering the same key revokes the old lease first.
func (r *EtcdRegistry) Register(surface string, ep Endpoint, ttl int64) error {
	key := keyPrefix + surface + "/" + ep.Addr

	grant, err := r.client.Grant(context.Background(), ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	_, err = r.client.Put(context.Background(), key, string(val), clientv3.WithLease(grant.ID))
	if err != nil {
		return err
	}

	// KeepAlive rides a cancelable context; cancellation in Deregister
	// stops renewal instead of keeping an orphaned lease alive forever.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return err
	}
	// Drain KeepAlive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	if old, ok := r.leases[key]; ok {
		old.cancel()
		r.client.Revoke(context.Background(), old.id)
	}
	r.leases[key] = &lease{id: grant.ID, cancel: cancel}
	r.mu.Unlock()
	return nil
}

// Deregister removes an endpoint: stop KeepAlive renewal, revoke the
// lease, delete the key. Called during graceful shutdown before the
// listener closes, so clients stop routing here first.
func (r *EtcdRegistry) Deregister(surface string, addr string) error {
	key := keyPrefix + surface + "/" + addr

	r.mu.Lock()
	l, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		l.cancel()
		if _, err := r.client.Revoke(context.Background(), l.id); err != nil {
			return err
		}
	}

	_, err := r.client.Delete(context.Background(), key)
	return err
}

// Discover returns every endpoint currently registered for a surface.
func (r *EtcdRegistry) Discover(surface string) ([]Endpoint, error) {
	resp, err := r.client.Get(context.TODO(), keyPrefix+surface+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			continue // skip malformed entries
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Watch emits the full endpoint list whenever anything under the surface
// prefix changes (registration, deregistration, lease expiry).
func (r *EtcdRegistry) Watch(surface string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)
	go func() {
		watchChan := r.client.Watch(context.TODO(), keyPrefix+surface+"/", clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch the full list rather than folding individual events.
			endpoints, _ := r.Discover(surface)
			ch <- endpoints
		}
	}()
	return ch
}
