package naming

import (
	"context"
	"encoding/json"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/tencent/pebble/broadcast"
	"github.com/tencent/pebble/pebblelog"
)

const keyPrefix = "/pebble/naming/"

// EtcdRegistry implements Registry against etcd v3, the TTL-lease-
// and-watch shape zookeeper_naming.cpp gave ephemeral znodes.
type EtcdRegistry struct {
	client *clientv3.Client

	mu       sync.Mutex
	watching map[string]struct{} // services with a live etcd watch already running
	bus      *broadcast.Bus      // fans one etcd watch out to any number of local Watch() callers
	nextSub  int64
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{
		client:   c,
		watching: make(map[string]struct{}),
		bus:      broadcast.NewBus(),
	}, nil
}

func serviceKey(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

// Register puts inst under its service's prefix with a renewing
// lease; if the process dies and stops the KeepAlive loop, etcd
// expires the key on its own.
func (r *EtcdRegistry) Register(serviceName string, inst Instance, ttlSeconds int64) error {
	ctx := context.Background()

	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}
	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	if _, err := r.client.Put(ctx, serviceKey(serviceName, inst.Addr), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	keepAlive, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range keepAlive {
		}
		pebblelog.L().Infow("naming: lease expired or keepalive stopped", "service", serviceName, "addr", inst.Addr)
	}()
	return nil
}

// Deregister removes inst immediately, ahead of its lease expiring.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	_, err := r.client.Delete(context.Background(), serviceKey(serviceName, addr))
	return err
}

// Discover lists every live instance under serviceName's prefix.
func (r *EtcdRegistry) Discover(serviceName string) ([]Instance, error) {
	resp, err := r.client.Get(context.Background(), keyPrefix+serviceName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			pebblelog.L().Warnw("naming: skipping malformed instance record", "key", string(kv.Key), "error", err)
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch returns a channel of updated instance lists for serviceName.
// The first caller for a given service starts one background etcd
// watch; later callers for the same service share it through the
// broadcast bus instead of opening another etcd watch each, the same
// fan-out broadcast.Bus gives any other multi-listener channel.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []Instance {
	r.ensureWatch(serviceName)

	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.mu.Unlock()

	sub := broadcast.NewChanSubscriber(id, 4)
	r.bus.Subscribe(serviceName, sub)

	out := make(chan []Instance, 4)
	go func() {
		for raw := range sub.Messages() {
			var instances []Instance
			if err := json.Unmarshal(raw, &instances); err == nil {
				out <- instances
			}
		}
	}()
	return out
}

func (r *EtcdRegistry) ensureWatch(serviceName string) {
	r.mu.Lock()
	if _, ok := r.watching[serviceName]; ok {
		r.mu.Unlock()
		return
	}
	r.watching[serviceName] = struct{}{}
	r.mu.Unlock()

	go func() {
		watchCh := r.client.Watch(context.Background(), keyPrefix+serviceName+"/", clientv3.WithPrefix())
		for range watchCh {
			instances, err := r.Discover(serviceName)
			if err != nil {
				pebblelog.L().Warnw("naming: re-fetch after watch event failed", "service", serviceName, "error", err)
				continue
			}
			raw, err := json.Marshal(instances)
			if err != nil {
				continue
			}
			r.bus.Publish(serviceName, raw)
		}
	}()
}

// Close releases the underlying etcd client connection.
func (r *EtcdRegistry) Close() error { return r.client.Close() }

var _ Registry = (*EtcdRegistry)(nil)
