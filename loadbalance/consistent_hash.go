package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"golang.org/x/exp/slices"

	"github.com/tencent/pebble/naming"
)

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance (until the ring changes),
// providing cache affinity — useful for stateful services or local caches.
//
// Virtual nodes: each real instance is mapped to N virtual nodes on the ring.
// Without virtual nodes, 3 instances might cluster together on the ring,
// causing uneven load distribution. 100 virtual nodes per instance ensures
// statistical uniformity.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int                        // Virtual nodes per real instance
	ring     []uint32                   // Sorted hash values on the ring
	nodes    map[uint32]*naming.Instance // Hash value → instance mapping
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		ring:     []uint32{},
		nodes:    make(map[uint32]*naming.Instance),
	}
}

// Add places an instance onto the hash ring with N virtual nodes.
// Each virtual node is hashed from "{addr}#{i}" to spread evenly across the ring.
func (b *ConsistentHashBalancer) Add(instance *naming.Instance) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", instance.Addr, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	// Keep the ring sorted for binary search in Pick()
	slices.SortFunc(b.ring, func(a, c uint32) int {
		if a < c {
			return -1
		}
		if a > c {
			return 1
		}
		return 0
	})
}

// Rebuild discards the current ring and adds every instance in fresh,
// the way a Balancer wired to naming.Registry.Watch refreshes itself
// each time the discovered instance set changes.
func (b *ConsistentHashBalancer) Rebuild(instances []naming.Instance) {
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*naming.Instance, len(instances)*b.replicas)
	for i := range instances {
		b.Add(&instances[i])
	}
}

// Pick finds the instance responsible for the given key.
// It hashes the key, then binary-searches for the first node >= hash on the ring.
// If the hash is larger than all nodes, it wraps around to the first node (ring property).
//
// Note: Pick takes a string key, not a []naming.Instance, because
// consistent hashing is key-based — it doesn't implement the Balancer
// interface directly; callers call Rebuild/Add to seed the ring first.
func (b *ConsistentHashBalancer) Pick(key string) (*naming.Instance, error) {
	if len(b.ring) == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	hash := crc32.ChecksumIEEE([]byte(key))

	// Binary search: find first node with hash >= key's hash
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})

	// Wrap around: if key's hash > all nodes, go to the first node
	if idx == len(b.ring) {
		idx = 0
	}

	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
