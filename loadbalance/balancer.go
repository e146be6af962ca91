// Package loadbalance provides load balancing strategies for distributing
// RPC requests across the instances a naming.Registry discovers.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  Stateful services requiring cache affinity
package loadbalance

import "github.com/tencent/pebble/naming"

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each RPC to select a target instance.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Called on every RPC call — must be goroutine-safe.
	Pick(instances []naming.Instance) (*naming.Instance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
