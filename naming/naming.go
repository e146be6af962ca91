// Package naming is Pebble's service discovery collaborator: the
// ZooKeeper-backed naming service the RPC core treats as an external
// dependency. Go's ecosystem equivalent of ZooKeeper's ephemeral
// znode + watch model is etcd's lease + watch API, so the
// implementation here is built on etcd/client/v3 the same way
// zookeeper_naming.cpp built on ZK: register an instance under a
// lease that expires if the process stops renewing it, and let
// watchers learn about membership changes by subscribing instead of
// polling.
package naming

// Instance is one running, discoverable copy of a service.
type Instance struct {
	Addr    string // dial address, "host:port"
	Weight  int    // relative load-balancing weight
	Version string // for canary/staged rollouts
}

// Registry is the naming service contract: register/deregister this
// process's own instances, and discover or watch another service's.
type Registry interface {
	// Register advertises inst under serviceName for ttlSeconds,
	// renewed automatically until Deregister or process exit.
	Register(serviceName string, inst Instance, ttlSeconds int64) error

	// Deregister removes inst from serviceName immediately, the way a
	// graceful shutdown un-advertises before closing its listener.
	Deregister(serviceName string, addr string) error

	// Discover returns every instance currently registered under
	// serviceName.
	Discover(serviceName string) ([]Instance, error)

	// Watch streams the updated instance list for serviceName
	// whenever membership changes.
	Watch(serviceName string) <-chan []Instance
}
