// Package loadbalance provides load balancing strategies for distributing
// sessions across multiple service instances.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  Key affinity, e.g. one node per account
package loadbalance

import (
	"errors"
	"fmt"
	"strings"

	"webthree-rpc/registry"
)

var (
	ErrNoInstances     = errors.New("loadbalance: no instances available")
	ErrUnknownStrategy = errors.New("loadbalance: unknown strategy")
)

// Balancer is the interface for load balancing strategies.
// The client calls Pick() when it needs a session to an instance.
type Balancer interface {
	// Pick selects one instance from the available list. key is only used by
	// key-affine strategies. Must be goroutine-safe.
	Pick(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer configured by name:
// "round_robin" (default), "weighted_random" or "consistent_hash".
func New(name string) (Balancer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "round_robin", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random", "weightedrandom":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash", "consistenthash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}
