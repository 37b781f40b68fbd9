// Package di wires the qcored component graph. Components are registered
// under stable names and built lazily, so the CLI can pull just the slice of
// the graph a command needs.
package di

import (
	"errors"
	"sync"
)

// Container is the dependency injection container.
type Container struct {
	mu       sync.RWMutex
	services map[string]interface{}
	builders map[string]Builder
}

// Builder is a function that creates a service instance.
type Builder func(c *Container) (interface{}, error)

// New creates an empty container.
func New() *Container {
	return &Container{
		services: make(map[string]interface{}),
		builders: make(map[string]Builder),
	}
}

// Register registers a ready service instance.
func (c *Container) Register(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = service
}

// RegisterBuilder registers a builder function for lazy instantiation.
func (c *Container) RegisterBuilder(name string, builder Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builders[name] = builder
}

// Get retrieves a service by name, building it on first use.
func (c *Container) Get(name string) (interface{}, error) {
	c.mu.RLock()
	service, exists := c.services[name]
	c.mu.RUnlock()
	if exists {
		return service, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have built it while we waited for the lock.
	if service, exists := c.services[name]; exists {
		return service, nil
	}
	builder, hasBuilder := c.builders[name]
	if !hasBuilder {
		return nil, errors.New("service not found: " + name)
	}
	service, err := builder(c)
	if err != nil {
		return nil, err
	}
	c.services[name] = service
	return service, nil
}

// MustGet retrieves a service or panics. Reserved for wiring paths where a
// missing service is a programming error.
func (c *Container) MustGet(name string) interface{} {
	service, err := c.Get(name)
	if err != nil {
		panic(err)
	}
	return service
}

// Has checks whether a service or builder is registered.
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, exists := c.services[name]; exists {
		return true
	}
	_, exists := c.builders[name]
	return exists
}

// ServiceNames returns all registered service names.
func (c *Container) ServiceNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make(map[string]bool)
	for name := range c.services {
		names[name] = true
	}
	for name := range c.builders {
		names[name] = true
	}
	result := make([]string, 0, len(names))
	for name := range names {
		result = append(result, name)
	}
	return result
}

// Service names for type-safe access.
const (
	ServiceConfig     = "config"
	ServiceLogger     = "logger"
	ServiceClock      = "clock"
	ServiceIDs        = "ids"
	ServiceBus        = "event.bus"
	ServiceKV         = "storage.kv"
	ServiceArtifacts  = "storage.artifacts"
	ServiceRelational = "storage.relational"
	ServiceRecorder   = "observability.recorder"
	ServicePoller     = "observability.poller"
	ServiceSLO        = "observability.slo"
	ServiceCrypto     = "port.crypto"
	ServiceStorage    = "port.storage"
	ServiceIdentity   = "port.identity"
	ServiceWallet     = "port.wallet"
	ServiceIndex      = "port.index"
	ServiceAudit      = "port.audit"
	ServiceFleet      = "port.fleet"
	ServiceVotes      = "port.votes"
	ServiceLedger     = "core.ledger"
	ServicePipeline   = "core.pipeline"
	ServiceReplay     = "core.replay"
	ServiceGossip     = "core.gossip"
	ServiceStress     = "core.stress"
	ServiceConsensus  = "core.consensus"
	ServicePayment    = "core.payment"
	ServiceDAO        = "core.dao"
	ServiceIntegrity  = "core.integrity"
)
