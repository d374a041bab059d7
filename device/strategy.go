package device

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ninabarzh/power-and-light-sim/config"
	"github.com/ninabarzh/power-and-light-sim/errors"
	"github.com/ninabarzh/power-and-light-sim/metric"
	"github.com/ninabarzh/power-and-light-sim/simclock"
	"github.com/ninabarzh/power-and-light-sim/statestore"
)

// Deps carries the shared collaborators every device needs. Metrics may be
// nil, which disables Prometheus tracking without changing behaviour.
type Deps struct {
	Store   *statestore.Store
	Clock   *simclock.Clock
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// ScanContext is handed to the strategy on every cycle. SimTime and Delta
// come from the simulation clock; cycles do not run while the clock is
// paused, so Scan never observes a paused world.
type ScanContext struct {
	Device  string
	Store   *statestore.Store
	Clock   *simclock.Clock
	Logger  *slog.Logger
	SimTime float64
	Delta   float64
}

// Strategy implements device-type-specific scan logic. Implementations are
// called from a single goroutine and need no internal locking unless they
// share state beyond the store.
type Strategy interface {
	// Type is the device type tag this strategy implements.
	Type() string
	// Setup runs once before the first scan.
	Setup(sc *ScanContext) error
	// Scan runs one read-compute-write cycle.
	Scan(sc *ScanContext) error
	// Teardown runs when the device stops.
	Teardown(sc *ScanContext) error
}

// Factory builds a strategy instance for one configured device
type Factory func(cfg config.DeviceConfig, deps Deps) (Strategy, error)

// Registry maps device type tags to strategy factories. It is built
// explicitly at startup and passed by reference; there is no global
// registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty factory registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a device type
func (r *Registry) Register(deviceType string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if deviceType == "" || factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Registry", "Register", "type and factory must be set")
	}
	if _, exists := r.factories[deviceType]; exists {
		return errors.WrapInvalid(errors.ErrDeviceExists,
			"Registry", "Register", "duplicate factory for type "+deviceType)
	}
	r.factories[deviceType] = factory
	return nil
}

// Create builds the strategy for a configured device
func (r *Registry) Create(cfg config.DeviceConfig, deps Deps) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnknownType,
			"Registry", "Create", "no factory for device type "+cfg.Type)
	}
	return factory(cfg, deps)
}

// Types returns the registered device types, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
