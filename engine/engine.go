package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ninabarzh/power-and-light-sim/config"
	"github.com/ninabarzh/power-and-light-sim/device"
	"github.com/ninabarzh/power-and-light-sim/device/plc"
	"github.com/ninabarzh/power-and-light-sim/device/rtu"
	"github.com/ninabarzh/power-and-light-sim/device/supervisor"
	"github.com/ninabarzh/power-and-light-sim/errors"
	"github.com/ninabarzh/power-and-light-sim/health"
	"github.com/ninabarzh/power-and-light-sim/metric"
	"github.com/ninabarzh/power-and-light-sim/simclock"
	"github.com/ninabarzh/power-and-light-sim/statestore"
	"github.com/ninabarzh/power-and-light-sim/telemetry"
)

// monitorInterval is the wall-clock period of the clock-export goroutine.
const monitorInterval = time.Second

// Engine drives one simulation run end to end
type Engine struct {
	runID  string
	cfg    *config.Config
	clock  *simclock.Clock
	store  *statestore.Store
	reg    *device.Registry
	logger *slog.Logger

	metrics *metric.Metrics
	em      *engineMetrics
	msrv    *metric.Server
	pub     *telemetry.Publisher
	monitor *health.Monitor

	mu      sync.Mutex
	devices map[string]*device.Device
	order   []string

	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}

	// last store counter values exported to Prometheus
	lastReads  int64
	lastWrites int64
}

// DefaultRegistry builds a strategy registry with every built-in device
// type. Grid parameters and topology are bound here because the grid
// factory needs run-level configuration, not just its own device block.
func DefaultRegistry(cfg *config.Config) (*device.Registry, error) {
	reg := device.NewRegistry()
	registrations := map[string]device.Factory{
		plc.TypeTurbine: plc.TurbineFactory,
		plc.TypeGrid:    plc.GridFactory(cfg.Grid, cfg.PowerFlow),
		rtu.Type:        rtu.Factory,
		supervisor.Type: supervisor.Factory,
	}
	for deviceType, factory := range registrations {
		if err := reg.Register(deviceType, factory); err != nil {
			return nil, errors.Wrap(err, "Engine", "DefaultRegistry", "register "+deviceType)
		}
	}
	return reg, nil
}

// New creates an engine for the given run configuration. The metrics
// registry may be nil, which disables Prometheus tracking.
func New(
	cfg *config.Config,
	registry *device.Registry,
	logger *slog.Logger,
	metricsRegistry *metric.MetricsRegistry,
) (*Engine, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Engine", "New", "configuration must not be nil")
	}
	if registry == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Engine", "New", "strategy registry must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	mode, err := parseMode(cfg.Clock.Mode)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Engine", "New", "parse clock mode")
	}

	runID := uuid.New().String()
	logger = logger.With("run_id", runID, "run", cfg.Run.Name)

	var coreMetrics *metric.Metrics
	var em *engineMetrics
	if metricsRegistry != nil {
		coreMetrics = metricsRegistry.CoreMetrics()
		em, err = newEngineMetrics(metricsRegistry)
		if err != nil {
			logger.Error("failed to initialize engine metrics", "error", err)
			em = nil
		}
	}

	e := &Engine{
		runID:   runID,
		cfg:     cfg,
		clock:   simclock.New(simclock.WithMode(mode), simclock.WithSpeed(cfg.Clock.Speed)),
		store:   statestore.New(logger),
		reg:     registry,
		logger:  logger,
		metrics: coreMetrics,
		em:      em,
		monitor: health.NewMonitor(),
		devices: make(map[string]*device.Device),
	}

	if cfg.Metrics.Enabled && metricsRegistry != nil {
		e.msrv = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
	}
	if cfg.Telemetry.Enabled {
		pub, err := telemetry.New(cfg.Telemetry, runID, e.store, e.clock, logger)
		if err != nil {
			return nil, errors.Wrap(err, "Engine", "New", "create telemetry publisher")
		}
		e.pub = pub
	}
	return e, nil
}

// parseMode maps the configuration string to a clock mode
func parseMode(s string) (simclock.Mode, error) {
	switch s {
	case "realtime":
		return simclock.Realtime, nil
	case "accelerated":
		return simclock.Accelerated, nil
	case "stepped":
		return simclock.Stepped, nil
	case "paused":
		return simclock.Paused, nil
	default:
		return 0, fmt.Errorf("%w: unknown clock mode %q", errors.ErrInvalidConfig, s)
	}
}

// RunID returns the unique identifier of this run
func (e *Engine) RunID() string { return e.runID }

// Clock returns the run's simulation clock
func (e *Engine) Clock() *simclock.Clock { return e.clock }

// Store returns the run's state store
func (e *Engine) Store() *statestore.Store { return e.store }

// Initialize builds every configured device and registers it in the state
// store. No scan loops run yet.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.devices) > 0 {
		return nil
	}

	deps := device.Deps{
		Store:   e.store,
		Clock:   e.clock,
		Logger:  e.logger,
		Metrics: e.metrics,
	}

	for _, dc := range e.cfg.Devices {
		strategy, err := e.reg.Create(dc, deps)
		if err != nil {
			return errors.Wrap(err, "Engine", "Initialize",
				fmt.Sprintf("build strategy for %s", dc.Name))
		}
		dev, err := device.New(dc, strategy, deps)
		if err != nil {
			return errors.Wrap(err, "Engine", "Initialize",
				fmt.Sprintf("build device %s", dc.Name))
		}
		if err := dev.Initialize(); err != nil {
			return errors.Wrap(err, "Engine", "Initialize",
				fmt.Sprintf("register device %s", dc.Name))
		}
		e.devices[dc.Name] = dev
		e.order = append(e.order, dc.Name)
	}

	if e.pub != nil {
		if err := e.pub.Initialize(); err != nil {
			return errors.Wrap(err, "Engine", "Initialize", "connect telemetry")
		}
	}

	e.em.setConfiguredDevices(float64(len(e.devices)))
	e.logger.Info("engine initialized",
		"devices", len(e.devices), "types", e.reg.Types())
	return nil
}

// Start launches every device in configuration order along with the
// monitor goroutine. A device that fails to start rolls back the ones
// already running.
func (e *Engine) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.devices) == 0 {
		e.running.Store(false)
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Engine", "Start", "no devices built, call Initialize first")
	}

	started := make([]string, 0, len(e.order))
	for _, name := range e.order {
		if err := e.devices[name].Start(ctx); err != nil {
			e.em.recordStart(name, false)
			for i := len(started) - 1; i >= 0; i-- {
				if stopErr := e.devices[started[i]].Stop(time.Second); stopErr != nil {
					e.logger.Error("rollback stop failed",
						"device", started[i], "error", stopErr)
				}
			}
			e.running.Store(false)
			return errors.Wrap(err, "Engine", "Start",
				fmt.Sprintf("start device %s", name))
		}
		started = append(started, name)
		e.em.recordStart(name, true)
	}

	if e.msrv != nil {
		go func() {
			if err := e.msrv.Start(); err != nil {
				e.logger.Error("metrics server failed", "error", err)
			}
		}()
		e.logger.Info("metrics server listening", "address", e.msrv.Address())
	}
	if e.pub != nil {
		if err := e.pub.Start(ctx); err != nil {
			e.logger.Error("telemetry start failed", "error", err)
		}
	}

	e.shutdown = make(chan struct{})
	e.done = make(chan struct{})
	go e.monitorLoop(ctx)

	e.logger.Info("run started",
		"devices", len(started), "clock_mode", e.clock.Mode().String())
	return nil
}

// Stop halts the monitor and then every device in reverse configuration
// order. All stop failures are reported together.
func (e *Engine) Stop(timeout time.Duration) error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}

	// stop the monitor before taking the lock; it takes the lock itself
	// while refreshing health
	e.mu.Lock()
	shutdown, done := e.shutdown, e.done
	e.mu.Unlock()
	if shutdown != nil {
		close(shutdown)
		select {
		case <-done:
		case <-time.After(timeout):
			e.logger.Warn("monitor did not stop within timeout")
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pub != nil {
		if err := e.pub.Stop(timeout); err != nil {
			e.logger.Error("telemetry stop failed", "error", err)
		}
	}
	if e.msrv != nil {
		if err := e.msrv.Stop(); err != nil {
			e.logger.Warn("metrics server stop failed", "error", err)
		}
	}

	var firstErr error
	for i := len(e.order) - 1; i >= 0; i-- {
		name := e.order[i]
		if err := e.devices[name].Stop(timeout); err != nil {
			e.em.recordStop(name, false)
			e.logger.Error("device stop failed", "device", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.em.recordStop(name, true)
	}

	if firstErr != nil {
		return errors.Wrap(firstErr, "Engine", "Stop", "stop devices")
	}
	e.logger.Info("run stopped", "sim_seconds", e.clock.Now())
	return nil
}

// Device returns one managed device by name
func (e *Engine) Device(name string) (*device.Device, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dev, ok := e.devices[name]
	return dev, ok
}

// Status is a point-in-time snapshot of the run
type Status struct {
	RunID   string
	Name    string
	Running bool
	Clock   simclock.Status
	Store   statestore.Summary
	Devices map[string]device.Stats
}

// Status reports the run state across clock, store and devices
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		RunID:   e.runID,
		Name:    e.cfg.Run.Name,
		Running: e.running.Load(),
		Clock:   e.clock.Status(),
		Store:   e.store.Summarize(),
		Devices: make(map[string]device.Stats, len(e.devices)),
	}
	for name, dev := range e.devices {
		st.Devices[name] = dev.Stats()
	}
	return st
}

// monitorLoop exports clock progress and store-wide gauges once per wall
// second until shutdown.
func (e *Engine) monitorLoop(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdown:
			return
		case <-ticker.C:
			e.exportGauges()
			e.updateHealth()
		}
	}
}

// Health aggregates per-device health into one run-level status
func (e *Engine) Health() health.Status {
	return e.monitor.AggregateHealth(e.cfg.Run.Name)
}

// updateHealth maps device scan state onto the health monitor
func (e *Engine) updateHealth() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, dev := range e.devices {
		stats := dev.Stats()
		var st health.Status
		switch stats.State {
		case device.Running:
			st = health.NewHealthy(name, "scanning")
		case device.Faulted:
			msg := "faulted"
			if stats.LastError != nil {
				msg = stats.LastError.Error()
			}
			st = health.NewUnhealthy(name, msg)
		default:
			st = health.NewDegraded(name, "state "+stats.State.String())
		}
		e.monitor.Update(name, st.WithMetrics(&health.Metrics{
			ScanCycles: stats.Cycles,
			ScanFaults: stats.Faults,
		}))
	}
}

func (e *Engine) exportGauges() {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordSimTime(e.clock.Now(), e.clock.Speed())
	sum := e.store.Summarize()
	e.metrics.DevicesOnline.Set(float64(sum.Online))

	stats := e.store.Stats()
	reads := stats.Reads + stats.BulkReads
	writes := stats.Writes + stats.BulkWrites
	e.metrics.RecordStoreOps(float64(reads-e.lastReads), float64(writes-e.lastWrites))
	e.lastReads, e.lastWrites = reads, writes
}
