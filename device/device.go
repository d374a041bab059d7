package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ninabarzh/power-and-light-sim/config"
	"github.com/ninabarzh/power-and-light-sim/errors"
	"github.com/ninabarzh/power-and-light-sim/statestore"
)

// ScanState is the lifecycle state of a device's scan cycle
type ScanState int32

// Scan cycle states. Faulted is terminal until Reset.
const (
	Stopped ScanState = iota
	Initializing
	Running
	Stopping
	Faulted
)

func (s ScanState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats is a snapshot of a device's scan counters
type Stats struct {
	State     ScanState
	Cycles    int64
	Faults    int64
	LastError error
}

// Device drives one strategy at its configured scan interval
type Device struct {
	name         string
	info         statestore.DeviceInfo
	scanInterval time.Duration
	strategy     Strategy
	deps         Deps
	logger       *slog.Logger

	state    atomic.Int32
	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	mu       sync.Mutex
	wg       sync.WaitGroup

	cycles atomic.Int64
	faults atomic.Int64

	faultMu  sync.Mutex
	faultErr error

	// lastSimTime is touched only by the scan goroutine.
	lastSimTime float64
}

// New creates a device from its configuration and strategy
func New(cfg config.DeviceConfig, strategy Strategy, deps Deps) (*Device, error) {
	if cfg.Name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Device", "New", "device name must not be empty")
	}
	if strategy == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Device", "New", "strategy must not be nil")
	}
	if deps.Store == nil || deps.Clock == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Device", "New", "store and clock must be set")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device", cfg.Name, "type", cfg.Type)

	interval := cfg.ScanInterval.Std()
	if interval <= 0 {
		interval = config.DefaultScanInterval
	}

	return &Device{
		name: cfg.Name,
		info: statestore.DeviceInfo{
			Name:      cfg.Name,
			Type:      cfg.Type,
			ID:        cfg.ID,
			Protocols: cfg.Protocols,
		},
		scanInterval: interval,
		strategy:     strategy,
		deps:         deps,
		logger:       logger,
	}, nil
}

// Name returns the device name
func (d *Device) Name() string { return d.name }

// State returns the current scan state
func (d *Device) State() ScanState { return ScanState(d.state.Load()) }

// Stats returns a snapshot of the scan counters
func (d *Device) Stats() Stats {
	d.faultMu.Lock()
	lastErr := d.faultErr
	d.faultMu.Unlock()
	return Stats{
		State:     d.State(),
		Cycles:    d.cycles.Load(),
		Faults:    d.faults.Load(),
		LastError: lastErr,
	}
}

// Initialize registers the device in the state store. Idempotent; an
// existing record keeps its memory map.
func (d *Device) Initialize() error {
	if err := d.deps.Store.RegisterDevice(d.info); err != nil {
		return errors.Wrap(err, "Device", "Initialize", "register in state store")
	}
	d.setState(Stopped)
	return nil
}

// Start begins the scan loop. Starting a faulted device fails until Reset
// clears the fault.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return nil // already running, idempotent
	}
	if d.State() == Stopping {
		return errors.WrapTransient(errors.ErrShuttingDown,
			"Device", "Start", "wait for stop to complete")
	}
	if d.State() == Faulted {
		d.faultMu.Lock()
		lastErr := d.faultErr
		d.faultMu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrDeviceFaulted, lastErr),
			"Device", "Start", "reset required before restart")
	}

	d.setState(Initializing)
	sc := d.scanContext(0)
	if err := d.runProtected(func() error { return d.strategy.Setup(sc) }); err != nil {
		d.fault(err)
		return errors.Wrap(err, "Device", "Start", "strategy setup")
	}

	d.shutdown = make(chan struct{})
	d.done = make(chan struct{})
	d.running.Store(true)
	d.lastSimTime = d.deps.Clock.Now()
	d.setState(Running)

	if err := d.deps.Store.SetOnline(d.name, true, d.lastSimTime); err != nil {
		d.logger.Warn("could not mark device online", "error", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.done != nil {
				select {
				case <-d.done:
				default:
					close(d.done)
				}
			}
		}()
		d.scanLoop(ctx)
	}()

	d.logger.Info("device started", "scan_interval", d.scanInterval)
	return nil
}

// Stop halts the scan loop and runs strategy teardown. An in-flight store
// write already committed is retained.
func (d *Device) Stop(timeout time.Duration) error {
	if !d.running.Load() {
		return nil
	}
	d.running.Store(false)
	d.setState(Stopping)

	d.mu.Lock()
	if d.shutdown != nil {
		select {
		case <-d.shutdown:
		default:
			close(d.shutdown)
		}
	}
	done := d.done
	d.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			return errors.WrapTransient(
				fmt.Errorf("stop timeout after %v", timeout),
				"Device", "Stop", "graceful shutdown")
		}
	}

	sc := d.scanContext(0)
	if err := d.runProtected(func() error { return d.strategy.Teardown(sc) }); err != nil {
		d.logger.Warn("strategy teardown failed", "error", err)
	}
	if err := d.deps.Store.SetOnline(d.name, false, d.deps.Clock.Now()); err != nil {
		d.logger.Warn("could not mark device offline", "error", err)
	}

	d.setState(Stopped)
	d.logger.Info("device stopped")
	return nil
}

// Reset clears a fault so the device can start again. Counters are kept.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.State() {
	case Faulted:
		d.faultMu.Lock()
		d.faultErr = nil
		d.faultMu.Unlock()
		d.setState(Stopped)
		d.logger.Info("device fault reset")
		return nil
	case Stopped:
		return nil
	default:
		return errors.WrapInvalid(
			fmt.Errorf("cannot reset device in state %s", d.State()),
			"Device", "Reset", "stop the device first")
	}
}

// scanLoop ticks at the configured interval until shutdown or fault
func (d *Device) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(d.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case <-ticker.C:
			if !d.runScan() {
				return
			}
		}
	}
}

// runScan executes one cycle. Returns false when the device has faulted
// and the loop must exit. While the clock is paused the cycle is skipped
// entirely so a frozen world does not advance counters or telemetry.
func (d *Device) runScan() bool {
	if d.deps.Clock.IsPaused() {
		return true
	}

	started := time.Now()
	simNow := d.deps.Clock.Now()
	delta := d.deps.Clock.Delta(d.lastSimTime)
	d.lastSimTime = simNow

	sc := d.scanContext(delta)
	sc.SimTime = simNow

	err := d.runProtected(func() error { return d.strategy.Scan(sc) })
	if err != nil {
		d.faults.Add(1)
		if d.deps.Metrics != nil {
			d.deps.Metrics.RecordScanFault(d.name)
		}
		_ = d.deps.Store.AddMetadata(d.name, map[string]int64{"error_count": 1}, simNow)

		if errors.IsTransient(err) {
			d.logger.Warn("scan cycle failed, retrying next tick", "error", err)
			return true
		}
		d.fault(err)
		d.running.Store(false)
		_ = d.deps.Store.SetOnline(d.name, false, simNow)
		return false
	}

	d.cycles.Add(1)
	_ = d.deps.Store.AddMetadata(d.name, map[string]int64{"scan_count": 1}, simNow)
	if d.deps.Metrics != nil {
		d.deps.Metrics.RecordScanCycle(d.name)
		d.deps.Metrics.RecordScanDuration(d.name, time.Since(started).Seconds())
	}
	return true
}

// runProtected converts a strategy panic into a fatal classified error
func (d *Device) runProtected(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(
				fmt.Errorf("%w: panic: %v", errors.ErrScanFailed, r),
				"Device", "Scan", "strategy panicked")
		}
	}()
	return fn()
}

// fault records the error and moves the device to the terminal state
func (d *Device) fault(err error) {
	d.faultMu.Lock()
	d.faultErr = err
	d.faultMu.Unlock()
	d.setState(Faulted)
	d.logger.Error("device faulted", "error", err)
}

// scanContext builds the per-cycle capability set
func (d *Device) scanContext(delta float64) *ScanContext {
	return &ScanContext{
		Device: d.name,
		Store:  d.deps.Store,
		Clock:  d.deps.Clock,
		Logger: d.logger,
		Delta:  delta,
	}
}

// setState updates the lifecycle state and its gauge
func (d *Device) setState(s ScanState) {
	d.state.Store(int32(s))
	if d.deps.Metrics != nil {
		d.deps.Metrics.RecordDeviceState(d.name, int(s))
	}
}
