package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ninabarzh/power-and-light-sim/config"
	"github.com/ninabarzh/power-and-light-sim/errors"
	"github.com/ninabarzh/power-and-light-sim/simclock"
	"github.com/ninabarzh/power-and-light-sim/statestore"
)

// Snapshot is the JSON envelope published for one device
type Snapshot struct {
	RunID    string               `json:"run_id"`
	Device   string               `json:"device"`
	Type     string               `json:"type"`
	Online   bool                 `json:"online"`
	SimTime  float64              `json:"sim_time"`
	Memory   statestore.MemoryMap `json:"memory"`
	Metadata map[string]int64     `json:"metadata,omitempty"`
}

// sender abstracts the NATS connection so tests can capture payloads
// without a broker.
type sender interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher snapshots every device at a fixed wall interval and publishes
// each snapshot to its own subject.
type Publisher struct {
	cfg    config.TelemetryConfig
	runID  string
	store  *statestore.Store
	clock  *simclock.Clock
	logger *slog.Logger

	mu   sync.Mutex
	conn sender

	running   atomic.Bool
	published atomic.Int64
	failed    atomic.Int64
	shutdown  chan struct{}
	done      chan struct{}
}

// New creates a publisher bound to one run's store and clock
func New(
	cfg config.TelemetryConfig,
	runID string,
	store *statestore.Store,
	clock *simclock.Clock,
	logger *slog.Logger,
) (*Publisher, error) {
	if store == nil || clock == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Publisher", "New", "store and clock must not be nil")
	}
	if cfg.Interval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Publisher", "New", "publish interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		runID:  runID,
		store:  store,
		clock:  clock,
		logger: logger.With("component", "telemetry"),
	}, nil
}

// Initialize connects to the NATS server
func (p *Publisher) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return nil
	}

	conn, err := nats.Connect(p.cfg.URL,
		nats.Name("powersim-telemetry-"+p.runID),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			p.logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "Publisher", "Initialize", "connect to NATS")
	}

	p.conn = conn
	p.logger.Info("telemetry connected", "url", p.cfg.URL)
	return nil
}

// setSender injects a sender for tests
func (p *Publisher) setSender(s sender) {
	p.mu.Lock()
	p.conn = s
	p.mu.Unlock()
}

// Start launches the snapshot loop
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: no connection", errors.ErrNotStarted),
			"Publisher", "Start", "call Initialize first")
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}

	p.shutdown = make(chan struct{})
	p.done = make(chan struct{})
	go p.publishLoop(ctx)

	p.logger.Info("telemetry started", "interval", p.cfg.Interval.Std())
	return nil
}

// Stop halts the loop and drains the connection
func (p *Publisher) Stop(timeout time.Duration) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}

	close(p.shutdown)
	select {
	case <-p.done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"Publisher", "Stop", "graceful shutdown")
	}

	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn != nil {
		if err := conn.Drain(); err != nil {
			p.logger.Warn("drain failed", "error", err)
		}
	}

	p.logger.Info("telemetry stopped",
		"published", p.published.Load(), "failed", p.failed.Load())
	return nil
}

// Published returns the count of snapshots successfully published
func (p *Publisher) Published() int64 { return p.published.Load() }

func (p *Publisher) publishLoop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.publishAll()
		}
	}
}

// publishAll snapshots and publishes every registered device. Publish
// failures are counted and logged, never fatal; the broker may be away
// for a while.
func (p *Publisher) publishAll() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}

	simTime := p.clock.Now()
	for _, name := range p.store.ListDevices() {
		rec, ok := p.store.GetDevice(name)
		if !ok {
			continue
		}
		snap := Snapshot{
			RunID:    p.runID,
			Device:   rec.Name,
			Type:     rec.Type,
			Online:   rec.Online,
			SimTime:  simTime,
			Memory:   rec.Memory,
			Metadata: rec.Metadata,
		}
		data, err := json.Marshal(snap)
		if err != nil {
			p.failed.Add(1)
			p.logger.Error("snapshot marshal failed", "device", name, "error", err)
			continue
		}

		subject := p.cfg.SubjectPrefix + "." + rec.Name
		if err := conn.Publish(subject, data); err != nil {
			p.failed.Add(1)
			p.logger.Warn("publish failed", "device", name, "subject", subject, "error", err)
			continue
		}
		p.published.Add(1)
	}
}
