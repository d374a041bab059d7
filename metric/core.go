package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all core simulation metrics (not device-specific)
type Metrics struct {
	// Device engine metrics
	ScanCycles    *prometheus.CounterVec
	ScanFaults    *prometheus.CounterVec
	ScanDuration  *prometheus.HistogramVec
	DeviceState   *prometheus.GaugeVec
	DevicesOnline prometheus.Gauge

	// Time authority metrics
	SimSeconds prometheus.Gauge
	ClockSpeed prometheus.Gauge

	// Physics metrics
	PhysicsClamps *prometheus.CounterVec
	PhysicsTrips  *prometheus.CounterVec

	// State store metrics
	StoreReads  prometheus.Counter
	StoreWrites prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core simulation metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ScanCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "powersim",
				Subsystem: "device",
				Name:      "scan_cycles_total",
				Help:      "Total number of completed scan cycles",
			},
			[]string{"device"},
		),

		ScanFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "powersim",
				Subsystem: "device",
				Name:      "scan_faults_total",
				Help:      "Total number of faulted scan cycles",
			},
			[]string{"device"},
		),

		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "powersim",
				Subsystem: "device",
				Name:      "scan_duration_seconds",
				Help:      "Wall-clock duration of one scan cycle",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"device"},
		),

		DeviceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "powersim",
				Subsystem: "device",
				Name:      "state",
				Help:      "Device lifecycle state (0=stopped, 1=initializing, 2=running, 3=stopping, 4=faulted)",
			},
			[]string{"device"},
		),

		DevicesOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "powersim",
				Subsystem: "device",
				Name:      "online",
				Help:      "Number of devices currently online",
			},
		),

		SimSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "powersim",
				Subsystem: "clock",
				Name:      "sim_seconds",
				Help:      "Current simulated time in seconds",
			},
		),

		ClockSpeed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "powersim",
				Subsystem: "clock",
				Name:      "speed_multiplier",
				Help:      "Current clock speed multiplier (0 while paused)",
			},
		),

		PhysicsClamps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "powersim",
				Subsystem: "physics",
				Name:      "clamps_total",
				Help:      "Total number of physics values clamped to a sane bound",
			},
			[]string{"engine", "quantity"},
		),

		PhysicsTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "powersim",
				Subsystem: "physics",
				Name:      "trips_total",
				Help:      "Total number of protection trips raised",
			},
			[]string{"engine", "kind"},
		),

		StoreReads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "powersim",
				Subsystem: "store",
				Name:      "reads_total",
				Help:      "Total number of state store read operations",
			},
		),

		StoreWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "powersim",
				Subsystem: "store",
				Name:      "writes_total",
				Help:      "Total number of state store write operations",
			},
		),
	}
}

// RecordScanCycle increments the completed cycle counter for a device
func (m *Metrics) RecordScanCycle(device string) {
	m.ScanCycles.WithLabelValues(device).Inc()
}

// RecordScanFault increments the fault counter for a device
func (m *Metrics) RecordScanFault(device string) {
	m.ScanFaults.WithLabelValues(device).Inc()
}

// RecordScanDuration records the wall-clock duration of one scan cycle
func (m *Metrics) RecordScanDuration(device string, seconds float64) {
	m.ScanDuration.WithLabelValues(device).Observe(seconds)
}

// RecordDeviceState updates the lifecycle state gauge for a device
func (m *Metrics) RecordDeviceState(device string, state int) {
	m.DeviceState.WithLabelValues(device).Set(float64(state))
}

// RecordSimTime updates the simulated time and clock speed gauges
func (m *Metrics) RecordSimTime(simSeconds, speed float64) {
	m.SimSeconds.Set(simSeconds)
	m.ClockSpeed.Set(speed)
}

// RecordPhysicsClamp increments the clamp counter for one engine quantity
func (m *Metrics) RecordPhysicsClamp(engine, quantity string) {
	m.PhysicsClamps.WithLabelValues(engine, quantity).Inc()
}

// RecordPhysicsTrip increments the protection trip counter
func (m *Metrics) RecordPhysicsTrip(engine, kind string) {
	m.PhysicsTrips.WithLabelValues(engine, kind).Inc()
}

// RecordStoreOps adds to the state store operation counters
func (m *Metrics) RecordStoreOps(reads, writes float64) {
	if reads > 0 {
		m.StoreReads.Add(reads)
	}
	if writes > 0 {
		m.StoreWrites.Add(writes)
	}
}
