package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ninabarzh/power-and-light-sim/metric"
)

// engineMetrics holds Prometheus metrics for run lifecycle operations. A
// nil receiver disables all recording.
type engineMetrics struct {
	starts *prometheus.CounterVec // by device and status
	stops  *prometheus.CounterVec // by device and status

	configuredDevices prometheus.Gauge
	runningDevices    prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics with the registry
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &engineMetrics{
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powersim",
			Subsystem: "engine",
			Name:      "device_starts_total",
			Help:      "Total number of device start operations",
		}, []string{"device", "status"}),

		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "powersim",
			Subsystem: "engine",
			Name:      "device_stops_total",
			Help:      "Total number of device stop operations",
		}, []string{"device", "status"}),

		configuredDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "powersim",
			Subsystem: "engine",
			Name:      "configured_devices",
			Help:      "Number of devices built from the run configuration",
		}),

		runningDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "powersim",
			Subsystem: "engine",
			Name:      "running_devices",
			Help:      "Number of devices currently running scan loops",
		}),
	}

	if err := registry.RegisterCounterVec("engine", "device_starts", m.starts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "device_stops", m.stops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "configured_devices", m.configuredDevices); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "running_devices", m.runningDevices); err != nil {
		return nil, err
	}

	return m, nil
}

// recordStart records one device start attempt
func (m *engineMetrics) recordStart(device string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.starts.WithLabelValues(device, status).Inc()
	if success {
		m.runningDevices.Inc()
	}
}

// recordStop records one device stop attempt
func (m *engineMetrics) recordStop(device string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.stops.WithLabelValues(device, status).Inc()
	if success {
		m.runningDevices.Dec()
	}
}

// setConfiguredDevices sets the configured device count gauge
func (m *engineMetrics) setConfiguredDevices(count float64) {
	if m != nil {
		m.configuredDevices.Set(count)
	}
}
