package health

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusConstructors(t *testing.T) {
	tests := []struct {
		name      string
		status    Status
		healthy   bool
		degraded  bool
		unhealthy bool
	}{
		{"healthy", NewHealthy("t1", "running"), true, false, false},
		{"degraded", NewDegraded("t1", "faults rising"), false, true, false},
		{"unhealthy", NewUnhealthy("t1", "faulted"), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.healthy, tt.status.IsHealthy())
			assert.Equal(t, tt.degraded, tt.status.IsDegraded())
			assert.Equal(t, tt.unhealthy, tt.status.IsUnhealthy())
			assert.Equal(t, "t1", tt.status.Component)
			assert.False(t, tt.status.Timestamp.IsZero())
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, "healthy"},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, "healthy"},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, "degraded"},
		{"one unhealthy", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("run", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestMonitorUpdateAndGet(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("turbine-1", "running")
	m.UpdateUnhealthy("turbine-2", "faulted")

	st, ok := m.Get("turbine-1")
	require.True(t, ok)
	assert.True(t, st.IsHealthy())

	_, ok = m.Get("unknown")
	assert.False(t, ok)
	assert.Equal(t, 2, m.Count())
}

func TestMonitorAggregateIsStable(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("b-device", "")
	m.UpdateUnhealthy("a-device", "faulted")

	agg := m.AggregateHealth("run")
	assert.Equal(t, "unhealthy", agg.Status)
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "a-device", agg.SubStatuses[0].Component)
	assert.Equal(t, "b-device", agg.SubStatuses[1].Component)
}

func TestMonitorRemove(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("t1", "")
	m.Remove("t1")
	_, ok := m.Get("t1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
}

func TestMonitorConcurrentUpdates(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.UpdateHealthy("shared", "ok")
			m.AggregateHealth("run")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, m.Count())
}

func TestWithMetrics(t *testing.T) {
	st := NewHealthy("t1", "").WithMetrics(&Metrics{ScanCycles: 10, ScanFaults: 1})
	require.NotNil(t, st.Metrics)
	assert.Equal(t, int64(10), st.Metrics.ScanCycles)
}
