package plc

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninabarzh/power-and-light-sim/config"
	"github.com/ninabarzh/power-and-light-sim/device"
	"github.com/ninabarzh/power-and-light-sim/metric"
	"github.com/ninabarzh/power-and-light-sim/simclock"
	"github.com/ninabarzh/power-and-light-sim/statestore"
)

const dt = 0.1

func scanContext(t *testing.T, store *statestore.Store, name string) *device.ScanContext {
	t.Helper()
	return &device.ScanContext{
		Device: name,
		Store:  store,
		Clock:  simclock.New(simclock.WithMode(simclock.Stepped)),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Delta:  dt,
	}
}

func newStore(t *testing.T, names ...string) *statestore.Store {
	t.Helper()
	store := statestore.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, n := range names {
		require.NoError(t, store.RegisterDevice(statestore.DeviceInfo{
			Name: n, Type: "test", ID: 1, Protocols: []string{"modbus"},
		}))
		require.NoError(t, store.SetOnline(n, true, 0))
	}
	return store
}

func newTurbine(t *testing.T, params map[string]any) *Turbine {
	t.Helper()
	s, err := TurbineFactory(config.DeviceConfig{
		Name: "turbine-1", Type: TypeTurbine, Params: params,
	}, device.Deps{})
	require.NoError(t, err)
	return s.(*Turbine)
}

func scanFor(t *testing.T, s device.Strategy, sc *device.ScanContext, seconds float64) {
	t.Helper()
	for elapsed := 0.0; elapsed < seconds; elapsed += dt {
		require.NoError(t, s.Scan(sc))
	}
}

func TestTurbineSetupSeedsRegisters(t *testing.T) {
	store := newStore(t, "turbine-1")
	turb := newTurbine(t, nil)
	sc := scanContext(t, store, "turbine-1")

	require.NoError(t, turb.Setup(sc))

	mem, err := store.BulkReadMemory("turbine-1")
	require.NoError(t, err)
	assert.Contains(t, mem, statestore.Coil(0))
	assert.Contains(t, mem, statestore.HoldingRegister(0))
	assert.Contains(t, mem, statestore.InputRegister(7))
	assert.False(t, mem[statestore.Coil(2)].AsBool())
}

func TestTurbineRespondsToControlWrites(t *testing.T) {
	store := newStore(t, "turbine-1")
	turb := newTurbine(t, nil)
	sc := scanContext(t, store, "turbine-1")
	require.NoError(t, turb.Setup(sc))

	// Operator enables the unit and commands rated speed through the
	// register map, the way a protocol server would.
	require.NoError(t, store.BulkWriteMemory("turbine-1", statestore.MemoryMap{
		statestore.Coil(0):            statestore.Bool(true),
		statestore.Coil(1):            statestore.Bool(true),
		statestore.HoldingRegister(0): statestore.Int(3600),
	}))

	scanFor(t, turb, sc, 40)

	mem, err := store.BulkReadMemory("turbine-1")
	require.NoError(t, err)
	speed, _ := mem[statestore.InputRegister(0)].IntValue()
	assert.GreaterOrEqual(t, speed, int64(3240), "90%% of rated within 40 s")
	assert.True(t, mem[statestore.DiscreteInput(0)].AsBool(), "running flag set")
	assert.True(t, mem[statestore.DiscreteInput(2)].AsBool(), "governor flag set")

	power, _ := mem[statestore.InputRegister(1)].IntValue()
	assert.Greater(t, power, int64(80), "near-rated output at speed")
}

func TestTurbineDisabledIgnoresSetpoint(t *testing.T) {
	store := newStore(t, "turbine-1")
	turb := newTurbine(t, nil)
	sc := scanContext(t, store, "turbine-1")
	require.NoError(t, turb.Setup(sc))

	// Governor on but enable off: the setpoint must not be honoured.
	require.NoError(t, store.BulkWriteMemory("turbine-1", statestore.MemoryMap{
		statestore.Coil(1):            statestore.Bool(true),
		statestore.HoldingRegister(0): statestore.Int(3600),
	}))

	scanFor(t, turb, sc, 10)

	mem, _ := store.BulkReadMemory("turbine-1")
	speed, _ := mem[statestore.InputRegister(0)].IntValue()
	assert.Zero(t, speed)
}

func TestTurbineEmergencyTripCoil(t *testing.T) {
	store := newStore(t, "turbine-1")
	turb := newTurbine(t, nil)
	sc := scanContext(t, store, "turbine-1")
	require.NoError(t, turb.Setup(sc))

	require.NoError(t, store.BulkWriteMemory("turbine-1", statestore.MemoryMap{
		statestore.Coil(0):            statestore.Bool(true),
		statestore.Coil(1):            statestore.Bool(true),
		statestore.HoldingRegister(0): statestore.Int(3600),
	}))
	scanFor(t, turb, sc, 40)

	require.NoError(t, store.WriteMemory("turbine-1",
		statestore.Coil(2), statestore.Bool(true)))
	scanFor(t, turb, sc, 5)

	mem, _ := store.BulkReadMemory("turbine-1")
	assert.True(t, mem[statestore.DiscreteInput(1)].AsBool(), "trip flag raised")
	speed, _ := mem[statestore.InputRegister(0)].IntValue()
	assert.Less(t, speed, int64(3600), "trip forces deceleration")
}

func newGrid(t *testing.T, params map[string]any, pfCfg config.PowerFlowConfig) *Grid {
	t.Helper()
	gridCfg := config.GridConfig{
		NominalFrequencyHz: 50,
		InertiaMWS:         5000,
		DampingMWPerHz:     1,
	}
	s, err := GridFactory(gridCfg, pfCfg)(config.DeviceConfig{
		Name: "grid-1", Type: TypeGrid, Params: params,
	}, device.Deps{})
	require.NoError(t, err)
	return s.(*Grid)
}

func TestGridAggregatesGenerators(t *testing.T) {
	store := newStore(t, "grid-1", "turbine-1", "turbine-2")
	g := newGrid(t, map[string]any{
		"sources":      []any{"turbine-1", "turbine-2"},
		"base_load_mw": 100,
	}, config.PowerFlowConfig{})
	sc := scanContext(t, store, "grid-1")
	require.NoError(t, g.Setup(sc))

	for _, n := range []string{"turbine-1", "turbine-2"} {
		require.NoError(t, store.WriteMemory(n,
			statestore.InputRegister(1), statestore.Int(50)))
	}

	require.NoError(t, g.Scan(sc))

	mem, _ := store.BulkReadMemory("grid-1")
	gen, _ := mem[statestore.InputRegister(2)].IntValue()
	assert.Equal(t, int64(100), gen)
	freq, _ := mem[statestore.InputRegister(0)].IntValue()
	assert.InDelta(t, 5000, freq, 2, "balanced system holds 50.00 Hz")
}

func TestGridCascadeFromTurbineTrip(t *testing.T) {
	store := newStore(t, "grid-1", "turbine-1")
	g := newGrid(t, map[string]any{
		"sources":      []any{"turbine-1"},
		"base_load_mw": 100,
	}, config.PowerFlowConfig{})
	sc := scanContext(t, store, "grid-1")
	require.NoError(t, g.Setup(sc))

	require.NoError(t, store.WriteMemory("turbine-1",
		statestore.InputRegister(1), statestore.Int(100)))
	scanFor(t, g, sc, 10)
	require.InDelta(t, 50.0, g.Engine().State().FrequencyHz, 0.01)

	// Turbine trips: its record shows the trip flag, generation collapses
	// and frequency must decline.
	require.NoError(t, store.WriteMemory("turbine-1",
		statestore.DiscreteInput(1), statestore.Bool(true)))
	scanFor(t, g, sc, 60)

	assert.Less(t, g.Engine().State().FrequencyHz, 49.0)
	mem, _ := store.BulkReadMemory("grid-1")
	assert.True(t, mem[statestore.DiscreteInput(0)].AsBool(), "under-frequency trip flag")
}

func TestGridOfflineSourceIgnored(t *testing.T) {
	store := newStore(t, "grid-1", "turbine-1")
	g := newGrid(t, map[string]any{
		"sources": []any{"turbine-1", "missing-device"},
	}, config.PowerFlowConfig{})
	sc := scanContext(t, store, "grid-1")
	require.NoError(t, g.Setup(sc))

	require.NoError(t, store.WriteMemory("turbine-1",
		statestore.InputRegister(1), statestore.Int(50)))
	require.NoError(t, store.SetOnline("turbine-1", false, 0))

	require.NoError(t, g.Scan(sc))

	mem, _ := store.BulkReadMemory("grid-1")
	gen, _ := mem[statestore.InputRegister(2)].IntValue()
	assert.Zero(t, gen, "offline generators contribute nothing")
}

func TestGridPowerFlowPublishesLineState(t *testing.T) {
	store := newStore(t, "grid-1", "turbine-1")
	pf := config.PowerFlowConfig{
		Buses: []config.BusConfig{
			{Name: "gen-1", Type: "generator"},
			{Name: "load-1", Type: "load"},
		},
		Lines: []config.LineConfig{
			{Name: "line-1", From: "gen-1", To: "load-1", ReactancePU: 0.1, RatingMVA: 80},
		},
	}
	g := newGrid(t, map[string]any{
		"sources":      []any{"turbine-1"},
		"base_load_mw": 100,
	}, pf)
	sc := scanContext(t, store, "grid-1")
	require.NoError(t, g.Setup(sc))
	require.NotNil(t, g.Flow())

	require.NoError(t, store.WriteMemory("turbine-1",
		statestore.InputRegister(1), statestore.Int(100)))
	require.NoError(t, g.Scan(sc))

	mem, _ := store.BulkReadMemory("grid-1")
	flow, ok := mem["flow_mw.line-1"].FloatValue()
	require.True(t, ok)
	assert.InDelta(t, 100.0, flow, 0.5)
	assert.True(t, mem["overload.line-1"].AsBool(), "100 MW over an 80 MVA line")
}

func TestTurbineTripCountedOnRisingEdge(t *testing.T) {
	m := metric.NewMetricsRegistry().CoreMetrics()
	store := newStore(t, "turbine-1")
	s, err := TurbineFactory(config.DeviceConfig{
		Name: "turbine-1", Type: TypeTurbine,
	}, device.Deps{Metrics: m})
	require.NoError(t, err)
	turb := s.(*Turbine)
	sc := scanContext(t, store, "turbine-1")
	require.NoError(t, turb.Setup(sc))

	require.NoError(t, store.WriteMemory("turbine-1",
		statestore.Coil(2), statestore.Bool(true)))
	scanFor(t, turb, sc, 2)

	trips := testutil.ToFloat64(m.PhysicsTrips.WithLabelValues("turbine", "emergency"))
	assert.Equal(t, 1.0, trips, "trip held across scans counts once")

	// Clearing and re-asserting the coil is a second trip event.
	require.NoError(t, store.WriteMemory("turbine-1",
		statestore.Coil(2), statestore.Bool(false)))
	require.NoError(t, turb.Scan(sc))
	require.NoError(t, store.WriteMemory("turbine-1",
		statestore.Coil(2), statestore.Bool(true)))
	require.NoError(t, turb.Scan(sc))

	trips = testutil.ToFloat64(m.PhysicsTrips.WithLabelValues("turbine", "emergency"))
	assert.Equal(t, 2.0, trips)
}

func TestTurbineClampEventsExported(t *testing.T) {
	m := metric.NewMetricsRegistry().CoreMetrics()
	store := newStore(t, "turbine-1")
	s, err := TurbineFactory(config.DeviceConfig{
		Name: "turbine-1", Type: TypeTurbine,
	}, device.Deps{Metrics: m})
	require.NoError(t, err)
	turb := s.(*Turbine)
	sc := scanContext(t, store, "turbine-1")
	require.NoError(t, turb.Setup(sc))

	require.NoError(t, store.BulkWriteMemory("turbine-1", statestore.MemoryMap{
		statestore.Coil(0):            statestore.Bool(true),
		statestore.Coil(1):            statestore.Bool(true),
		statestore.HoldingRegister(0): statestore.Int(100000),
	}))

	// One absurdly long step drives the integration past its sane bounds.
	sc.Delta = 1e6
	require.NoError(t, turb.Scan(sc))

	clamps := testutil.ToFloat64(m.PhysicsClamps.WithLabelValues("turbine", "shaft_speed_rpm"))
	assert.GreaterOrEqual(t, clamps, 1.0, "runaway speed clamped and counted")
}

func TestGridTripCountedOnRisingEdge(t *testing.T) {
	m := metric.NewMetricsRegistry().CoreMetrics()
	store := newStore(t, "grid-1")
	gridCfg := config.GridConfig{
		NominalFrequencyHz: 50,
		InertiaMWS:         5000,
		DampingMWPerHz:     1,
	}
	s, err := GridFactory(gridCfg, config.PowerFlowConfig{})(config.DeviceConfig{
		Name: "grid-1", Type: TypeGrid,
		Params: map[string]any{"base_load_mw": 100},
	}, device.Deps{Metrics: m})
	require.NoError(t, err)
	g := s.(*Grid)
	sc := scanContext(t, store, "grid-1")
	require.NoError(t, g.Setup(sc))

	// No generation against a 100 MW load: frequency declines until the
	// under-frequency protection asserts, then stays asserted.
	scanFor(t, g, sc, 120)
	require.True(t, g.Engine().State().UnderFrequencyTrip)

	trips := testutil.ToFloat64(m.PhysicsTrips.WithLabelValues("grid", "under_frequency"))
	assert.Equal(t, 1.0, trips, "held trip counts once")
}
