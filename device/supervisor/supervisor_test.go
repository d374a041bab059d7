package supervisor

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninabarzh/power-and-light-sim/config"
	"github.com/ninabarzh/power-and-light-sim/device"
	"github.com/ninabarzh/power-and-light-sim/simclock"
	"github.com/ninabarzh/power-and-light-sim/statestore"
)

func testConfig(tags, alarms []any) config.DeviceConfig {
	return config.DeviceConfig{
		Name: "scada-1",
		Type: Type,
		Params: map[string]any{
			"tags":   tags,
			"alarms": alarms,
		},
	}
}

func turbineTags() []any {
	return []any{
		map[string]any{
			"name":    "turbine_1.speed",
			"device":  "turbine-plc-1",
			"address": statestore.InputRegister(0),
		},
		map[string]any{
			"name":    "turbine_1.bearing_temp",
			"device":  "turbine-plc-1",
			"address": statestore.InputRegister(5),
		},
	}
}

func turbineAlarms() []any {
	return []any{
		map[string]any{
			"name":     "turbine_speed_high",
			"tag":      "turbine_1.speed",
			"high":     3700.0,
			"low":      0.0,
			"priority": 1,
		},
		map[string]any{
			"name":     "bearing_temp_high",
			"tag":      "turbine_1.bearing_temp",
			"high":     250.0,
			"low":      0.0,
			"priority": 1,
		},
	}
}

func newSupervisor(t *testing.T, cfg config.DeviceConfig) *Supervisor {
	t.Helper()
	strat, err := Factory(cfg, device.Deps{})
	require.NoError(t, err)
	return strat.(*Supervisor)
}

func newStore(t *testing.T) *statestore.Store {
	t.Helper()
	store := statestore.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, store.RegisterDevice(statestore.DeviceInfo{Name: "scada-1", Type: Type}))
	return store
}

func scanContext(t *testing.T, store *statestore.Store) *device.ScanContext {
	t.Helper()
	return &device.ScanContext{
		Device:  "scada-1",
		Store:   store,
		Clock:   simclock.New(simclock.WithMode(simclock.Stepped)),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		SimTime: 10,
		Delta:   0.1,
	}
}

func seedTurbine(t *testing.T, store *statestore.Store, speed, bearing int64) {
	t.Helper()
	require.NoError(t, store.RegisterDevice(statestore.DeviceInfo{Name: "turbine-plc-1", Type: "turbine_plc"}))
	require.NoError(t, store.SetOnline("turbine-plc-1", true, 0))
	require.NoError(t, store.BulkWriteMemory("turbine-plc-1", statestore.MemoryMap{
		statestore.InputRegister(0): statestore.Int(speed),
		statestore.InputRegister(5): statestore.Int(bearing),
	}))
}

func TestFactoryRequiresTags(t *testing.T) {
	_, err := Factory(testConfig(nil, nil), device.Deps{})
	assert.Error(t, err)
}

func TestFactoryRejectsAlarmOnUnknownTag(t *testing.T) {
	alarms := []any{
		map[string]any{"name": "orphan", "tag": "no_such_tag", "high": 1.0},
	}
	_, err := Factory(testConfig(turbineTags(), alarms), device.Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tag")
}

func TestPollsGoodTags(t *testing.T) {
	store := newStore(t)
	sup := newSupervisor(t, testConfig(turbineTags(), nil))
	sc := scanContext(t, store)
	require.NoError(t, sup.Setup(sc))
	seedTurbine(t, store, 3600, 180)

	require.NoError(t, sup.Scan(sc))

	tag, ok := sup.Tag("turbine_1.speed")
	require.True(t, ok)
	assert.Equal(t, QualityGood, tag.Quality)
	assert.InDelta(t, 3600, tag.Value, 0.01)

	// published into own memory map
	val, found, err := store.ReadMemory("scada-1", "tag.turbine_1.speed")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 3600, val.AsFloat(), 0.01)
	q, found, err := store.ReadMemory("scada-1", "quality.turbine_1.speed")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(QualityGood), q.AsInt())
}

func TestOfflineSourceMarksBadAndKeepsLastValue(t *testing.T) {
	store := newStore(t)
	sup := newSupervisor(t, testConfig(turbineTags(), nil))
	sc := scanContext(t, store)
	require.NoError(t, sup.Setup(sc))
	seedTurbine(t, store, 3600, 180)
	require.NoError(t, sup.Scan(sc))

	require.NoError(t, store.SetOnline("turbine-plc-1", false, 20))
	require.NoError(t, sup.Scan(sc))

	tag, ok := sup.Tag("turbine_1.speed")
	require.True(t, ok)
	assert.Equal(t, QualityBad, tag.Quality)
	assert.InDelta(t, 3600, tag.Value, 0.01)
}

func TestMissingAddressIsUncertain(t *testing.T) {
	store := newStore(t)
	tags := []any{
		map[string]any{
			"name":    "turbine_1.phantom",
			"device":  "turbine-plc-1",
			"address": statestore.InputRegister(99),
		},
	}
	sup := newSupervisor(t, testConfig(tags, nil))
	sc := scanContext(t, store)
	require.NoError(t, sup.Setup(sc))
	seedTurbine(t, store, 3600, 180)

	require.NoError(t, sup.Scan(sc))

	tag, ok := sup.Tag("turbine_1.phantom")
	require.True(t, ok)
	assert.Equal(t, QualityUncertain, tag.Quality)
}

func TestHighAlarmRaisesAndClears(t *testing.T) {
	store := newStore(t)
	sup := newSupervisor(t, testConfig(turbineTags(), turbineAlarms()))
	sc := scanContext(t, store)
	require.NoError(t, sup.Setup(sc))
	seedTurbine(t, store, 3900, 180)

	require.NoError(t, sup.Scan(sc))

	alarms := sup.ActiveAlarms()
	require.Len(t, alarms, 1)
	assert.Equal(t, "turbine_speed_high", alarms[0].Name)
	assert.Equal(t, "HIGH", alarms[0].Kind)
	assert.Equal(t, 1, alarms[0].Priority)
	assert.InDelta(t, 3900, alarms[0].Value, 0.01)
	assert.InDelta(t, 10, alarms[0].RaisedAt, 0.01)

	val, _, err := store.ReadMemory("scada-1", AddrActiveAlarms)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val.AsInt())

	// back to normal clears the alarm
	require.NoError(t, store.WriteMemory("turbine-plc-1", statestore.InputRegister(0), statestore.Int(3600)))
	require.NoError(t, sup.Scan(sc))
	assert.Empty(t, sup.ActiveAlarms())
	val, _, err = store.ReadMemory("scada-1", AddrActiveAlarms)
	require.NoError(t, err)
	assert.Equal(t, int64(0), val.AsInt())
}

func TestBadQualityTagDoesNotAlarm(t *testing.T) {
	store := newStore(t)
	sup := newSupervisor(t, testConfig(turbineTags(), turbineAlarms()))
	sc := scanContext(t, store)
	require.NoError(t, sup.Setup(sc))
	// source never registered, every tag is BAD
	require.NoError(t, sup.Scan(sc))
	assert.Empty(t, sup.ActiveAlarms())
}

func TestAcknowledgeReducesUnackedCount(t *testing.T) {
	store := newStore(t)
	sup := newSupervisor(t, testConfig(turbineTags(), turbineAlarms()))
	sc := scanContext(t, store)
	require.NoError(t, sup.Setup(sc))
	seedTurbine(t, store, 3900, 300)

	require.NoError(t, sup.Scan(sc))
	require.Len(t, sup.ActiveAlarms(), 2)

	require.True(t, sup.Acknowledge("turbine_speed_high"))
	assert.False(t, sup.Acknowledge("no-such-alarm"))
	require.NoError(t, sup.Scan(sc))

	active, _, err := store.ReadMemory("scada-1", AddrActiveAlarms)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active.AsInt())
	unacked, _, err := store.ReadMemory("scada-1", AddrUnackedAlarms)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unacked.AsInt())
}

func TestAlarmValueTracksWhileActive(t *testing.T) {
	store := newStore(t)
	sup := newSupervisor(t, testConfig(turbineTags(), turbineAlarms()))
	sc := scanContext(t, store)
	require.NoError(t, sup.Setup(sc))
	seedTurbine(t, store, 3800, 180)
	require.NoError(t, sup.Scan(sc))

	require.NoError(t, store.WriteMemory("turbine-plc-1", statestore.InputRegister(0), statestore.Int(3950)))
	require.NoError(t, sup.Scan(sc))

	alarms := sup.ActiveAlarms()
	require.Len(t, alarms, 1)
	assert.InDelta(t, 3950, alarms[0].Value, 0.01)
}
