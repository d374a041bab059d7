package statestore

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninabarzh/power-and-light-sim/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(nil)
}

func registerTurbinePLC(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.RegisterDevice(DeviceInfo{
		Name:      "turbine_plc_1",
		Type:      "plc",
		ID:        1,
		Protocols: []string{"modbus", "opcua"},
	}))
}

func TestRegisterDeviceIdempotent(t *testing.T) {
	s := newTestStore(t)
	registerTurbinePLC(t, s)

	// Seed some memory, then re-register with a different declaration.
	require.NoError(t, s.WriteMemory("turbine_plc_1", InputRegister(0), Int(3600)))
	require.NoError(t, s.RegisterDevice(DeviceInfo{
		Name:      "turbine_plc_1",
		Type:      "rtu",
		ID:        9,
		Protocols: []string{"iec104"},
	}))

	rec, ok := s.GetDevice("turbine_plc_1")
	require.True(t, ok)
	assert.Equal(t, "rtu", rec.Type)
	assert.Equal(t, 9, rec.ID)
	assert.Equal(t, []string{"iec104"}, rec.Protocols)

	// Memory map survives re-registration.
	v, found, err := s.ReadMemory("turbine_plc_1", InputRegister(0))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(3600), v.AsInt())
}

func TestRegisterDeviceRejectsEmptyName(t *testing.T) {
	s := newTestStore(t)
	err := s.RegisterDevice(DeviceInfo{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestReadMemoryUnknownAddressIsAbsentNotError(t *testing.T) {
	s := newTestStore(t)
	registerTurbinePLC(t, s)

	_, found, err := s.ReadMemory("turbine_plc_1", HoldingRegister(42))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEmptyAddressRejected(t *testing.T) {
	s := newTestStore(t)
	registerTurbinePLC(t, s)

	err := s.WriteMemory("turbine_plc_1", "", Bool(true))
	assert.ErrorIs(t, err, errors.ErrAddressInvalid)

	err = s.BulkWriteMemory("turbine_plc_1", MemoryMap{
		Coil(0): Bool(true),
		"":      Int(1),
	})
	assert.ErrorIs(t, err, errors.ErrAddressInvalid)

	// The rejected batch must not have been partially applied.
	mem, readErr := s.BulkReadMemory("turbine_plc_1")
	require.NoError(t, readErr)
	assert.NotContains(t, mem, Coil(0))
}

func TestUnknownDeviceErrors(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.ReadMemory("ghost", Coil(0))
	assert.ErrorIs(t, err, errors.ErrUnknownDevice)

	err = s.WriteMemory("ghost", Coil(0), Bool(true))
	assert.ErrorIs(t, err, errors.ErrUnknownDevice)

	_, err = s.BulkReadMemory("ghost")
	assert.ErrorIs(t, err, errors.ErrUnknownDevice)

	err = s.BulkWriteMemory("ghost", MemoryMap{Coil(0): Bool(true)})
	assert.ErrorIs(t, err, errors.ErrUnknownDevice)

	_, ok := s.GetDevice("ghost")
	assert.False(t, ok)
}

func TestBulkRoundTripLaw(t *testing.T) {
	s := newTestStore(t)
	registerTurbinePLC(t, s)

	prior := MemoryMap{
		Coil(0):            Bool(true),
		HoldingRegister(0): Int(3600),
	}
	require.NoError(t, s.BulkWriteMemory("turbine_plc_1", prior))

	updates := MemoryMap{
		HoldingRegister(0):   Int(3000), // overwrite
		InputRegister(0):     Int(2987),
		"ns=2;s=ActualSpeed": Float(2987.4), // tag-style key
		"D:40001":            Float(12.5),   // type:address key
	}
	require.NoError(t, s.BulkWriteMemory("turbine_plc_1", updates))

	got, err := s.BulkReadMemory("turbine_plc_1")
	require.NoError(t, err)

	want := prior.Clone()
	want.Merge(updates)
	require.Len(t, got, len(want))
	for addr, v := range want {
		assert.True(t, got[addr].Equal(v), "address %s", addr)
	}
}

func TestBulkReadReturnsIndependentSnapshot(t *testing.T) {
	s := newTestStore(t)
	registerTurbinePLC(t, s)
	require.NoError(t, s.WriteMemory("turbine_plc_1", Coil(0), Bool(false)))

	snap, err := s.BulkReadMemory("turbine_plc_1")
	require.NoError(t, err)

	// Mutating the snapshot must not leak into the store.
	snap[Coil(0)] = Bool(true)
	v, _, err := s.ReadMemory("turbine_plc_1", Coil(0))
	require.NoError(t, err)
	assert.False(t, v.AsBool())
}

func TestLastWriterWins(t *testing.T) {
	s := newTestStore(t)
	registerTurbinePLC(t, s)

	require.NoError(t, s.WriteMemory("turbine_plc_1", HoldingRegister(0), Int(1)))
	require.NoError(t, s.WriteMemory("turbine_plc_1", HoldingRegister(0), Int(2)))

	v, _, err := s.ReadMemory("turbine_plc_1", HoldingRegister(0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.AsInt())
}

func TestOnlineAndMetadata(t *testing.T) {
	s := newTestStore(t)
	registerTurbinePLC(t, s)

	require.NoError(t, s.SetOnline("turbine_plc_1", true, 1.5))
	require.NoError(t, s.AddMetadata("turbine_plc_1", map[string]int64{"scan_cycles": 1}, 2.0))
	require.NoError(t, s.AddMetadata("turbine_plc_1", map[string]int64{"scan_cycles": 1, "scan_faults": 1}, 2.5))

	rec, ok := s.GetDevice("turbine_plc_1")
	require.True(t, ok)
	assert.True(t, rec.Online)
	assert.Equal(t, int64(2), rec.Metadata["scan_cycles"])
	assert.Equal(t, int64(1), rec.Metadata["scan_faults"])
	assert.Equal(t, 2.5, rec.LastUpdate)
}

func TestUnregisterDevice(t *testing.T) {
	s := newTestStore(t)
	registerTurbinePLC(t, s)

	s.UnregisterDevice("turbine_plc_1")
	_, ok := s.GetDevice("turbine_plc_1")
	assert.False(t, ok)

	// Unregistering twice is harmless.
	s.UnregisterDevice("turbine_plc_1")
}

func TestListDevicesSorted(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"rtu_2", "turbine_plc_1", "grid_plc_1"} {
		require.NoError(t, s.RegisterDevice(DeviceInfo{Name: name, Type: "plc"}))
	}
	assert.Equal(t, []string{"grid_plc_1", "rtu_2", "turbine_plc_1"}, s.ListDevices())
}

func TestSummarize(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterDevice(DeviceInfo{Name: "t1", Type: "plc", Protocols: []string{"modbus", "opcua"}}))
	require.NoError(t, s.RegisterDevice(DeviceInfo{Name: "t2", Type: "plc", Protocols: []string{"modbus"}}))
	require.NoError(t, s.RegisterDevice(DeviceInfo{Name: "r1", Type: "rtu", Protocols: []string{"iec104"}}))
	require.NoError(t, s.SetOnline("t1", true, 0))

	sum := s.Summarize()
	assert.Equal(t, 3, sum.Devices)
	assert.Equal(t, 1, sum.Online)
	assert.Equal(t, 2, sum.ByType["plc"])
	assert.Equal(t, 1, sum.ByType["rtu"])
	assert.Equal(t, 2, sum.ByProtocol["modbus"])
	assert.Equal(t, 1, sum.ByProtocol["iec104"])
}

func TestConcurrentAccessDistinctDevices(t *testing.T) {
	s := newTestStore(t)
	const devices = 8
	const writesPerDevice = 200

	for i := 0; i < devices; i++ {
		require.NoError(t, s.RegisterDevice(DeviceInfo{
			Name: fmt.Sprintf("dev_%d", i), Type: "plc", ID: i,
		}))
	}

	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for n := 0; n < writesPerDevice; n++ {
				if err := s.WriteMemory(name, HoldingRegister(n%4), Int(int64(n))); err != nil {
					t.Error(err)
					return
				}
				if _, err := s.BulkReadMemory(name); err != nil {
					t.Error(err)
					return
				}
			}
		}(fmt.Sprintf("dev_%d", i))
	}
	wg.Wait()

	stats := s.Stats()
	assert.Equal(t, int64(devices*writesPerDevice), stats.Writes)
	assert.Equal(t, int64(devices*writesPerDevice), stats.BulkReads)
}

func TestConcurrentBulkWritesSameDeviceDoNotTear(t *testing.T) {
	s := newTestStore(t)
	registerTurbinePLC(t, s)

	// Two writers each write a consistent batch; readers must only ever see
	// one of the two complete batches per address pair.
	batchA := MemoryMap{HoldingRegister(0): Int(1), HoldingRegister(1): Int(1)}
	batchB := MemoryMap{HoldingRegister(0): Int(2), HoldingRegister(1): Int(2)}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	for _, batch := range []MemoryMap{batchA, batchB} {
		go func(b MemoryMap) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if err := s.BulkWriteMemory("turbine_plc_1", b); err != nil {
					t.Error(err)
					return
				}
			}
		}(batch)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		snap, err := s.BulkReadMemory("turbine_plc_1")
		require.NoError(t, err)
		if len(snap) == 0 {
			continue
		}
		a := snap[HoldingRegister(0)].AsInt()
		b := snap[HoldingRegister(1)].AsInt()
		assert.Equal(t, a, b, "observed a torn bulk write")
	}
}

func TestValueKindsAndCoercion(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		kind  Kind
		asF   float64
		asI   int64
		asB   bool
	}{
		{"int", Int(42), KindInt, 42, 42, true},
		{"zero int", Int(0), KindInt, 0, 0, false},
		{"float", Float(2.5), KindFloat, 2.5, 2, true},
		{"bool true", Bool(true), KindBool, 1, 1, true},
		{"bool false", Bool(false), KindBool, 0, 0, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.kind, test.value.Kind())
			assert.Equal(t, test.asF, test.value.AsFloat())
			assert.Equal(t, test.asI, test.value.AsInt())
			assert.Equal(t, test.asB, test.value.AsBool())
		})
	}

	_, ok := Int(1).FloatValue()
	assert.False(t, ok)
	f, ok := Float(1.5).FloatValue()
	assert.True(t, ok)
	assert.Equal(t, 1.5, f)
}

func TestValueJSONRoundTrip(t *testing.T) {
	m := MemoryMap{
		Coil(0):            Bool(true),
		HoldingRegister(0): Int(3600),
		"ns=2;s=Vibration": Float(2.25),
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back MemoryMap
	require.NoError(t, json.Unmarshal(data, &back))

	require.Len(t, back, len(m))
	for addr, v := range m {
		assert.True(t, back[addr].Equal(v), "address %s", addr)
	}
}
