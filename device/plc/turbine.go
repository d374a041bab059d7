package plc

import (
	"github.com/ninabarzh/power-and-light-sim/config"
	"github.com/ninabarzh/power-and-light-sim/device"
	"github.com/ninabarzh/power-and-light-sim/errors"
	"github.com/ninabarzh/power-and-light-sim/metric"
	"github.com/ninabarzh/power-and-light-sim/physics/turbine"
	"github.com/ninabarzh/power-and-light-sim/statestore"
)

// TypeTurbine is the registry tag for the turbine PLC
const TypeTurbine = "turbine_plc"

// Turbine register layout.
//
//	coils[0]              turbine enable
//	coils[1]              governor control
//	coils[2]              emergency trip
//	holding_registers[0]  speed setpoint (RPM)
//	input_registers[0]    shaft speed (RPM)
//	input_registers[1]    power output (MW)
//	input_registers[2]    steam pressure (PSI)
//	input_registers[3]    steam temperature (F)
//	input_registers[4]    vibration (mils)
//	input_registers[5]    bearing temperature (F)
//	input_registers[6]    overspeed time (s)
//	input_registers[7]    damage (percent)
//	discrete_inputs[0]    turbine running
//	discrete_inputs[1]    trip active
//	discrete_inputs[2]    governor online
type Turbine struct {
	engine   *turbine.Engine
	metrics  *metric.Metrics
	lastTrip bool
}

// TurbineFactory builds the turbine PLC strategy from device params
func TurbineFactory(cfg config.DeviceConfig, deps device.Deps) (device.Strategy, error) {
	params := turbine.DefaultParameters()
	params.RatedSpeedRPM = config.GetFloat64(cfg.Params, "rated_speed_rpm", params.RatedSpeedRPM)
	params.RatedPowerMW = config.GetFloat64(cfg.Params, "rated_power_mw", params.RatedPowerMW)
	params.MaxSafeSpeedRPM = config.GetFloat64(cfg.Params, "max_safe_speed_rpm", params.MaxSafeSpeedRPM)
	params.AccelRPMPerSec = config.GetFloat64(cfg.Params, "accel_rpm_per_sec", params.AccelRPMPerSec)
	params.DecelRPMPerSec = config.GetFloat64(cfg.Params, "decel_rpm_per_sec", params.DecelRPMPerSec)
	params.ThermalTauSec = config.GetFloat64(cfg.Params, "thermal_tau_sec", params.ThermalTauSec)

	return &Turbine{engine: turbine.New(params), metrics: deps.Metrics}, nil
}

// Type implements device.Strategy
func (t *Turbine) Type() string { return TypeTurbine }

// Setup validates the physics parameters and seeds the register map
func (t *Turbine) Setup(sc *device.ScanContext) error {
	if err := t.engine.Initialize(); err != nil {
		return errors.Wrap(err, "TurbinePLC", "Setup", "initialise physics")
	}

	seed := statestore.MemoryMap{
		statestore.Coil(0):            statestore.Bool(false),
		statestore.Coil(1):            statestore.Bool(false),
		statestore.Coil(2):            statestore.Bool(false),
		statestore.HoldingRegister(0): statestore.Int(0),
	}
	for i := 0; i <= 7; i++ {
		seed[statestore.InputRegister(i)] = statestore.Int(0)
	}
	for i := 0; i <= 2; i++ {
		seed[statestore.DiscreteInput(i)] = statestore.Bool(false)
	}
	if err := sc.Store.BulkWriteMemory(sc.Device, seed); err != nil {
		return errors.Wrap(err, "TurbinePLC", "Setup", "seed register map")
	}
	return nil
}

// Scan reads control registers, advances the physics and publishes
// telemetry.
func (t *Turbine) Scan(sc *device.ScanContext) error {
	mem, err := sc.Store.BulkReadMemory(sc.Device)
	if err != nil {
		return errors.Wrap(err, "TurbinePLC", "Scan", "read register map")
	}

	enable := mem[statestore.Coil(0)].AsBool()
	governor := mem[statestore.Coil(1)].AsBool()
	trip := mem[statestore.Coil(2)].AsBool()
	setpoint := mem[statestore.HoldingRegister(0)].AsFloat()

	if !enable {
		setpoint = 0
	}
	t.engine.SetControl(map[string]float64{
		turbine.ControlSpeedSetpoint: setpoint,
		turbine.ControlGovernor:      boolToFloat(governor && enable),
		turbine.ControlEmergencyTrip: boolToFloat(trip),
	})
	t.engine.Update(sc.Delta)
	t.recordPhysics()

	tel := t.engine.Telemetry()
	out := statestore.MemoryMap{
		statestore.InputRegister(0): statestore.Int(int64(tel["shaft_speed_rpm"])),
		statestore.InputRegister(1): statestore.Int(int64(tel["power_output_mw"])),
		statestore.InputRegister(2): statestore.Int(int64(tel["steam_pressure_psi"])),
		statestore.InputRegister(3): statestore.Int(int64(tel["steam_temperature_f"])),
		statestore.InputRegister(4): statestore.Int(int64(tel["vibration_mils"])),
		statestore.InputRegister(5): statestore.Int(int64(tel["bearing_temperature_f"])),
		statestore.InputRegister(6): statestore.Int(int64(tel["overspeed_time_sec"])),
		statestore.InputRegister(7): statestore.Int(int64(tel["damage_percent"])),
		statestore.DiscreteInput(0): statestore.Bool(tel["turbine_running"] != 0),
		statestore.DiscreteInput(1): statestore.Bool(tel["trip_active"] != 0),
		statestore.DiscreteInput(2): statestore.Bool(tel["governor_online"] != 0),
	}
	if err := sc.Store.BulkWriteMemory(sc.Device, out); err != nil {
		return errors.Wrap(err, "TurbinePLC", "Scan", "write telemetry")
	}
	return nil
}

// Teardown implements device.Strategy
func (t *Turbine) Teardown(sc *device.ScanContext) error {
	return sc.Store.WriteMemory(sc.Device, statestore.DiscreteInput(0), statestore.Bool(false))
}

// recordPhysics exports clamp events from the last update and counts trip
// assertions on the rising edge only.
func (t *Turbine) recordPhysics() {
	if t.metrics == nil {
		return
	}
	for _, q := range t.engine.ClampedQuantities() {
		t.metrics.RecordPhysicsClamp("turbine", q)
	}
	tripped := t.engine.Tripped()
	if tripped && !t.lastTrip {
		t.metrics.RecordPhysicsTrip("turbine", "emergency")
	}
	t.lastTrip = tripped
}

// Engine exposes the physics engine for tests and the supervisory layer
func (t *Turbine) Engine() *turbine.Engine { return t.engine }

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
