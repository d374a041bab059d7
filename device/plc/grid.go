package plc

import (
	"github.com/ninabarzh/power-and-light-sim/config"
	"github.com/ninabarzh/power-and-light-sim/device"
	"github.com/ninabarzh/power-and-light-sim/errors"
	"github.com/ninabarzh/power-and-light-sim/metric"
	"github.com/ninabarzh/power-and-light-sim/physics/grid"
	"github.com/ninabarzh/power-and-light-sim/physics/powerflow"
	"github.com/ninabarzh/power-and-light-sim/statestore"
)

// TypeGrid is the registry tag for the grid PLC
const TypeGrid = "grid_plc"

// Grid aggregates generator telemetry from other device records and drives
// the frequency and power-flow models. Device params:
//
//	sources       generator device names to poll for output and trip state
//	base_load_mw  static system load
//	gen_bus       power-flow bus receiving aggregate generation
//	load_bus      power-flow bus carrying the system load
//
// Memory layout: input_registers[0] frequency (centihertz), [1] voltage
// (millivolts per unit), [2] generation MW, [3] load MW; discrete_inputs
// 0..3 are the under/over frequency and voltage trips. Per-line flows land
// under "flow_mw.<line>" with an "overload.<line>" flag.
type Grid struct {
	engine     *grid.Engine
	flow       *powerflow.Engine
	sources    []string
	baseLoadMW float64
	genBus     string
	loadBus    string
	metrics    *metric.Metrics
	tripSeen   map[string]bool
}

// GridFactory builds the grid PLC strategy. The frequency parameters and
// network topology come from the run configuration rather than device
// params, so the factory closes over them.
func GridFactory(gridCfg config.GridConfig, pfCfg config.PowerFlowConfig) device.Factory {
	return func(cfg config.DeviceConfig, deps device.Deps) (device.Strategy, error) {
		params := grid.DefaultParameters()
		params.NominalFrequencyHz = gridCfg.NominalFrequencyHz
		params.MinFrequencyHz = config.GetFloat64(cfg.Params, "min_frequency_hz", gridCfg.NominalFrequencyHz-1)
		params.MaxFrequencyHz = config.GetFloat64(cfg.Params, "max_frequency_hz", gridCfg.NominalFrequencyHz+1)
		params.InertiaMWS = gridCfg.InertiaMWS
		params.DampingMWPerHz = gridCfg.DampingMWPerHz

		g := &Grid{
			engine:     grid.New(params),
			sources:    config.GetStringSlice(cfg.Params, "sources", nil),
			baseLoadMW: config.GetFloat64(cfg.Params, "base_load_mw", 0),
			genBus:     config.GetString(cfg.Params, "gen_bus", ""),
			loadBus:    config.GetString(cfg.Params, "load_bus", ""),
			metrics:    deps.Metrics,
			tripSeen:   make(map[string]bool),
		}

		if len(pfCfg.Buses) >= 2 && len(pfCfg.Lines) > 0 {
			buses := make([]powerflow.BusSpec, len(pfCfg.Buses))
			for i, b := range pfCfg.Buses {
				buses[i] = powerflow.BusSpec{Name: b.Name, Type: b.Type}
				if g.genBus == "" && b.Type == "generator" {
					g.genBus = b.Name
				}
				if g.loadBus == "" && b.Type == "load" {
					g.loadBus = b.Name
				}
			}
			lines := make([]powerflow.LineSpec, len(pfCfg.Lines))
			for i, l := range pfCfg.Lines {
				lines[i] = powerflow.LineSpec{
					Name: l.Name, From: l.From, To: l.To,
					ReactancePU: l.ReactancePU, RatingMVA: l.RatingMVA,
				}
			}
			flow, err := powerflow.New(buses, lines)
			if err != nil {
				return nil, errors.Wrap(err, "GridPLC", "GridFactory", "build power flow")
			}
			g.flow = flow
		}
		return g, nil
	}
}

// Type implements device.Strategy
func (g *Grid) Type() string { return TypeGrid }

// Setup validates the physics parameters and seeds the memory map
func (g *Grid) Setup(sc *device.ScanContext) error {
	if err := g.engine.Initialize(); err != nil {
		return errors.Wrap(err, "GridPLC", "Setup", "initialise physics")
	}

	seed := statestore.MemoryMap{}
	for i := 0; i <= 3; i++ {
		seed[statestore.InputRegister(i)] = statestore.Int(0)
		seed[statestore.DiscreteInput(i)] = statestore.Bool(false)
	}
	if err := sc.Store.BulkWriteMemory(sc.Device, seed); err != nil {
		return errors.Wrap(err, "GridPLC", "Setup", "seed memory map")
	}
	return nil
}

// Scan aggregates generation, advances the grid model and publishes
// telemetry. Generators are read by name through the store only.
func (g *Grid) Scan(sc *device.ScanContext) error {
	totalGen := g.aggregateGeneration(sc)

	g.engine.SetControl(map[string]float64{
		grid.ControlTotalGenMW:  totalGen,
		grid.ControlTotalLoadMW: g.baseLoadMW,
	})
	g.engine.Update(sc.Delta)
	g.recordPhysics()

	if g.flow != nil && g.genBus != "" && g.loadBus != "" {
		_ = g.flow.SetInjection(g.genBus, totalGen, 0)
		_ = g.flow.SetInjection(g.loadBus, 0, g.baseLoadMW)
		g.flow.Update(sc.Delta)
	}

	return g.publish(sc)
}

// aggregateGeneration sums power output across the configured source
// devices. A tripped or offline generator contributes nothing.
func (g *Grid) aggregateGeneration(sc *device.ScanContext) float64 {
	total := 0.0
	for _, name := range g.sources {
		rec, ok := sc.Store.GetDevice(name)
		if !ok || !rec.Online {
			continue
		}
		if rec.Memory[statestore.DiscreteInput(1)].AsBool() {
			continue // trip active
		}
		total += rec.Memory[statestore.InputRegister(1)].AsFloat()
	}
	return total
}

// publish writes frequency, voltage and line flows into the memory map
func (g *Grid) publish(sc *device.ScanContext) error {
	st := g.engine.State()
	out := statestore.MemoryMap{
		statestore.InputRegister(0): statestore.Int(int64(st.FrequencyHz * 100)),
		statestore.InputRegister(1): statestore.Int(int64(st.VoltagePU * 1000)),
		statestore.InputRegister(2): statestore.Int(int64(st.TotalGenMW)),
		statestore.InputRegister(3): statestore.Int(int64(st.TotalLoadMW)),
		statestore.DiscreteInput(0): statestore.Bool(st.UnderFrequencyTrip),
		statestore.DiscreteInput(1): statestore.Bool(st.OverFrequencyTrip),
		statestore.DiscreteInput(2): statestore.Bool(st.UndervoltageTrip),
		statestore.DiscreteInput(3): statestore.Bool(st.OvervoltageTrip),
	}
	if g.flow != nil {
		for _, l := range g.flow.Lines() {
			out["flow_mw."+l.Name] = statestore.Float(l.FlowMW)
			out["overload."+l.Name] = statestore.Bool(l.Overload)
		}
	}
	if err := sc.Store.BulkWriteMemory(sc.Device, out); err != nil {
		return errors.Wrap(err, "GridPLC", "Scan", "write telemetry")
	}
	return nil
}

// recordPhysics exports clamp events from the last update and counts each
// protection trip on its rising edge only.
func (g *Grid) recordPhysics() {
	if g.metrics == nil {
		return
	}
	for _, q := range g.engine.ClampedQuantities() {
		g.metrics.RecordPhysicsClamp("grid", q)
	}
	st := g.engine.State()
	for kind, active := range map[string]bool{
		"under_frequency": st.UnderFrequencyTrip,
		"over_frequency":  st.OverFrequencyTrip,
		"under_voltage":   st.UndervoltageTrip,
		"over_voltage":    st.OvervoltageTrip,
	} {
		if active && !g.tripSeen[kind] {
			g.metrics.RecordPhysicsTrip("grid", kind)
		}
		g.tripSeen[kind] = active
	}
}

// Teardown implements device.Strategy
func (g *Grid) Teardown(*device.ScanContext) error { return nil }

// Engine exposes the frequency model for tests
func (g *Grid) Engine() *grid.Engine { return g.engine }

// Flow exposes the power-flow model for tests; nil without topology
func (g *Grid) Flow() *powerflow.Engine { return g.flow }
