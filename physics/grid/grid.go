// Package grid models system-wide frequency and voltage from the
// load-generation balance using a simplified swing equation.
package grid

import (
	"fmt"

	"github.com/ninabarzh/power-and-light-sim/errors"
	"github.com/ninabarzh/power-and-light-sim/physics"
)

// Control input keys understood by SetControl.
const (
	ControlTotalGenMW  = "total_gen_mw"
	ControlTotalLoadMW = "total_load_mw"
)

// Parameters configure the frequency and voltage model
type Parameters struct {
	NominalFrequencyHz float64
	MinFrequencyHz     float64 // under-frequency protection threshold
	MaxFrequencyHz     float64 // over-frequency protection threshold
	MinVoltagePU       float64
	MaxVoltagePU       float64
	InertiaMWS         float64 // aggregate system inertia H
	DampingMWPerHz     float64 // load damping D
}

// DefaultParameters returns a 50 Hz system with 5000 MW·s of inertia
func DefaultParameters() Parameters {
	return Parameters{
		NominalFrequencyHz: 50,
		MinFrequencyHz:     49,
		MaxFrequencyHz:     51,
		MinVoltagePU:       0.9,
		MaxVoltagePU:       1.1,
		InertiaMWS:         5000,
		DampingMWPerHz:     1,
	}
}

// State is the grid state snapshot
type State struct {
	FrequencyHz float64
	VoltagePU   float64
	TotalGenMW  float64
	TotalLoadMW float64

	UnderFrequencyTrip bool
	OverFrequencyTrip  bool
	UndervoltageTrip   bool
	OvervoltageTrip    bool
}

// Engine integrates the swing equation. Not safe for concurrent use.
type Engine struct {
	params Parameters
	state  State
	clamps physics.ClampSet
}

// New creates a grid engine with the given parameters
func New(params Parameters) *Engine {
	return &Engine{
		params: params,
		state: State{
			FrequencyHz: params.NominalFrequencyHz,
			VoltagePU:   1,
		},
		clamps: make(physics.ClampSet),
	}
}

// Name implements physics.Engine
func (e *Engine) Name() string { return "grid" }

// Initialize validates the parameters
func (e *Engine) Initialize() error {
	p := e.params
	if p.NominalFrequencyHz <= 0 || p.InertiaMWS <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: nominal frequency and inertia must be positive",
				errors.ErrPhysicsValidation),
			"Grid", "Initialize", "validate parameters")
	}
	if p.MinFrequencyHz >= p.NominalFrequencyHz || p.MaxFrequencyHz <= p.NominalFrequencyHz {
		return errors.WrapInvalid(
			fmt.Errorf("%w: protection thresholds must bracket nominal frequency",
				errors.ErrPhysicsValidation),
			"Grid", "Initialize", "validate parameters")
	}
	if p.DampingMWPerHz < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: damping must not be negative", errors.ErrPhysicsValidation),
			"Grid", "Initialize", "validate parameters")
	}
	return nil
}

// SetControl applies aggregate injections for the next Update
func (e *Engine) SetControl(inputs map[string]float64) {
	if v, ok := inputs[ControlTotalGenMW]; ok {
		e.state.TotalGenMW = v
	}
	if v, ok := inputs[ControlTotalLoadMW]; ok {
		e.state.TotalLoadMW = v
	}
}

// State returns a snapshot of the grid state
func (e *Engine) State() State { return e.state }

// Update advances frequency and voltage by dt simulated seconds.
//
// df/dt = (Pgen - Pload - D*(f - f0)) / H
func (e *Engine) Update(dt float64) {
	if dt <= 0 {
		return
	}
	e.clamps.Reset()

	p := e.params
	imbalance := e.state.TotalGenMW - e.state.TotalLoadMW
	deviation := e.state.FrequencyHz - p.NominalFrequencyHz

	df := (imbalance - p.DampingMWPerHz*deviation) / p.InertiaMWS
	e.state.FrequencyHz += df * dt

	// Voltage deviation tracks the imbalance, very simplified.
	e.state.VoltagePU = 1 + imbalance/10000

	e.state.FrequencyHz = e.clamps.Sanitize("frequency_hz",
		e.state.FrequencyHz, physics.Bound{Min: 0, Max: 2 * p.NominalFrequencyHz})
	e.state.VoltagePU = e.clamps.Sanitize("voltage_pu",
		e.state.VoltagePU, physics.Bound{Min: 0, Max: 2})

	e.state.UnderFrequencyTrip = e.state.FrequencyHz < p.MinFrequencyHz
	e.state.OverFrequencyTrip = e.state.FrequencyHz > p.MaxFrequencyHz
	e.state.UndervoltageTrip = e.state.VoltagePU < p.MinVoltagePU
	e.state.OvervoltageTrip = e.state.VoltagePU > p.MaxVoltagePU
}

// Telemetry returns the readable values for the supervisory layer
func (e *Engine) Telemetry() map[string]float64 {
	return map[string]float64{
		"frequency_hz":         e.state.FrequencyHz,
		"voltage_pu":           e.state.VoltagePU,
		"total_gen_mw":         e.state.TotalGenMW,
		"total_load_mw":        e.state.TotalLoadMW,
		"under_frequency_trip": physics.BoolToFloat(e.state.UnderFrequencyTrip),
		"over_frequency_trip":  physics.BoolToFloat(e.state.OverFrequencyTrip),
		"undervoltage_trip":    physics.BoolToFloat(e.state.UndervoltageTrip),
		"overvoltage_trip":     physics.BoolToFloat(e.state.OvervoltageTrip),
		"clamped":              float64(len(e.clamps)),
	}
}

// ClampedQuantities lists state values clamped during the last Update
func (e *Engine) ClampedQuantities() []string {
	return e.clamps.Names()
}
