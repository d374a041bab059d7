// Package turbine models a steam turbine: shaft speed response to governor
// setpoints, thermal lag on steam and bearing temperatures, vibration, power
// output and cumulative overspeed damage.
package turbine

import (
	"fmt"

	"github.com/ninabarzh/power-and-light-sim/errors"
	"github.com/ninabarzh/power-and-light-sim/physics"
)

// Control input keys understood by SetControl.
const (
	ControlSpeedSetpoint = "speed_setpoint_rpm"
	ControlGovernor      = "governor_enabled"
	ControlEmergencyTrip = "emergency_trip"
)

// ambientF is the resting temperature everything decays toward.
const ambientF = 70.0

// Parameters are the turbine design ratings
type Parameters struct {
	RatedSpeedRPM       float64 // rated operating speed
	RatedPowerMW        float64 // power output at rated speed
	MaxSafeSpeedRPM     float64 // overspeed trip threshold
	MaxSteamPressurePSI float64
	MaxSteamTempF       float64
	AccelRPMPerSec      float64 // full-steam acceleration limit
	DecelRPMPerSec      float64 // natural decay rate
	VibrationNormalMils float64
	ThermalTauSec       float64 // first-order thermal time constant
}

// DefaultParameters returns ratings for a 100 MW unit
func DefaultParameters() Parameters {
	return Parameters{
		RatedSpeedRPM:       3600,
		RatedPowerMW:        100,
		MaxSafeSpeedRPM:     3960,
		MaxSteamPressurePSI: 2400,
		MaxSteamTempF:       1000,
		AccelRPMPerSec:      100,
		DecelRPMPerSec:      50,
		VibrationNormalMils: 2,
		ThermalTauSec:       10,
	}
}

// State is the turbine's physical state snapshot
type State struct {
	ShaftSpeedRPM       float64
	SteamPressurePSI    float64
	SteamTemperatureF   float64
	BearingTemperatureF float64
	VibrationMils       float64
	PowerOutputMW       float64
	OverspeedTimeSec    float64
	DamageLevel         float64 // 0 = none, 1 = destroyed
}

// Engine integrates the turbine model. Not safe for concurrent use; the
// owning scan cycle is the only caller.
type Engine struct {
	params Parameters
	state  State

	setpointRPM     float64
	governorEnabled bool
	emergencyTrip   bool

	clamps physics.ClampSet
}

// New creates a turbine engine with the given parameters
func New(params Parameters) *Engine {
	return &Engine{
		params: params,
		state:  State{BearingTemperatureF: ambientF},
		clamps: make(physics.ClampSet),
	}
}

// Name implements physics.Engine
func (e *Engine) Name() string { return "turbine" }

// Initialize validates the design parameters
func (e *Engine) Initialize() error {
	p := e.params
	if p.RatedSpeedRPM <= 0 || p.RatedPowerMW <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: rated speed and power must be positive", errors.ErrPhysicsValidation),
			"Turbine", "Initialize", "validate parameters")
	}
	if p.MaxSafeSpeedRPM <= p.RatedSpeedRPM {
		return errors.WrapInvalid(
			fmt.Errorf("%w: overspeed threshold %v not above rated speed %v",
				errors.ErrPhysicsValidation, p.MaxSafeSpeedRPM, p.RatedSpeedRPM),
			"Turbine", "Initialize", "validate parameters")
	}
	if p.AccelRPMPerSec <= 0 || p.DecelRPMPerSec <= 0 || p.ThermalTauSec <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: rate constants must be positive", errors.ErrPhysicsValidation),
			"Turbine", "Initialize", "validate parameters")
	}
	return nil
}

// SetControl applies governor and protection inputs. Unknown keys are
// ignored.
func (e *Engine) SetControl(inputs map[string]float64) {
	if v, ok := inputs[ControlSpeedSetpoint]; ok {
		if v < 0 {
			v = 0
		}
		e.setpointRPM = v
	}
	if v, ok := inputs[ControlGovernor]; ok {
		e.governorEnabled = v != 0
	}
	if v, ok := inputs[ControlEmergencyTrip]; ok {
		e.emergencyTrip = v != 0
	}
}

// State returns a snapshot of the physical state
func (e *Engine) State() State { return e.state }

// Tripped reports whether the emergency trip is asserted
func (e *Engine) Tripped() bool { return e.emergencyTrip }

// Update advances the model by dt simulated seconds
func (e *Engine) Update(dt float64) {
	if dt <= 0 {
		return
	}
	e.clamps.Reset()

	if e.emergencyTrip {
		e.emergencyShutdown(dt)
		e.sanitize()
		return
	}

	if e.governorEnabled {
		e.trackSetpoint(dt)
	} else {
		e.coastDown(dt)
	}
	e.updateThermal(dt)
	e.updateVibration()
	e.updatePower()
	e.updateDamage(dt)
	e.sanitize()
}

// trackSetpoint moves shaft speed toward the setpoint, acceleration limited
// by available steam flow.
func (e *Engine) trackSetpoint(dt float64) {
	err := e.setpointRPM - e.state.ShaftSpeedRPM
	if err > -1 && err < 1 {
		e.state.ShaftSpeedRPM = e.setpointRPM
		return
	}

	if err > 0 {
		accel := e.params.AccelRPMPerSec
		if limit := err * 10; limit < accel {
			accel = limit
		}
		e.state.ShaftSpeedRPM += accel * dt
	} else {
		decel := e.params.DecelRPMPerSec
		if limit := -err * 10; limit < decel {
			decel = limit
		}
		e.state.ShaftSpeedRPM -= decel * dt
	}
	if e.state.ShaftSpeedRPM < 0 {
		e.state.ShaftSpeedRPM = 0
	}
}

// coastDown is the natural decay without governor control
func (e *Engine) coastDown(dt float64) {
	e.state.ShaftSpeedRPM -= e.params.DecelRPMPerSec * dt
	if e.state.ShaftSpeedRPM < 0 {
		e.state.ShaftSpeedRPM = 0
	}
}

// emergencyShutdown decelerates at twice the natural rate and lets the
// temperatures decay. Trip overrides the governor entirely.
func (e *Engine) emergencyShutdown(dt float64) {
	e.state.ShaftSpeedRPM -= e.params.DecelRPMPerSec * 2 * dt
	if e.state.ShaftSpeedRPM < 0 {
		e.state.ShaftSpeedRPM = 0
	}
	e.state.BearingTemperatureF += (ambientF - e.state.BearingTemperatureF) * dt / e.params.ThermalTauSec
	e.state.SteamTemperatureF += (ambientF - e.state.SteamTemperatureF) * dt / (2 * e.params.ThermalTauSec)
	e.state.SteamPressurePSI += (0 - e.state.SteamPressurePSI) * dt / e.params.ThermalTauSec
	e.updateVibration()
	e.updatePower()
}

// updateThermal applies first-order lag toward speed-dependent equilibria
func (e *Engine) updateThermal(dt float64) {
	speedFactor := e.state.ShaftSpeedRPM / e.params.RatedSpeedRPM
	vibrationFactor := e.state.VibrationMils / e.params.VibrationNormalMils

	targetBearing := ambientF + speedFactor*80 + vibrationFactor*20
	e.state.BearingTemperatureF += (targetBearing - e.state.BearingTemperatureF) * dt / e.params.ThermalTauSec

	targetSteam := ambientF
	targetPressure := 0.0
	if e.state.ShaftSpeedRPM > 100 {
		targetSteam = 600 + speedFactor*300
		targetPressure = 1000 + speedFactor*800
	}
	// Steam mass is larger than the bearing assembly; lag is slower.
	e.state.SteamTemperatureF += (targetSteam - e.state.SteamTemperatureF) * dt / (2 * e.params.ThermalTauSec)
	e.state.SteamPressurePSI += (targetPressure - e.state.SteamPressurePSI) * dt / e.params.ThermalTauSec
}

// updateVibration scales vibration with deviation from rated speed; damage
// amplifies it.
func (e *Engine) updateVibration() {
	deviation := e.state.ShaftSpeedRPM - e.params.RatedSpeedRPM
	if deviation < 0 {
		deviation = -deviation
	}
	factor := deviation / e.params.RatedSpeedRPM
	e.state.VibrationMils = e.params.VibrationNormalMils * (1 + factor*3) * (1 + e.state.DamageLevel)
}

// updatePower maps speed to output, zero below 20% rated, capped at 110%
func (e *Engine) updatePower() {
	ratio := e.state.ShaftSpeedRPM / e.params.RatedSpeedRPM
	if ratio < 0.2 {
		e.state.PowerOutputMW = 0
		return
	}
	if ratio > 1.1 {
		ratio = 1.1
	}
	e.state.PowerOutputMW = e.params.RatedPowerMW * ratio
}

// updateDamage accrues permanent damage above 110% of rated speed: the rate
// reaches 1% per second at 120%.
func (e *Engine) updateDamage(dt float64) {
	if e.state.ShaftSpeedRPM <= e.params.RatedSpeedRPM {
		return
	}
	e.state.OverspeedTimeSec += dt

	ratio := e.state.ShaftSpeedRPM / e.params.RatedSpeedRPM
	if ratio > 1.1 {
		rate := (ratio - 1.1) * 0.1
		e.state.DamageLevel += rate * dt
		if e.state.DamageLevel > 1 {
			e.state.DamageLevel = 1
		}
	}
}

// sanitize clamps every state quantity into its sane bound
func (e *Engine) sanitize() {
	p := e.params
	e.state.ShaftSpeedRPM = e.clamps.Sanitize("shaft_speed_rpm",
		e.state.ShaftSpeedRPM, physics.Bound{Min: 0, Max: p.MaxSafeSpeedRPM * 1.5})
	e.state.SteamPressurePSI = e.clamps.Sanitize("steam_pressure_psi",
		e.state.SteamPressurePSI, physics.Bound{Min: 0, Max: p.MaxSteamPressurePSI})
	e.state.SteamTemperatureF = e.clamps.Sanitize("steam_temperature_f",
		e.state.SteamTemperatureF, physics.Bound{Min: 0, Max: p.MaxSteamTempF})
	e.state.BearingTemperatureF = e.clamps.Sanitize("bearing_temperature_f",
		e.state.BearingTemperatureF, physics.Bound{Min: 0, Max: 500})
	e.state.VibrationMils = e.clamps.Sanitize("vibration_mils",
		e.state.VibrationMils, physics.Bound{Min: 0, Max: 100})
	e.state.PowerOutputMW = e.clamps.Sanitize("power_output_mw",
		e.state.PowerOutputMW, physics.Bound{Min: 0, Max: p.RatedPowerMW * 1.1})
	e.state.DamageLevel = e.clamps.Sanitize("damage_level",
		e.state.DamageLevel, physics.Bound{Min: 0, Max: 1})
}

// Telemetry returns the readable values for the PLC register map
func (e *Engine) Telemetry() map[string]float64 {
	running := e.state.ShaftSpeedRPM > 100
	return map[string]float64{
		"shaft_speed_rpm":       e.state.ShaftSpeedRPM,
		"power_output_mw":       e.state.PowerOutputMW,
		"steam_pressure_psi":    e.state.SteamPressurePSI,
		"steam_temperature_f":   e.state.SteamTemperatureF,
		"bearing_temperature_f": e.state.BearingTemperatureF,
		"vibration_mils":        e.state.VibrationMils,
		"turbine_running":       physics.BoolToFloat(running),
		"trip_active":           physics.BoolToFloat(e.emergencyTrip),
		"governor_online":       physics.BoolToFloat(e.governorEnabled),
		"overspeed_time_sec":    e.state.OverspeedTimeSec,
		"damage_percent":        e.state.DamageLevel * 100,
		"clamped":               float64(len(e.clamps)),
	}
}

// ClampedQuantities lists state values clamped during the last Update
func (e *Engine) ClampedQuantities() []string {
	return e.clamps.Names()
}
