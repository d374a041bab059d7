package physics

import (
	"math"
	"sort"
)

// Engine is the contract every physical process model satisfies. Update is
// synchronous and deterministic; control inputs applied through SetControl
// take effect on the next Update.
type Engine interface {
	// Name identifies the engine in telemetry and metrics.
	Name() string
	// Initialize validates parameters before the first Update.
	Initialize() error
	// SetControl applies named control inputs. Unknown keys are ignored so
	// one control map can fan out to several engines.
	SetControl(inputs map[string]float64)
	// Update advances the model by dt simulated seconds.
	Update(dt float64)
	// Telemetry returns the current readable values. Booleans are encoded
	// as 0 or 1.
	Telemetry() map[string]float64
}

// Bound is the sane range for one physical quantity.
type Bound struct {
	Min float64
	Max float64
}

// Sanitize clamps v into b and reports whether the value had to change.
// NaN and -Inf collapse to the lower bound, +Inf to the upper.
func Sanitize(v float64, b Bound) (float64, bool) {
	switch {
	case math.IsNaN(v), math.IsInf(v, -1):
		return b.Min, true
	case math.IsInf(v, 1):
		return b.Max, true
	case v < b.Min:
		return b.Min, true
	case v > b.Max:
		return b.Max, true
	}
	return v, false
}

// ClampSet records which quantities were clamped during the most recent
// Update so engines can surface them in telemetry.
type ClampSet map[string]bool

// Sanitize clamps v under b and records name when clamping occurred.
func (c ClampSet) Sanitize(name string, v float64, b Bound) float64 {
	clamped, changed := Sanitize(v, b)
	if changed {
		c[name] = true
	}
	return clamped
}

// Reset clears the set between updates
func (c ClampSet) Reset() {
	for k := range c {
		delete(c, k)
	}
}

// Names returns the clamped quantity names in sorted order
func (c ClampSet) Names() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BoolToFloat encodes a flag for a telemetry map
func BoolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
