package statestore

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind identifies the type carried by a Value.
type Kind int

const (
	// KindInt is a signed integer value (registers, counters, codes).
	KindInt Kind = iota
	// KindFloat is a floating point value (analog measurements).
	KindFloat
	// KindBool is a boolean value (coils, discrete inputs, flags).
	KindBool
)

// String returns a string representation of the value kind
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is the tagged variant stored at every memory map address. Memory maps
// are heterogeneously typed; the tag makes the address-to-type contract of
// each device explicit instead of relying on untyped interface values.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
}

// Int returns an integer Value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating point Value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Kind returns the kind tag of the value.
func (v Value) Kind() Kind { return v.kind }

// IntValue returns the integer payload; ok is false if the kind differs.
func (v Value) IntValue() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// FloatValue returns the float payload; ok is false if the kind differs.
func (v Value) FloatValue() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

// BoolValue returns the boolean payload; ok is false if the kind differs.
func (v Value) BoolValue() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsFloat coerces the value to a float64. Booleans map to 0 and 1.
func (v Value) AsFloat() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.i)
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return v.f
	}
}

// AsInt coerces the value to an int64. Floats truncate toward zero; booleans
// map to 0 and 1.
func (v Value) AsInt() int64 {
	switch v.kind {
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return 0
		}
		return int64(v.f)
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return v.i
	}
}

// AsBool coerces the value to a bool. Numeric values are true when non-zero.
func (v Value) AsBool() bool {
	switch v.kind {
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	default:
		return v.b
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	default:
		return v.b == other.b
	}
}

// String returns a display form of the value.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	default:
		return fmt.Sprintf("%t", v.b)
	}
}

// MarshalJSON encodes the value as its bare payload, preserving type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	default:
		return json.Marshal(v.b)
	}
}

// UnmarshalJSON decodes a bare JSON scalar into a tagged value. Whole-number
// JSON numbers decode as integers; anything fractional decodes as float.
func (v *Value) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = Bool(b)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("value must be a JSON scalar: %w", err)
	}
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53 {
		*v = Int(int64(f))
		return nil
	}
	*v = Float(f)
	return nil
}

// MemoryMap is the address-to-value mapping of one device. Keys are opaque
// protocol-agnostic strings; ordering is irrelevant.
type MemoryMap map[string]Value

// Clone returns a copy that shares no storage with the original.
func (m MemoryMap) Clone() MemoryMap {
	c := make(MemoryMap, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Merge applies updates over the map, overwriting existing addresses.
func (m MemoryMap) Merge(updates MemoryMap) {
	for k, v := range updates {
		m[k] = v
	}
}

// Register-style address helpers. These produce the conventional keys used by
// register-oriented protocol collaborators.

// Coil returns the address key for coil n.
func Coil(n int) string { return fmt.Sprintf("coils[%d]", n) }

// DiscreteInput returns the address key for discrete input n.
func DiscreteInput(n int) string { return fmt.Sprintf("discrete_inputs[%d]", n) }

// HoldingRegister returns the address key for holding register n.
func HoldingRegister(n int) string { return fmt.Sprintf("holding_registers[%d]", n) }

// InputRegister returns the address key for input register n.
func InputRegister(n int) string { return fmt.Sprintf("input_registers[%d]", n) }
