package physics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	b := Bound{Min: 0, Max: 100}

	tests := []struct {
		name    string
		in      float64
		want    float64
		clamped bool
	}{
		{"inside", 42, 42, false},
		{"at lower", 0, 0, false},
		{"at upper", 100, 100, false},
		{"below", -5, 0, true},
		{"above", 250, 100, true},
		{"nan", math.NaN(), 0, true},
		{"positive inf", math.Inf(1), 100, true},
		{"negative inf", math.Inf(-1), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, clamped := Sanitize(tt.in, b)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.clamped, clamped)
		})
	}
}

func TestClampSet(t *testing.T) {
	c := make(ClampSet)

	v := c.Sanitize("speed", 120, Bound{Min: 0, Max: 100})
	assert.Equal(t, 100.0, v)
	v = c.Sanitize("pressure", 50, Bound{Min: 0, Max: 100})
	assert.Equal(t, 50.0, v)
	v = c.Sanitize("angle", math.NaN(), Bound{Min: -180, Max: 180})
	assert.Equal(t, -180.0, v)

	assert.Equal(t, []string{"angle", "speed"}, c.Names())

	c.Reset()
	assert.Empty(t, c.Names())
}

func TestBoolToFloat(t *testing.T) {
	assert.Equal(t, 1.0, BoolToFloat(true))
	assert.Equal(t, 0.0, BoolToFloat(false))
}
