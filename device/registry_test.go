package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninabarzh/power-and-light-sim/config"
	"github.com/ninabarzh/power-and-light-sim/errors"
)

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("stub", func(cfg config.DeviceConfig, _ Deps) (Strategy, error) {
		return &stubStrategy{typ: cfg.Type}, nil
	}))

	s, err := reg.Create(config.DeviceConfig{Name: "d1", Type: "stub"}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "stub", s.Type())
}

func TestRegistryUnknownType(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create(config.DeviceConfig{Name: "d1", Type: "mystery"}, Deps{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownType))
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry()
	factory := func(config.DeviceConfig, Deps) (Strategy, error) { return &stubStrategy{}, nil }

	require.NoError(t, reg.Register("stub", factory))
	err := reg.Register("stub", factory)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDeviceExists))
}

func TestRegistryRejectsEmpty(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register("", func(config.DeviceConfig, Deps) (Strategy, error) { return nil, nil }))
	assert.Error(t, reg.Register("stub", nil))
}

func TestRegistryTypes(t *testing.T) {
	reg := NewRegistry()
	factory := func(config.DeviceConfig, Deps) (Strategy, error) { return &stubStrategy{}, nil }
	require.NoError(t, reg.Register("turbine_plc", factory))
	require.NoError(t, reg.Register("grid_plc", factory))
	require.NoError(t, reg.Register("rtu", factory))

	assert.Equal(t, []string{"grid_plc", "rtu", "turbine_plc"}, reg.Types())
}
