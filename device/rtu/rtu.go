// Package rtu implements an RTU-style mirror strategy: it polls configured
// upstream devices through the state store and republishes their registers
// into its own register space with a per-source quality code. A protocol
// server fronting the RTU then serves a consolidated register map without
// touching the upstream devices.
package rtu

import (
	"github.com/ninabarzh/power-and-light-sim/config"
	"github.com/ninabarzh/power-and-light-sim/device"
	"github.com/ninabarzh/power-and-light-sim/errors"
	"github.com/ninabarzh/power-and-light-sim/statestore"
)

// Type is the registry tag for the RTU mirror
const Type = "rtu"

// Quality codes published per source under "quality.<source>".
const (
	QualityGood      = 0
	QualityBad       = 1
	QualityUncertain = 2
)

// defaultPoints is how many registers are mirrored per source.
const defaultPoints = 8

// RTU mirrors upstream registers. Device params:
//
//	sources  upstream device names, each mapped to a block of points
//	points   registers mirrored per source (default 8)
type RTU struct {
	sources []string
	points  int
}

// Factory builds the RTU strategy from device params
func Factory(cfg config.DeviceConfig, _ device.Deps) (device.Strategy, error) {
	sources := config.GetStringSlice(cfg.Params, "sources", nil)
	if len(sources) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"RTU", "Factory", "at least one source device required")
	}
	return &RTU{
		sources: sources,
		points:  config.GetInt(cfg.Params, "points", defaultPoints),
	}, nil
}

// Type implements device.Strategy
func (r *RTU) Type() string { return Type }

// Setup seeds the mirrored register space
func (r *RTU) Setup(sc *device.ScanContext) error {
	seed := statestore.MemoryMap{}
	for i := 0; i < len(r.sources)*r.points; i++ {
		seed[statestore.InputRegister(i)] = statestore.Int(0)
		seed[statestore.DiscreteInput(i)] = statestore.Bool(false)
	}
	for _, src := range r.sources {
		seed["quality."+src] = statestore.Int(QualityUncertain)
	}
	if err := sc.Store.BulkWriteMemory(sc.Device, seed); err != nil {
		return errors.Wrap(err, "RTU", "Setup", "seed register map")
	}
	return nil
}

// Scan polls each source and republishes its registers. A missing or
// offline source keeps its last mirrored values with quality BAD.
func (r *RTU) Scan(sc *device.ScanContext) error {
	out := statestore.MemoryMap{}

	for idx, src := range r.sources {
		base := idx * r.points

		rec, ok := sc.Store.GetDevice(src)
		if !ok || !rec.Online {
			out["quality."+src] = statestore.Int(QualityBad)
			continue
		}

		quality := QualityGood
		for i := 0; i < r.points; i++ {
			reg, found := rec.Memory[statestore.InputRegister(i)]
			if !found {
				quality = QualityUncertain
				continue
			}
			out[statestore.InputRegister(base+i)] = reg
			if di, haveDI := rec.Memory[statestore.DiscreteInput(i)]; haveDI {
				out[statestore.DiscreteInput(base+i)] = di
			}
		}
		out["quality."+src] = statestore.Int(int64(quality))
	}

	if err := sc.Store.BulkWriteMemory(sc.Device, out); err != nil {
		return errors.Wrap(err, "RTU", "Scan", "write mirrored registers")
	}
	return nil
}

// Teardown implements device.Strategy
func (r *RTU) Teardown(*device.ScanContext) error { return nil }
