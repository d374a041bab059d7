// Package config loads and validates the simulation run configuration.
//
// A run is described by one YAML document: the clock mode and speed, the
// set of simulated devices with their scan intervals and parameters, and
// the physics model settings (turbine ratings, grid inertia, bus and line
// topology). Load reads a file, Parse reads raw bytes, and both validate
// the result before returning it, so a *Config in hand is always usable.
//
// Device parameters that vary by device type are carried as loose maps
// and read through the typed helpers (GetString, GetFloat64, ...), which
// keeps the schema open for new device types without touching this
// package.
package config
