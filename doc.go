// Package powersim is a real-time digital-twin engine for industrial
// power processes. It simulates a fleet of control devices, each backed
// by continuous physics, against a shared simulation clock and a
// concurrency-safe state store.
//
// # Architecture
//
// A run is built from four layers:
//
//	┌─────────────────────────────────────┐
//	│             Engine                  │  run lifecycle, clock,
//	│  (build, start, monitor, stop)      │  store ownership
//	└─────────────────────────────────────┘
//	           ↓ drives
//	┌─────────────────────────────────────┐
//	│            Devices                  │  per-device scan loops
//	│  (turbine PLC, grid PLC, RTU,       │  with fault isolation
//	│   supervisory station)              │
//	└─────────────────────────────────────┘
//	           ↓ advance
//	┌─────────────────────────────────────┐
//	│            Physics                  │  turbine dynamics, grid
//	│  (continuous models per dt)         │  frequency, DC load flow
//	└─────────────────────────────────────┘
//	           ↓ read/write
//	┌─────────────────────────────────────┐
//	│          State Store                │  device records and
//	│  (per-device memory maps)           │  memory maps
//	└─────────────────────────────────────┘
//
// Devices never reference each other directly. Aggregators like the grid
// PLC and the supervisory station observe their sources exclusively
// through the state store, so a faulted device degrades its readings to
// bad quality instead of crashing its consumers.
//
// # Time
//
// All physics advance on simulated seconds from the simclock package.
// The clock runs in realtime, accelerated, stepped or paused mode; a
// paused clock suspends scan cycles entirely, so the world holds still
// while the state store keeps serving reads.
//
// # Packages
//
//   - simclock: the simulation time authority
//   - statestore: concurrency-safe device records and memory maps
//   - device: scan-cycle engine, strategy registry, fault isolation
//   - device/plc, device/rtu, device/supervisor: built-in device types
//   - physics, physics/turbine, physics/grid, physics/powerflow: models
//   - engine: run lifecycle on top of all of the above
//   - telemetry: NATS snapshot publisher
//   - metric: Prometheus registry and exposition server
//   - config: YAML run configuration
//   - errors: error classification shared by every package
package powersim
