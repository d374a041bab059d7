// Package engine manages one simulation run.
//
// # Overview
//
// The engine owns the shared collaborators of a run: the simulation clock
// and the state store. From a validated configuration it builds every
// device through the strategy registry, starts them as a group and stops
// them as a group.
//
// # Run Lifecycle
//
//	cfg, _ := config.Load("run.yaml")
//	reg, _ := engine.DefaultRegistry(cfg)
//	eng, _ := engine.New(cfg, reg, logger, metricsRegistry)
//
//	if err := eng.Initialize(); err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//	...
//	if err := eng.Stop(5 * time.Second); err != nil { ... }
//
// Initialize builds and registers the devices without starting any scan
// loops; Start launches one scan goroutine per device in configuration
// order plus a monitor goroutine that exports clock progress. Stop is the
// reverse: monitor first, then devices in reverse configuration order so
// aggregators declared after their sources stop before the sources do.
//
// Every run carries a fresh UUID which is stamped on all engine log lines
// and on outbound telemetry, so overlapping runs in shared infrastructure
// stay distinguishable.
package engine
