// Package telemetry publishes periodic device snapshots to NATS.
//
// Each snapshot carries the run ID, the device record and the full memory
// map as JSON on "<prefix>.<device>" subjects, so external dashboards and
// historians can follow a run without touching the state store directly.
package telemetry
