// Package health tracks per-device health during a run and aggregates it
// into a single run-level status for monitoring surfaces.
package health
