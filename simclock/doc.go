// Package simclock provides the shared simulation time authority.
//
// Every component of the simulation reads time exclusively through a Clock;
// nothing else consults the wall clock. A Clock runs in one of four modes:
//
//   - Realtime: simulated seconds track wall-clock seconds one to one.
//   - Accelerated: wall-clock seconds are multiplied by a speed factor.
//   - Stepped: time advances only on explicit Step calls.
//   - Paused: time is frozen and Delta reports zero.
//
// Simulated time is computed on demand from a wall-clock anchor plus the
// simulated seconds accumulated before the last mode change, so there is no
// background update goroutine and no sampling interval to tune. Readers take
// a shared lock; mode changes take the exclusive lock and settle accumulated
// time first, so every concurrent reader observes either the old mode or the
// new one, never a mixture.
//
// Clocks are plain values created with New; a process can host several
// independent simulations by giving each its own Clock.
package simclock
