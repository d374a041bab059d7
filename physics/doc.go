// Package physics defines the contract shared by the physical process
// models and the numerical guard rails they all use.
//
// An Engine is pure and synchronous: Update(dt) is a deterministic function
// of the current state, the last-applied control inputs and the time delta,
// and performs no I/O. The scan-cycle layer owns exactly one engine per
// device and is the only caller, so engines need no internal locking.
//
// Computed values that come out non-finite or outside a physically sane
// bound are clamped to the nearest bound and flagged rather than propagated,
// so one bad input cannot corrupt every subsequent tick.
package physics
