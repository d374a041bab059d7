// Package device runs one scan-cycle state machine per simulated device.
//
// A Device owns a Strategy (the device-type-specific control logic) and
// drives it at a configured scan interval: read pending writes from the
// state store, run the strategy's compute step, write telemetry back. Each
// device runs on its own goroutine; devices interact only through the state
// store, never by direct reference.
//
// The lifecycle is Stopped -> Initializing -> Running -> Stopping ->
// Stopped. A panic or a non-transient error inside a scan moves the device
// to Faulted, a terminal state until Reset is called. Faults are isolated:
// one faulted device never stops the others.
package device
