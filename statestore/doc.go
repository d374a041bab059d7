// Package statestore provides the concurrency-safe device state store at the
// centre of the simulation.
//
// The store maps device names to device records: status, a protocol-agnostic
// memory map, and bookkeeping metadata. It is the only shared mutable surface
// in the core; devices interact with each other exclusively by name lookup
// through the store, never by direct reference. Protocol servers outside the
// core consume the same API to refresh their externally visible state and to
// apply client writes.
//
// Memory map keys are opaque strings. By convention register-style devices
// use keys of the form "holding_registers[n]", "input_registers[n]",
// "coils[n]" and "discrete_inputs[n]" (see the address helpers), tag-style
// devices use namespaced strings such as "ns=2;s=ActualSpeed", and
// type-plus-address protocols use "<type>:<address>" pairs. The store treats
// all of them identically.
//
// # Concurrency
//
// A read-write mutex guards the name-to-record table; each record carries its
// own read-write mutex. Mutations of one device therefore serialize against
// each other while operations on unrelated devices proceed in parallel. Bulk
// reads return an atomic snapshot and bulk writes apply as one batch; two
// writers racing on the same address resolve last-writer-wins with no
// timestamp tie-break.
package statestore
