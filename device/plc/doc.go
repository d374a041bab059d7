// Package plc implements PLC-style scan strategies: read control writes
// from the device's register map, drive the attached physics engine, and
// publish telemetry back into the registers.
//
// The turbine PLC exposes the classic register layout: coils for enable,
// governor and emergency trip, holding register 0 for the speed setpoint,
// and input registers for speed, power, pressure, temperature and
// vibration. The grid PLC aggregates generator telemetry from other device
// records through the state store and drives the frequency and power-flow
// models; a tripped turbine therefore drops generation and moves system
// frequency.
package plc
