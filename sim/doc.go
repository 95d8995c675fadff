// Package sim provides the core simulation engine for the virtual ASIC miner fleet.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - state.go: MinerState, the mutable physical/operational state of one miner
//   - engine.go: Engine.Advance, which moves one MinerState forward by a time delta
//   - fleet.go: FleetRuntime, the tick loop and the concurrency-safe control surface
//
// # Architecture
//
// A FleetRuntime owns many miners. A dedicated tick worker advances every miner
// at a fixed cadence by calling Engine.Advance(state, dt); external callers
// (typically the HTTP layer in api/) concurrently snapshot telemetry, enqueue
// config patches, and create or delete miners. Config patches are queued on the
// miner and applied at the start of its next tick, so the simulation step is a
// pure function of (state, dt, presets, rng).
//
// Everything stochastic flows through a per-miner seeded *rand.Rand (rng.go).
// Two fleets built with the same master seed, presets, and dt sequence produce
// bit-identical telemetry traces; the tests rely on this.
//
// Sub-package sim/trace holds pure data types for telemetry trace recording and
// has no dependency back into sim.
package sim
