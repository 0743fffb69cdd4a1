// Package history integrates battery voltage/current samples into
// cumulative energy and amp-hour figures and persists them across restarts.
//
// One Engine serves every battery. Each battery base path owns a Record
// (min/max voltage, charged/discharged kWh, total Ah drawn) and an
// Accumulator holding the previous sample. Samples more than an hour apart,
// or out of order, re-seed the accumulator instead of integrating.
//
// State is written to a single JSON file through a Store: temp file, verify,
// rename. Writes are throttled and serialized by the engine's saver loop.
package history
