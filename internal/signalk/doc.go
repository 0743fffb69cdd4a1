// Package signalk converts between Signal K documents and flat
// (path, value) updates.
//
// Two inbound shapes are understood:
//
//   - per-path topics ({prefix}vessels/self/electrical/batteries/house/voltage)
//     whose payload is a bare JSON value
//   - delta documents on {prefix}signalk/delta:
//
//	{"context": "vessels.self",
//	 "updates": [{"$source": "n2k.12", "timestamp": "2026-03-01T12:00:00Z",
//	              "values": [{"path": "electrical.batteries.house.voltage", "value": 12.9}]}]}
//
// Object values are flattened into dotted sub-paths; arrays and nulls
// are dropped. Deltas for any context other than the own vessel are
// rejected with ErrForeignContext.
//
// Writes in the other direction are encoded as PUT requests carrying a
// fresh request id.
package signalk
