// Package packet owns typed protocol messages and their wire layouts.
//
// Ownership boundary:
// - direction, state and protocol version gating
// - declarative per-field layouts shared by encode and decode
// - the (state, direction, version) -> packet id registry
//
// Adding a protocol version means adding rows to layouts and mappings; code
// paths stay the same.
package packet
