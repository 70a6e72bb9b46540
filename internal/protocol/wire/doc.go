// Package wire owns the primitive encodings shared by every packet layout.
//
// Ownership boundary:
// - varint length prefixes
// - bounded strings and byte arrays
// - fixed width integers, bools and uuids
//
// Writers append to a *bytes.Buffer. Readers consume from one and check the
// remaining length before every read.
package wire
