// Package exchange owns interception of cookie requests.
//
// Ownership boundary:
// - the immutable Result handlers choose
// - the event handed to handlers
// - the per-connection Coordinator that applies exactly one wire action per exchange
//
// Lifecycle of one exchange:
// - Pending -> Resolved -> Applied
//
// - Pending -> Discarded when the owning connection closed first.
//
// The event bus that runs handlers is a collaborator behind Dispatcher.
package exchange
