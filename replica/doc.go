// Package replica implements the coordination core of one node in a small
// replicated messaging service: a Lamport logical clock, a Berkeley-style
// physical clock, a durable JSON-slot store, and the idempotent state
// machine that both client requests and inbound replication events apply to.
//
// The peer-to-peer protocols that keep replicas converged (Bully election,
// Berkeley clock sync, pub/sub replication and full-state sync) live in the
// coordination subpackage; this package only owns the state they operate on.
package replica
