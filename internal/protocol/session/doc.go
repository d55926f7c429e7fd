// Package session owns the reliability side of the framing protocol.
//
// Ownership boundary:
// - retry/ack timing configuration
// - per-exchange pending acknowledgment tracking
// - retransmission backoff
// - acknowledgment frame encoding
package session
