// Package bus owns the protocol endpoint: one node's view of the shared bus.
//
// Ownership boundary:
// - inbound frame processing (ack resolution, reassembly, dispatch, ack emission)
// - outbound fragmentation and acknowledgment-tracked retransmission
// - endpoint lifecycle: New -> Handle/OnError -> Run or Poll -> Close
//
// Concurrency contract: one receive token serializes the driver's receive
// side. Poll and Run take it for each frame and hold it from ReceiveFrame
// through reassembly, so fragments are accepted in arrival order. It is
// released before handlers run and before the ACK is sent. Send blocks while
// it waits for an acknowledgment: whenever the token is free it receives on
// its own, and otherwise it waits for the holder to resolve the exchange. A
// handler that sends a reply, or a single goroutine alternating Poll and
// Send, therefore never waits on an ACK nobody reads. Handlers run on
// whichever goroutine processed the completing frame.
package bus
