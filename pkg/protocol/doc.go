// Package protocol implements the wire format of the client/server sync
// protocol.
//
// The protocol is text based. Client to server messages are "bursts": a
// security token and an escaped JSON array of invocations separated by a
// reserved control character. Server to client messages are JSON envelopes
// guarded by an anti-hijacking prefix.
//
// # Burst Format
//
//	<csrf-token> 0x1D <escaped JSON array>
//
// Inside the payload the escape character 0x1B escapes itself and the burst
// separator by adding 0x30 to the escaped byte:
//
//	0x1B 0x4B  ->  0x1B
//	0x1B 0x4D  ->  0x1D
//
// # Framing
//
// Transports that deliver a complete message per call (an HTTP request body)
// need no framing. Transports that may split a message across several
// deliveries (WebSocket) prefix each logical message with its length:
//
//	<decimal length> '|' <message bytes>
//
// A Framer holds at most one partially received message and reports whether
// the message is complete after each delivery.
//
// # Response Envelope
//
//	for(;;);[{"syncId": N, "changes": ..., "state": {...}, ... , "timings": [a, b]}]
//
// The prefix is stripped by the client before parsing.
package protocol
