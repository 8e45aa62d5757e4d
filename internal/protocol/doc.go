// Package protocol defines the binary wire format spoken between the image
// server and its client.
//
// # Framing
//
// Every exchange starts with a fixed-size record. Multi-byte integers are
// big-endian:
//
//	Request  (50 bytes): id u64 | op u8 | overwrite u8 | img u64 |
//	                     sent {sec i64, nsec i64} | length {sec i64, nsec i64}
//	Response (17 bytes): id u64 | img u64 | ack u8
//
// Two operations carry an out-of-band image payload. A REGISTER request is
// followed by a payload from the client, and a successful RETRIEVE response is
// followed by a payload from the server. Payloads are a u64 byte count
// followed by the encoded image bytes.
//
// # Server-side metadata
//
// Meta wraps a decoded Request with the timestamps the server records while
// the request moves through admission, scheduling and completion. It is the
// payload of the scheduling queue and the source of every audit line.
package protocol
