// Package signaling relays WebRTC signaling messages between the two peers of
// a room over WebSocket.
//
// The relay originates only the envelopes in messages.go. Everything a peer
// sends is forwarded to the other member byte-for-byte without being parsed;
// offer/answer/candidate formats are a contract between the two clients.
package signaling
