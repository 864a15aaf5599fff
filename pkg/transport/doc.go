// Package transport carries bus packets over stream connections.
//
// A device attaches over TCP or a unix-domain socket (named pipe):
//
//	┌────────────────────────────────┐
//	│   Bus packets (pkg/wire)       │
//	├────────────────────────────────┤
//	│   Reassembly (8-byte header)   │
//	├────────────────────────────────┤
//	│   TCP (NODELAY) | unix socket  │
//	└────────────────────────────────┘
//
// # Reassembly
//
// Bytes arrive in arbitrary chunks. The Reassembler buffers them and yields
// complete frames in arrival order, keeping a trailing partial frame until
// more bytes arrive. Frames are split lazily, one at a time, so a byte-order
// switch made while handling one packet applies to the next.
//
// # Channels
//
// A Channel is one device connection. Exactly one goroutine reads from it
// (Next); any goroutine may Send. There is no blocking/non-blocking mode
// switch: a round trip waiting for its response reads through the same
// reassembly queue as the dispatch loop.
package transport
