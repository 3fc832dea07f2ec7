package proxy

// Package proxy implements the relayproxy listener and its two relays.
//
// Server accepts client connections and reads the first request head. A
// CONNECT request becomes a byte-opaque tunnel to the origin; any other
// request is replayed verbatim to the origin and its response streamed back.
// Each connection is served by its own goroutine, which owns both sockets
// and closes them on every exit path.
