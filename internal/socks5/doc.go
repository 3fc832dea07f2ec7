package socks5

// Package socks5 holds the SOCKS5 handshakes relayproxy needs when an origin
// is reached through a SOCKS5 upstream.
//
// The wire types come from github.com/txthinking/socks5. The client side is
// used by the SOCKS5 dialer; the server side backs the test upstream in
// internal/testutil.
