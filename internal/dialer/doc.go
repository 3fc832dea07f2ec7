package dialer

// Package dialer opens origin connections for the relays.
//
// Every relay reaches its origin through a Dialer. The default connects
// directly; an upstream URL can instead chain through an HTTP CONNECT proxy,
// a SOCKS5 proxy, or an SSH server.
