// Package socks5 is the SOCKS5 (RFC 1928) codec used by the proxy.
//
// It wraps the wire types in github.com/txthinking/socks5 with the subset this
// proxy speaks: no-auth negotiation, CONNECT/BIND/UDP ASSOCIATE requests,
// replies with zero-filled addresses on failure, and the UDP relay header.
// The client half exists for the upstream dialer and for tests.
package socks5
