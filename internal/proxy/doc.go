// Package proxy is the hotspot's proxy engine.
//
// It contains the accept loops for each protocol, the HTTP and SOCKS session
// transports, the bandwidth-limited relay between a client and the internet,
// the UDP relays, and the socket tracker that lets a shutdown close whatever
// is still open.
package proxy
