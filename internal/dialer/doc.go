// Package dialer creates the proxy's outbound and listening sockets.
//
// Every socket is passed through a Binder before it binds or connects, which
// pins it to the hotspot's network interface when one is configured. Outbound
// connections go direct, or through an upstream SOCKS5 proxy.
package dialer
