package request

import (
	"net"
	"strconv"
)

// Request is a parsed client request: either *HTTP or a SOCKSVersion.
type Request interface {
	isRequest()
}

// HTTP is a parsed HTTP proxy request line.
type HTTP struct {
	Method   string
	Host     string
	Port     int
	File     string // path, query and fragment; always starts with "/"
	Protocol string // "http" or "https"
	Version  string
	Raw      string
}

func (*HTTP) isRequest() {}

// IsConnect reports whether the client asked for an opaque tunnel.
func (r *HTTP) IsConnect() bool {
	return r.Method == "CONNECT"
}

// Address returns the host:port to dial.
func (r *HTTP) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Line renders the origin-form request line sent to the destination.
func (r *HTTP) Line() string {
	return r.Method + " " + r.File + " " + r.Version
}

// SOCKSVersion is the version byte that opens a SOCKS handshake.
type SOCKSVersion byte

const (
	SOCKSInvalid SOCKSVersion = 0
	SOCKS4       SOCKSVersion = 4
	SOCKS5       SOCKSVersion = 5
)

func (SOCKSVersion) isRequest() {}

// SOCKSVersionOf maps the first byte of a SOCKS handshake to a version.
func SOCKSVersionOf(b byte) SOCKSVersion {
	switch SOCKSVersion(b) {
	case SOCKS4, SOCKS5:
		return SOCKSVersion(b)
	default:
		return SOCKSInvalid
	}
}

func (v SOCKSVersion) String() string {
	switch v {
	case SOCKS4:
		return "SOCKS4"
	case SOCKS5:
		return "SOCKS5"
	default:
		return "INVALID"
	}
}
