// Package clients tracks the peers using the hotspot: who has been seen, who
// is blocked, and how fast each may transfer.
package clients

import (
	"net"
	"net/netip"
	"time"
)

// Kind says how a client is identified.
type Kind int

const (
	KindIPAddress Kind = iota
	KindHostName
)

func (k Kind) String() string {
	if k == KindHostName {
		return "hostname"
	}
	return "ip"
}

// Client is a proxied peer. Two clients are the same peer when Kind and Key
// match.
type Client struct {
	Kind      Kind
	Key       string
	FirstSeen time.Time
	LastSeen  time.Time
	// Limit caps bytes per second in each relay direction. Zero is unlimited.
	Limit TransferAmount

	// Running totals reported by finished and in-flight sessions.
	ToInternet   int64
	FromInternet int64
}

// FromIP identifies a client by IP address.
func FromIP(ip netip.Addr) Client {
	return Client{Kind: KindIPAddress, Key: ip.Unmap().String()}
}

// FromHostName identifies a client by host name.
func FromHostName(name string) Client {
	return Client{Kind: KindHostName, Key: name}
}

// FromAddr identifies the client at the remote end of a connection. Addresses
// without an IP fall back to their string form as a host name.
func FromAddr(addr net.Addr) Client {
	switch a := addr.(type) {
	case *net.TCPAddr:
		if ip, ok := netip.AddrFromSlice(a.IP); ok {
			return FromIP(ip)
		}
	case *net.UDPAddr:
		if ip, ok := netip.AddrFromSlice(a.IP); ok {
			return FromIP(ip)
		}
	}
	if addr == nil {
		return FromHostName("")
	}
	if ap, err := netip.ParseAddrPort(addr.String()); err == nil {
		return FromIP(ap.Addr())
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	return FromHostName(host)
}

// Matches reports whether c and other are the same peer.
func (c Client) Matches(other Client) bool {
	return c.Kind == other.Kind && c.Key == other.Key
}

func (c Client) String() string {
	return c.Kind.String() + ":" + c.Key
}

// NewLimiter returns fresh limiter state for one relay direction of c.
func (c Client) NewLimiter() *Limiter {
	return NewLimiter(c.Limit)
}
