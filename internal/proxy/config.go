package proxy

import (
	"net"
	"time"

	"github.com/die-net/tetherproxy/internal/blocklist"
	"github.com/die-net/tetherproxy/internal/clients"
	"github.com/die-net/tetherproxy/internal/dialer"
	"github.com/die-net/tetherproxy/internal/report"
	"github.com/die-net/tetherproxy/internal/request"
)

const (
	DefaultConnectTimeout     = 2 * time.Minute
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultUDPIdleTimeout     = 2 * time.Minute
	DefaultIdleTimeout        = 10 * time.Minute
)

// ClientLookup decides who may use the proxy.
type ClientLookup interface {
	// Seen records activity from c and returns it with its configured limit.
	Seen(c clients.Client) clients.Client
	IsBlocked(c clients.Client) bool
}

type allowAll struct{}

func (allowAll) Seen(c clients.Client) clients.Client { return c }
func (allowAll) IsBlocked(clients.Client) bool        { return false }

type Config struct {
	// HostName is the hotspot address. BIND and UDP ASSOCIATE listen on it.
	HostName string

	// ConnectTimeout bounds SOCKS CONNECT dials and BIND accepts.
	ConnectTimeout time.Duration
	// NegotiationTimeout bounds reading the request line or SOCKS handshake.
	NegotiationTimeout time.Duration
	// IdleTimeout closes a relay after this long without a read on either
	// side. Zero disables it.
	IdleTimeout time.Duration
	// UDPIdleTimeout closes a UDP association after this long without
	// traffic.
	UDPIdleTimeout time.Duration
	ReportInterval time.Duration

	KeepAlive net.KeepAliveConfig

	// Dialer reaches the internet. Binder prepares the sockets the proxy
	// listens on.
	Dialer dialer.Dialer
	Binder dialer.Binder

	Clients   ClientLookup
	Blocklist *blocklist.List
	Reports   report.Sink
	Parser    *request.Parser
	Tracker   *SocketTracker
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if c.UDPIdleTimeout <= 0 {
		c.UDPIdleTimeout = DefaultUDPIdleTimeout
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = report.Interval
	}
	if c.Dialer == nil {
		c.Dialer = dialer.NewDirectDialer(dialer.Config{KeepAlive: c.KeepAlive})
	}
	if c.Clients == nil {
		c.Clients = allowAll{}
	}
	if c.Reports == nil {
		c.Reports = report.Discard
	}
	if c.Parser == nil {
		c.Parser = request.NewParser()
	}
	if c.Tracker == nil {
		c.Tracker = NewSocketTracker()
	}
	return c
}
