// Package config holds the hotspot proxy's settings and loads them from an
// optional HCL or JSON file.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/die-net/tetherproxy/internal/clients"
)

const (
	DefaultHTTPPort  = 8228
	DefaultSOCKSPort = 8229
	DefaultSSID      = "TetherFi"

	// SSIDPrefix starts every Wi-Fi Direct group name.
	SSIDPrefix = "DIRECT-TF-"
)

// Config is the full set of settings. Flags use the same names as the file
// attributes.
type Config struct {
	HTTPPort   int
	SOCKSPort  int
	DisableUDP bool
	BindAll    bool

	Host      string
	Interface string
	SSID      string
	Password  string

	Upstream           string
	ConnectTimeout     time.Duration
	NegotiationTimeout time.Duration
	IdleTimeout        time.Duration
	UDPIdleTimeout     time.Duration
	TCPKeepAlive       string

	DefaultLimit   string
	Limits         map[string]string
	BlockedDomains []string
	BlockedClients []string
	IdleShutdown   time.Duration

	LogLevel      string
	MetricsListen string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

func Default() Config {
	return Config{
		HTTPPort:           DefaultHTTPPort,
		SOCKSPort:          DefaultSOCKSPort,
		SSID:               DefaultSSID,
		Upstream:           "direct://",
		ConnectTimeout:     2 * time.Minute,
		NegotiationTimeout: 30 * time.Second,
		UDPIdleTimeout:     2 * time.Minute,
		TCPKeepAlive:       "45:45:3",
		IdleShutdown:       clients.DefaultIdleShutdown,
		LogLevel:           "info",
	}
}

// WifiSSID is the broadcast name for ssid.
func WifiSSID(ssid string) string {
	if strings.HasPrefix(ssid, SSIDPrefix) {
		return ssid
	}
	return SSIDPrefix + ssid
}

// File is the on-disk form. Absent attributes leave the current value alone.
type File struct {
	HTTPPort   *int  `hcl:"http-port,optional"`
	SOCKSPort  *int  `hcl:"socks-port,optional"`
	DisableUDP *bool `hcl:"disable-udp,optional"`
	BindAll    *bool `hcl:"bind-all,optional"`

	Host      *string `hcl:"host,optional"`
	Interface *string `hcl:"interface,optional"`
	SSID      *string `hcl:"ssid,optional"`
	Password  *string `hcl:"password,optional"`

	Upstream           *string `hcl:"upstream,optional"`
	ConnectTimeout     *string `hcl:"connect-timeout,optional"`
	NegotiationTimeout *string `hcl:"negotiation-timeout,optional"`
	IdleTimeout        *string `hcl:"idle-timeout,optional"`
	UDPIdleTimeout     *string `hcl:"udp-idle-timeout,optional"`
	TCPKeepAlive       *string `hcl:"tcp-keepalive,optional"`

	DefaultLimit   *string           `hcl:"default-limit,optional"`
	Limits         map[string]string `hcl:"limits,optional"`
	BlockedDomains []string          `hcl:"blocked-domains,optional"`
	BlockedClients []string          `hcl:"blocked-clients,optional"`
	IdleShutdown   *string           `hcl:"idle-shutdown,optional"`

	LogLevel      *string `hcl:"log-level,optional"`
	MetricsListen *string `hcl:"metrics-listen,optional"`

	RedisAddr     *string `hcl:"redis-addr,optional"`
	RedisPassword *string `hcl:"redis-password,optional"`
	RedisDB       *int    `hcl:"redis-db,optional"`
	RedisPrefix   *string `hcl:"redis-prefix,optional"`
}

// LoadFile decodes path, which must end in .hcl or .json.
func LoadFile(path string) (*File, error) {
	var f File
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &f, nil
}

// ApplyTo copies every attribute present in f into cfg, except those for which
// keep reports true. keep is given the attribute name; a nil keep applies
// everything.
func (f *File) ApplyTo(cfg *Config, keep func(name string) bool) error {
	if keep == nil {
		keep = func(string) bool { return false }
	}

	set(&cfg.HTTPPort, f.HTTPPort, "http-port", keep)
	set(&cfg.SOCKSPort, f.SOCKSPort, "socks-port", keep)
	set(&cfg.DisableUDP, f.DisableUDP, "disable-udp", keep)
	set(&cfg.BindAll, f.BindAll, "bind-all", keep)
	set(&cfg.Host, f.Host, "host", keep)
	set(&cfg.Interface, f.Interface, "interface", keep)
	set(&cfg.SSID, f.SSID, "ssid", keep)
	set(&cfg.Password, f.Password, "password", keep)
	set(&cfg.Upstream, f.Upstream, "upstream", keep)
	set(&cfg.TCPKeepAlive, f.TCPKeepAlive, "tcp-keepalive", keep)
	set(&cfg.DefaultLimit, f.DefaultLimit, "default-limit", keep)
	set(&cfg.LogLevel, f.LogLevel, "log-level", keep)
	set(&cfg.MetricsListen, f.MetricsListen, "metrics-listen", keep)
	set(&cfg.RedisAddr, f.RedisAddr, "redis-addr", keep)
	set(&cfg.RedisPassword, f.RedisPassword, "redis-password", keep)
	set(&cfg.RedisDB, f.RedisDB, "redis-db", keep)
	set(&cfg.RedisPrefix, f.RedisPrefix, "redis-prefix", keep)

	if f.Limits != nil && !keep("limits") {
		cfg.Limits = f.Limits
	}
	if f.BlockedDomains != nil && !keep("blocked-domains") {
		cfg.BlockedDomains = f.BlockedDomains
	}
	if f.BlockedClients != nil && !keep("blocked-clients") {
		cfg.BlockedClients = f.BlockedClients
	}

	durations := []struct {
		dst  *time.Duration
		src  *string
		name string
	}{
		{&cfg.ConnectTimeout, f.ConnectTimeout, "connect-timeout"},
		{&cfg.NegotiationTimeout, f.NegotiationTimeout, "negotiation-timeout"},
		{&cfg.IdleTimeout, f.IdleTimeout, "idle-timeout"},
		{&cfg.UDPIdleTimeout, f.UDPIdleTimeout, "udp-idle-timeout"},
		{&cfg.IdleShutdown, f.IdleShutdown, "idle-shutdown"},
	}
	for _, d := range durations {
		if d.src == nil || keep(d.name) {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func set[T any](dst, src *T, name string, keep func(string) bool) {
	if src != nil && !keep(name) {
		*dst = *src
	}
}

// Validate checks the values that cannot be checked by type alone.
func (c *Config) Validate() error {
	var errs []error
	for _, p := range []struct {
		name string
		port int
	}{{"http-port", c.HTTPPort}, {"socks-port", c.SOCKSPort}} {
		if p.port < 0 || p.port > 65535 {
			errs = append(errs, fmt.Errorf("%s: %d out of range", p.name, p.port))
		}
	}
	if c.HTTPPort == 0 && c.SOCKSPort == 0 {
		errs = append(errs, errors.New("no proxies enabled (set http-port or socks-port)"))
	}
	if c.HTTPPort != 0 && c.HTTPPort == c.SOCKSPort {
		errs = append(errs, fmt.Errorf("http-port and socks-port are both %d", c.HTTPPort))
	}
	if c.Host != "" && net.ParseIP(c.Host) == nil {
		errs = append(errs, fmt.Errorf("host: %q is not an IP address", c.Host))
	}
	if c.Host == "" && c.Interface == "" {
		errs = append(errs, errors.New("one of host or interface is required"))
	}
	if _, _, err := c.ClientLimits(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ClientLimits parses DefaultLimit and Limits.
func (c *Config) ClientLimits() (clients.TransferAmount, map[string]clients.TransferAmount, error) {
	var def clients.TransferAmount
	if c.DefaultLimit != "" {
		var err error
		if def, err = clients.ParseTransferAmount(c.DefaultLimit); err != nil {
			return def, nil, fmt.Errorf("default-limit: %w", err)
		}
	}

	limits := make(map[string]clients.TransferAmount, len(c.Limits))
	for k, v := range c.Limits {
		amt, err := clients.ParseTransferAmount(v)
		if err != nil {
			return def, nil, fmt.Errorf("limits[%s]: %w", k, err)
		}
		limits[k] = amt
	}
	return def, limits, nil
}
