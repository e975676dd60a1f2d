package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/tetherproxy/internal/clients"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadHCL(t *testing.T) {
	path := writeFile(t, "tether.hcl", `
http-port       = 9000
socks-port      = 9001
interface       = "p2p-wlan0-0"
ssid            = "Cabin"
password        = "hunter22"
connect-timeout = "45s"
idle-timeout    = "5m"
default-limit   = "1MB"
limits = {
  "192.168.49.20" = "512KB"
}
blocked-domains = ["ads.example.com", "tracker.example"]
redis-addr      = "127.0.0.1:6379"
`)

	f, err := LoadFile(path)
	require.NoError(t, err)

	cfg := Default()
	require.NoError(t, f.ApplyTo(&cfg, nil))

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, 9001, cfg.SOCKSPort)
	assert.Equal(t, "p2p-wlan0-0", cfg.Interface)
	assert.Equal(t, "Cabin", cfg.SSID)
	assert.Equal(t, "hunter22", cfg.Password)
	assert.Equal(t, 45*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, map[string]string{"192.168.49.20": "512KB"}, cfg.Limits)
	assert.Equal(t, []string{"ads.example.com", "tracker.example"}, cfg.BlockedDomains)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)

	// Untouched attributes keep their defaults.
	def := Default()
	assert.Equal(t, def.NegotiationTimeout, cfg.NegotiationTimeout)
	assert.Equal(t, def.TCPKeepAlive, cfg.TCPKeepAlive)
	assert.Equal(t, def.Upstream, cfg.Upstream)

	require.NoError(t, cfg.Validate())
	dl, limits, err := cfg.ClientLimits()
	require.NoError(t, err)
	assert.Equal(t, clients.TransferAmount{Amount: 1, Unit: clients.MB}, dl)
	assert.Equal(t, clients.TransferAmount{Amount: 512, Unit: clients.KB}, limits["192.168.49.20"])
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "tether.json", `{"host": "192.168.49.1", "disable-udp": true, "log-level": "debug"}`)

	f, err := LoadFile(path)
	require.NoError(t, err)

	cfg := Default()
	require.NoError(t, f.ApplyTo(&cfg, nil))
	assert.Equal(t, "192.168.49.1", cfg.Host)
	assert.True(t, cfg.DisableUDP)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyKeepsFlags(t *testing.T) {
	path := writeFile(t, "tether.hcl", "http-port = 9000\nssid = \"Cabin\"\n")
	f, err := LoadFile(path)
	require.NoError(t, err)

	cfg := Default()
	cfg.HTTPPort = 7000
	require.NoError(t, f.ApplyTo(&cfg, func(name string) bool { return name == "http-port" }))

	assert.Equal(t, 7000, cfg.HTTPPort)
	assert.Equal(t, "Cabin", cfg.SSID)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFile(writeFile(t, "bad.hcl", "http-port = \n"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "unknown.hcl", "no-such-setting = 1\n"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "tether.yaml", "http-port: 1\n"))
	assert.Error(t, err)

	f, err := LoadFile(writeFile(t, "dur.hcl", "idle-timeout = \"soon\"\n"))
	require.NoError(t, err)
	cfg := Default()
	assert.ErrorContains(t, f.ApplyTo(&cfg, nil), "idle-timeout")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"host", func(c *Config) { c.Host = "192.168.49.1" }, true},
		{"interface", func(c *Config) { c.Interface = "wlan0" }, true},
		{"neither_host_nor_interface", func(*Config) {}, false},
		{"host_not_ip", func(c *Config) { c.Host = "hotspot" }, false},
		{"no_ports", func(c *Config) { c.Host = "192.168.49.1"; c.HTTPPort, c.SOCKSPort = 0, 0 }, false},
		{"same_ports", func(c *Config) { c.Host = "192.168.49.1"; c.SOCKSPort = c.HTTPPort }, false},
		{"port_range", func(c *Config) { c.Host = "192.168.49.1"; c.HTTPPort = 70000 }, false},
		{"bad_limit", func(c *Config) { c.Host = "192.168.49.1"; c.DefaultLimit = "fast" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestWifiSSID(t *testing.T) {
	assert.Equal(t, "DIRECT-TF-TetherFi", WifiSSID(DefaultSSID))
	assert.Equal(t, "DIRECT-TF-Cabin", WifiSSID("DIRECT-TF-Cabin"))
}
