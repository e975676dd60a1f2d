package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/tetherproxy/internal/blocklist"
	"github.com/die-net/tetherproxy/internal/broadcast"
	"github.com/die-net/tetherproxy/internal/clients"
	"github.com/die-net/tetherproxy/internal/config"
	"github.com/die-net/tetherproxy/internal/dialer"
	"github.com/die-net/tetherproxy/internal/logger"
	"github.com/die-net/tetherproxy/internal/metrics"
	"github.com/die-net/tetherproxy/internal/proxy"
	"github.com/die-net/tetherproxy/internal/report"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	cfg.Upstream = defaultUpstream()

	var (
		configPath  = pflag.String("config", "", "Optional HCL or JSON config file. Flags given on the command line override it.")
		debugListen = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
		verbose     = pflag.Bool("verbose", false, "Enable per-connection error logging (same as --log-level=debug)")
	)

	pflag.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "HTTP proxy port. 0 disables.")
	pflag.IntVar(&cfg.SOCKSPort, "socks-port", cfg.SOCKSPort, "SOCKS4/5 proxy port, TCP and UDP. 0 disables.")
	pflag.BoolVar(&cfg.DisableUDP, "disable-udp", cfg.DisableUDP, "Do not forward UDP on the SOCKS port")
	pflag.BoolVar(&cfg.BindAll, "bind-all", cfg.BindAll, "Listen on every address instead of only the hotspot's")

	pflag.StringVar(&cfg.Host, "host", cfg.Host, "Hotspot IPv4 address. Empty finds it on --interface.")
	pflag.StringVar(&cfg.Interface, "interface", cfg.Interface, "Hotspot network interface (e.g. p2p-wlan0-0)")
	pflag.StringVar(&cfg.SSID, "ssid", cfg.SSID, "Hotspot network name, reported with the "+config.SSIDPrefix+" prefix")
	pflag.StringVar(&cfg.Password, "password", cfg.Password, "Hotspot passphrase, reported to clients")

	pflag.StringVar(&cfg.Upstream, "upstream", cfg.Upstream, "Upstream forwarding target URL: direct:// | socks5://[user:pass@]host:port")
	pflag.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "Timeout for outbound connects and SOCKS BIND accepts")
	pflag.DurationVar(&cfg.NegotiationTimeout, "negotiation-timeout", cfg.NegotiationTimeout, "Timeout for reading the proxy request")
	pflag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close relays idle this long. 0 disables.")
	pflag.DurationVar(&cfg.UDPIdleTimeout, "udp-idle-timeout", cfg.UDPIdleTimeout, "Close UDP associations idle this long")
	pflag.StringVar(&cfg.TCPKeepAlive, "tcp-keepalive", cfg.TCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")

	pflag.StringVar(&cfg.DefaultLimit, "default-limit", cfg.DefaultLimit, "Per-client bandwidth cap per second in each direction (e.g. 1MB). Empty is unlimited.")
	pflag.StringToStringVar(&cfg.Limits, "limits", cfg.Limits, "Per-client bandwidth caps by client IP (e.g. 192.168.49.20=512KB)")
	pflag.StringSliceVar(&cfg.BlockedDomains, "blocked-domains", cfg.BlockedDomains, "Destination domains to refuse, subdomains included")
	pflag.StringSliceVar(&cfg.BlockedClients, "blocked-clients", cfg.BlockedClients, "Client IPs or host names to refuse")
	pflag.DurationVar(&cfg.IdleShutdown, "idle-shutdown", cfg.IdleShutdown, "Stop the hotspot after this long with no clients. 0 disables.")

	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: trace|debug|info|warn|error")
	pflag.StringVar(&cfg.MetricsListen, "metrics-listen", cfg.MetricsListen, "Listen address for /metrics, /healthz and /readyz. Empty disables.")

	pflag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for per-client transfer totals. Empty disables.")
	pflag.StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "Redis password")
	pflag.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")
	pflag.StringVar(&cfg.RedisPrefix, "redis-prefix", cfg.RedisPrefix, "Redis key prefix for transfer totals")

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	if *configPath != "" {
		f, err := config.LoadFile(*configPath)
		if err != nil {
			return err
		}
		if err := f.ApplyTo(&cfg, pflag.CommandLine.Changed); err != nil {
			return fmt.Errorf("config %s: %w", *configPath, err)
		}
	}

	logger.SetLevel(logger.LevelFromString(cfg.LogLevel))
	if *verbose && !logger.Enabled(logger.DEBUG) {
		logger.SetLevel(logger.DEBUG)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ka, err := parseTCPKeepAlive(cfg.TCPKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	defaultLimit, limits, err := cfg.ClientLimits()
	if err != nil {
		return err
	}

	manager := clients.NewManager(clients.ManagerConfig{
		Limits:       limits,
		DefaultLimit: defaultLimit,
		Blocked:      cfg.BlockedClients,
		IdleShutdown: cfg.IdleShutdown,
	})

	sinks := []report.Sink{report.Log, report.Prometheus, report.Totals(manager)}
	if cfg.RedisAddr != "" {
		sink, rdb := report.NewRedisSink(report.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		defer rdb.Close()
		sinks = append(sinks, sink)
		logger.Infof("reporting transfer totals to redis at %s", cfg.RedisAddr)
	}

	upstream, err := dialer.New(dialer.Config{DialTimeout: cfg.ConnectTimeout, KeepAlive: ka}, cfg.Upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	sp := &proxy.SharedProxy{
		Config: proxy.Config{
			ConnectTimeout:     cfg.ConnectTimeout,
			NegotiationTimeout: cfg.NegotiationTimeout,
			IdleTimeout:        cfg.IdleTimeout,
			UDPIdleTimeout:     cfg.UDPIdleTimeout,
			KeepAlive:          ka,
			Dialer:             upstream,
			Binder:             dialer.Binder{Interface: cfg.Interface},
			Clients:            manager,
			Blocklist:          blocklist.New(cfg.BlockedDomains),
			Reports:            report.Multi(sinks...),
		},
		HTTPPort:   cfg.HTTPPort,
		SOCKSPort:  cfg.SOCKSPort,
		DisableUDP: cfg.DisableUDP,
		BindAll:    cfg.BindAll,
	}

	coord := broadcast.NewCoordinator(broadcast.Options{
		Backend: &broadcast.StaticBackend{
			SSID:      config.WifiSSID(cfg.SSID),
			Password:  cfg.Password,
			Interface: cfg.Interface,
			Host:      cfg.Host,
			Devices:   func() []broadcast.Device { return devices(manager) },
		},
		Proxy: sp,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if *debugListen != "" {
		if err := serveHTTP(ctx, g, "debug", *debugListen, http.DefaultServeMux, ka); err != nil {
			return err
		}
	}

	if cfg.MetricsListen != "" {
		ready := func() bool { return coord.Status().State == broadcast.Running }
		if err := serveHTTP(ctx, g, "metrics", cfg.MetricsListen, metrics.Handler(ready), ka); err != nil {
			return err
		}
	}

	g.Go(func() error {
		defer cancel()
		return coord.Start(ctx)
	})

	g.Go(func() error {
		return watch(ctx, coord, manager, cancel)
	})

	g.Go(func() error {
		refresh(ctx, coord, broadcast.DefaultDebounce)
		return nil
	})

	logger.Infof("hotspot %q starting (http port %d, socks port %d)", config.WifiSSID(cfg.SSID), cfg.HTTPPort, cfg.SOCKSPort)

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	logger.Infof("shutting down")
	return err
}

// watch logs status changes and ends the run when the hotspot has gone
// without clients for too long.
func watch(ctx context.Context, coord *broadcast.Coordinator, manager *clients.Manager, cancel context.CancelFunc) error {
	statuses := coord.WatchStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-statuses:
			if !ok {
				return nil
			}
			logger.Infof("hotspot status: %s", st)
		case <-coord.Shutdowns():
			logger.Debugf("hotspot shutdown signalled, status %s", coord.Status())
		case <-manager.NoClients():
			logger.Infof("no clients connected, stopping hotspot")
			cancel()
			return nil
		}
	}
}

// refresh re-reads group and connection info every interval while the
// hotspot is running, so address changes reach the proxy and new devices
// show up in the group.
func refresh(ctx context.Context, coord *broadcast.Coordinator, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if coord.Status().State == broadcast.Running {
				coord.UpdateNetworkInfo(ctx)
			}
		}
	}
}

func devices(m *clients.Manager) []broadcast.Device {
	seen := m.Clients()
	out := make([]broadcast.Device, 0, len(seen))
	for _, c := range seen {
		d := broadcast.Device{Name: c.Key}
		if c.Kind == clients.KindIPAddress {
			d.IPAddress = c.Key
		}
		out = append(out, d)
	}
	return out
}

func serveHTTP(ctx context.Context, g *errgroup.Group, name, addr string, h http.Handler, ka net.KeepAliveConfig) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	lc := net.ListenConfig{KeepAliveConfig: ka}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%s listen: %w", name, err)
	}
	context.AfterFunc(ctx, func() {
		_ = srv.Close()
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("%s serve: %w", name, err)
		}
		return nil
	})
	logger.Infof("%s listening on %s", name, addr)
	return nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}
