package proxy

import (
	"context"
	"errors"
	"net"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/tetherproxy/internal/logger"
)

// SharedProxy runs every enabled protocol's loop on the hotspot.
type SharedProxy struct {
	Config

	// HTTPPort and SOCKSPort select the listening ports. Zero disables a
	// protocol. The SOCKS port also carries the UDP forwarder unless
	// DisableUDP is set.
	HTTPPort   int
	SOCKSPort  int
	DisableUDP bool
	// BindAll listens on every address instead of only the hotspot's.
	BindAll bool
}

// clientRunner is implemented by client registries that need to run
// alongside the proxy, like *clients.Manager.
type clientRunner interface {
	Run(ctx context.Context) error
	Clear()
}

// Run serves until ctx is done. hostName is the hotspot address. A loop that
// fails is passed to onError right away while the others keep serving. When
// Run returns every socket the proxy opened has been closed.
func (p *SharedProxy) Run(ctx context.Context, hostName string, onError func(error)) error {
	cfg := p.Config
	cfg.HostName = hostName
	cfg.Tracker = NewSocketTracker()
	cfg = cfg.withDefaults()
	defer cfg.Tracker.CloseAll()
	// Outbound sockets, BIND listeners and UDP relays go as soon as ctx is
	// done, before the loops are waited for.
	stopClose := context.AfterFunc(ctx, cfg.Tracker.CloseAll)
	defer stopClose()

	listenHost := hostName
	if p.BindAll {
		listenHost = ""
	}
	binder := cfg.Binder
	binder.ReuseAddr = true
	lc := binder.ListenConfig(cfg.KeepAlive)

	var loops []func(context.Context) error
	if p.HTTPPort > 0 {
		m := &TCPManager{Name: "http", Addr: net.JoinHostPort(listenHost, strconv.Itoa(p.HTTPPort)), Handler: NewHTTPTransport(cfg), ListenConfig: lc, Tracker: cfg.Tracker}
		loops = append(loops, m.Run)
	}
	if p.SOCKSPort > 0 {
		m := &TCPManager{Name: "socks", Addr: net.JoinHostPort(listenHost, strconv.Itoa(p.SOCKSPort)), Handler: NewSOCKSTransport(cfg), ListenConfig: lc, Tracker: cfg.Tracker}
		loops = append(loops, m.Run)
		if !p.DisableUDP {
			u := &UDPManager{Name: "socks", Addr: m.Addr, Handler: NewUDPForwarder(cfg), ListenConfig: lc, Tracker: cfg.Tracker}
			loops = append(loops, u.Run)
		}
	}
	if len(loops) == 0 {
		return errors.New("proxy: no protocols enabled")
	}

	if cr, ok := cfg.Clients.(clientRunner); ok {
		defer cr.Clear()
		loops = append(loops, cr.Run)
	}

	logger.Infof("proxy starting on %s", hostName)

	var g errgroup.Group
	for _, run := range loops {
		g.Go(func() error {
			err := run(ctx)
			if err != nil && onError != nil {
				onError(err)
			}
			return err
		})
	}
	err := g.Wait()
	logger.Infof("proxy on %s stopped", hostName)
	return err
}
