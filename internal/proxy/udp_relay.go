package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/die-net/tetherproxy/internal/clients"
	"github.com/die-net/tetherproxy/internal/logger"
	"github.com/die-net/tetherproxy/internal/metrics"
	"github.com/die-net/tetherproxy/internal/report"
	"github.com/die-net/tetherproxy/internal/socks5"
)

const protocolUDP = "udp"

var errForeignSender = errors.New("udp: datagram from outside the association")

// Drops are per packet, so only log them now and then.
var dropLog = rate.Sometimes{First: 3, Interval: 10 * time.Second}

func logDrop(from net.Addr, err error) {
	metrics.ErrorsTotal.WithLabelValues(protocolUDP).Inc()
	dropLog.Do(func() {
		logger.Debugf("udp: dropping datagram from %s: %v", from, err)
	})
}

// UDPRelay is the relay behind one SOCKS5 UDP ASSOCIATE. The client sends
// SOCKS5 framed datagrams to Relay; only datagrams from ClientHost are
// accepted. Replies from the internet are framed and sent back to the last
// address the client used.
type UDPRelay struct {
	Client     clients.Client
	ClientHost net.IP
	Relay      net.PacketConn

	cfg         Config
	destination string
}

// NewUDPRelay returns a relay for client on relay, configured like the SOCKS
// transport.
func NewUDPRelay(cfg Config, client clients.Client, clientHost net.IP, relay net.PacketConn) *UDPRelay {
	return &UDPRelay{Client: client, ClientHost: clientHost, Relay: relay, cfg: cfg.withDefaults()}
}

// Run relays until ctx is done, either socket fails, or nothing has moved for
// the UDP idle timeout.
func (u *UDPRelay) Run(ctx context.Context) error {
	var lc net.ListenConfig
	out, err := lc.ListenPacket(ctx, "udp", ":0")
	if err != nil {
		return fmt.Errorf("udp outbound: %w", err)
	}
	defer out.Close()
	untrack := u.cfg.Tracker.Track(out)
	defer untrack()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		_ = u.Relay.Close()
		_ = out.Close()
	})
	defer stop()

	idle := time.AfterFunc(u.cfg.UDPIdleTimeout, cancel)
	defer idle.Stop()

	session := report.Session{Client: u.Client, Protocol: protocolUDP, Destination: u.destination}
	var up, down atomic.Int64
	emit := func(ctx context.Context) {
		u.cfg.Reports.Report(ctx, session, report.ByteTransferReport{ProxyToInternet: up.Swap(0), InternetToProxy: down.Swap(0)})
	}
	stopReports := startReporter(ctx, u.cfg.ReportInterval, emit)

	relayAddr, _ := u.Relay.LocalAddr().(*net.UDPAddr)
	var clientAddr atomic.Pointer[net.UDPAddr]

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()

		buf := datagramPool.Get()
		defer datagramPool.Put(buf)
		for {
			n, from, err := u.Relay.ReadFrom(buf)
			if err != nil {
				return err
			}
			ua, ok := from.(*net.UDPAddr)
			if !ok || !ua.IP.Equal(u.ClientHost) {
				logDrop(from, errForeignSender)
				continue
			}
			dst, payload, err := u.cfg.parseOutbound(ctx, buf[:n])
			if err != nil {
				logDrop(from, err)
				continue
			}
			clientAddr.Store(ua)
			idle.Reset(u.cfg.UDPIdleTimeout)

			w, err := out.WriteTo(payload, dst)
			up.Add(int64(w))
			if err != nil {
				logDrop(from, err)
			}
		}
	})

	g.Go(func() error {
		defer cancel()

		l := u.Client.NewLimiter()
		buf := datagramPool.Get()
		defer datagramPool.Put(buf)
		for {
			n, _, err := out.ReadFrom(buf)
			if err != nil {
				return err
			}
			to := clientAddr.Load()
			if to == nil {
				continue
			}
			idle.Reset(u.cfg.UDPIdleTimeout)

			if _, err := u.Relay.WriteTo(socks5.NewResponseDatagram(relayAddr, buf[:n]), to); err != nil {
				return err
			}
			down.Add(int64(n))
			if err := l.Enforce(ctx, n); err != nil {
				return err
			}
		}
	})

	err = quiet(g.Wait())
	stopReports()
	emit(context.WithoutCancel(ctx))
	return err
}

// parseOutbound unwraps a client datagram and resolves where it goes.
func (c Config) parseOutbound(ctx context.Context, b []byte) (*net.UDPAddr, []byte, error) {
	d, err := socks5.ParseDatagram(b)
	if err != nil {
		return nil, nil, err
	}
	host, port, err := net.SplitHostPort(d.Address())
	if err != nil {
		return nil, nil, err
	}
	if c.Blocklist.Blocked(host) {
		metrics.BlockedTotal.WithLabelValues("destination").Inc()
		return nil, nil, fmt.Errorf("blocked destination %s", host)
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(ips) == 0 {
		return nil, nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ips[0].Unmap().String(), port))
	if err != nil {
		return nil, nil, err
	}
	return addr, d.Data, nil
}

// UDPForwarder handles SOCKS5 framed datagrams that arrive on a shared socket
// without a control connection. Each (client, destination) pair gets its own
// connected outbound socket, which is closed once nothing has moved either
// way for the UDP idle timeout.
type UDPForwarder struct {
	cfg Config

	mu    sync.Mutex
	flows map[flowKey]*udpFlow
}

type flowKey struct {
	client      string
	destination string
}

type udpFlow struct {
	conn    net.Conn
	up      atomic.Int64
	down    atomic.Int64
	limiter *clients.Limiter
}

func NewUDPForwarder(cfg Config) *UDPForwarder {
	return &UDPForwarder{cfg: cfg.withDefaults(), flows: make(map[flowKey]*udpFlow)}
}

// HandlePacket forwards one datagram. It does not keep data.
func (f *UDPForwarder) HandlePacket(ctx context.Context, pc net.PacketConn, from net.Addr, data []byte) {
	client := f.cfg.Clients.Seen(clients.FromAddr(from))
	if f.cfg.Clients.IsBlocked(client) {
		metrics.BlockedTotal.WithLabelValues("client").Inc()
		logDrop(from, errors.New("blocked client"))
		return
	}

	dst, payload, err := f.cfg.parseOutbound(ctx, data)
	if err != nil {
		logDrop(from, err)
		return
	}

	flow, err := f.flow(ctx, pc, from, client, dst)
	if err != nil {
		logDrop(from, err)
		return
	}

	// Outbound traffic keeps the flow alive as much as replies do.
	_ = flow.conn.SetReadDeadline(time.Now().Add(f.cfg.UDPIdleTimeout))
	n, err := flow.conn.Write(payload)
	flow.up.Add(int64(n))
	if err != nil {
		logDrop(from, err)
	}
}

// Len returns the number of open flows.
func (f *UDPForwarder) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flows)
}

func (f *UDPForwarder) flow(ctx context.Context, pc net.PacketConn, from net.Addr, client clients.Client, dst *net.UDPAddr) (*udpFlow, error) {
	key := flowKey{client: from.String(), destination: dst.String()}

	f.mu.Lock()
	defer f.mu.Unlock()

	if flow, ok := f.flows[key]; ok {
		return flow, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", dst.String())
	if err != nil {
		return nil, err
	}
	flow := &udpFlow{conn: conn, limiter: client.NewLimiter()}
	f.flows[key] = flow
	metrics.SessionsTotal.WithLabelValues(protocolUDP).Inc()

	go f.serveFlow(ctx, key, flow, pc, from, report.Session{Client: client, Protocol: protocolUDP, Destination: dst.String()})
	return flow, nil
}

// serveFlow carries replies back to the client until the flow goes idle or
// ctx is done.
func (f *UDPForwarder) serveFlow(ctx context.Context, key flowKey, flow *udpFlow, pc net.PacketConn, to net.Addr, session report.Session) {
	metrics.SessionsActive.WithLabelValues(protocolUDP).Inc()
	defer metrics.SessionsActive.WithLabelValues(protocolUDP).Dec()

	untrack := f.cfg.Tracker.Track(flow.conn)
	defer untrack()

	emit := func(ctx context.Context) {
		f.cfg.Reports.Report(ctx, session, report.ByteTransferReport{ProxyToInternet: flow.up.Swap(0), InternetToProxy: flow.down.Swap(0)})
	}
	stopReports := startReporter(ctx, f.cfg.ReportInterval, emit)
	stop := context.AfterFunc(ctx, func() { _ = flow.conn.Close() })

	defer func() {
		stop()
		f.mu.Lock()
		if f.flows[key] == flow {
			delete(f.flows, key)
		}
		f.mu.Unlock()
		_ = flow.conn.Close()

		stopReports()
		emit(context.WithoutCancel(ctx))
	}()

	relayAddr, _ := pc.LocalAddr().(*net.UDPAddr)
	buf := datagramPool.Get()
	defer datagramPool.Put(buf)
	for {
		_ = flow.conn.SetReadDeadline(time.Now().Add(f.cfg.UDPIdleTimeout))
		n, err := flow.conn.Read(buf)
		if err != nil {
			if quiet(err) != nil {
				logger.Debugf("udp: %s: %v", session.Destination, err)
			}
			return
		}
		if _, err := pc.WriteTo(socks5.NewResponseDatagram(relayAddr, buf[:n]), to); err != nil {
			logDrop(to, err)
			return
		}
		flow.down.Add(int64(n))
		if err := flow.limiter.Enforce(ctx, n); err != nil {
			return
		}
	}
}
