package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/tetherproxy/internal/clients"
	"github.com/die-net/tetherproxy/internal/logger"
	"github.com/die-net/tetherproxy/internal/metrics"
	"github.com/die-net/tetherproxy/internal/report"
	"github.com/die-net/tetherproxy/internal/request"
	"github.com/die-net/tetherproxy/internal/socks4"
	"github.com/die-net/tetherproxy/internal/socks5"
)

const protocolSOCKS = "socks"

var (
	ErrUnknownSOCKSVersion = errors.New("socks: unknown version")
	ErrBindPeerMismatch    = errors.New("socks: bind peer is not the requested destination")
)

// SOCKSTransport serves one SOCKS4, SOCKS4a or SOCKS5 connection, picking the
// version from its first byte.
type SOCKSTransport struct {
	cfg Config
}

func NewSOCKSTransport(cfg Config) *SOCKSTransport {
	return &SOCKSTransport{cfg: cfg.withDefaults()}
}

// replier answers a command in the client's SOCKS dialect.
type replier interface {
	success(w io.Writer, addr net.Addr) error
	refuse(w io.Writer) error
}

type socks4Replier struct{}

func (socks4Replier) success(w io.Writer, addr net.Addr) error {
	return socks4.WriteReply(w, socks4.StatusGranted, addr)
}

func (socks4Replier) refuse(w io.Writer) error {
	return socks4.WriteReply(w, socks4.StatusRejected, nil)
}

type socks5Replier struct {
	atyp byte
}

func (socks5Replier) success(w io.Writer, addr net.Addr) error {
	return socks5.WriteSuccessReply(w, addr)
}

func (r socks5Replier) refuse(w io.Writer) error {
	return socks5.WriteErrorReply(w, socks5.RepConnectionRefused, r.atyp)
}

func (t *SOCKSTransport) Handle(ctx context.Context, conn net.Conn) {
	metrics.SessionsTotal.WithLabelValues(protocolSOCKS).Inc()
	metrics.SessionsActive.WithLabelValues(protocolSOCKS).Inc()
	defer metrics.SessionsActive.WithLabelValues(protocolSOCKS).Dec()

	client := t.cfg.Clients.Seen(clients.FromAddr(conn.RemoteAddr()))
	if err := t.serve(ctx, conn, client); err != nil {
		if quiet(err) == nil {
			return
		}
		metrics.ErrorsTotal.WithLabelValues(protocolSOCKS).Inc()
		logger.Debugf("socks: %s: %v", client, err)
	}
}

func (t *SOCKSTransport) serve(ctx context.Context, conn net.Conn, client clients.Client) error {
	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.NegotiationTimeout))

	br := bufio.NewReader(conn)
	b, err := br.Peek(1)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read version: %w", err)
	}

	switch v := request.SOCKSVersionOf(b[0]); v {
	case request.SOCKS4:
		return t.serveSOCKS4(ctx, conn, br, client)
	case request.SOCKS5:
		return t.serveSOCKS5(ctx, conn, br, client)
	default:
		return fmt.Errorf("%w: %#x", ErrUnknownSOCKSVersion, b[0])
	}
}

func (t *SOCKSTransport) serveSOCKS4(ctx context.Context, conn net.Conn, br *bufio.Reader, client clients.Client) error {
	req, err := socks4.ReadRequest(br, conn)
	if err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})

	r := socks4Replier{}
	if t.refused(conn, r, client, req.Address()) {
		return nil
	}

	switch req.Cmd {
	case socks4.CmdConnect:
		return t.connect(ctx, conn, br, client, r, req.Address())
	case socks4.CmdBind:
		return t.bind(ctx, conn, br, client, r, req.Address())
	}
	return fmt.Errorf("%w: %d", socks4.ErrCommandNotSupported, req.Cmd)
}

func (t *SOCKSTransport) serveSOCKS5(ctx context.Context, conn net.Conn, br *bufio.Reader, client clients.Client) error {
	if err := socks5.ServerNegotiate(br, conn); err != nil {
		return err
	}
	req, err := socks5.ServerReadRequest(br, conn)
	if err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})

	r := socks5Replier{atyp: req.Atyp}
	address := req.Address()
	if t.refused(conn, r, client, address) {
		return nil
	}

	switch req.Cmd {
	case socks5.CmdConnect:
		return t.connect(ctx, conn, br, client, r, address)
	case socks5.CmdBind:
		return t.bind(ctx, conn, br, client, r, address)
	case socks5.CmdUDP:
		return t.associate(ctx, conn, br, client, r, req)
	}
	return fmt.Errorf("%w: %d", socks5.ErrCommandNotSupported, req.Cmd)
}

// refused answers blocked clients and blocked destinations with a refusal.
func (t *SOCKSTransport) refused(conn net.Conn, r replier, client clients.Client, address string) bool {
	reason := ""
	if t.cfg.Clients.IsBlocked(client) {
		reason = "client"
	} else if host, _, err := net.SplitHostPort(address); err == nil && t.cfg.Blocklist.Blocked(host) {
		reason = "destination"
	}
	if reason == "" {
		return false
	}

	metrics.BlockedTotal.WithLabelValues(reason).Inc()
	logger.Debugf("socks: %s: refusing %s, blocked %s", client, address, reason)
	_ = r.refuse(conn)
	return true
}

func (t *SOCKSTransport) connect(ctx context.Context, conn net.Conn, br *bufio.Reader, client clients.Client, r replier, address string) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	internet, err := t.cfg.Dialer.DialContext(dialCtx, "tcp", address)
	cancel()
	if err != nil {
		_ = r.refuse(conn)
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Debugf("socks: %s: connect %s timed out", client, address)
			return context.Canceled
		}
		return err
	}
	defer internet.Close()
	untrack := t.cfg.Tracker.Track(internet)
	defer untrack()

	if err := r.success(conn, internet.LocalAddr()); err != nil {
		return err
	}
	return t.relay(ctx, conn, br, internet, client, address)
}

// bind listens on the hotspot for one inbound connection from the requested
// destination. The first reply carries the listening address and the second
// the peer's.
func (t *SOCKSTransport) bind(ctx context.Context, conn net.Conn, br *bufio.Reader, client clients.Client, r replier, address string) error {
	want, _, err := net.SplitHostPort(address)
	if err != nil {
		_ = r.refuse(conn)
		return err
	}

	lc := t.cfg.Binder.ListenConfig(t.cfg.KeepAlive)
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(t.cfg.HostName, "0"))
	if err != nil {
		_ = r.refuse(conn)
		return fmt.Errorf("bind listen: %w", err)
	}
	defer ln.Close()
	untrackListener := t.cfg.Tracker.Track(ln)
	defer untrackListener()

	if err := r.success(conn, ln.Addr()); err != nil {
		return err
	}

	acceptCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	stop := context.AfterFunc(acceptCtx, func() { _ = ln.Close() })
	peer, err := ln.Accept()
	stop()
	cancel()
	if err != nil {
		_ = r.refuse(conn)
		if ctx.Err() == nil && errors.Is(acceptCtx.Err(), context.DeadlineExceeded) {
			logger.Debugf("socks: %s: bind for %s timed out", client, address)
			return context.Canceled
		}
		return fmt.Errorf("bind accept: %w", err)
	}
	defer peer.Close()
	untrackPeer := t.cfg.Tracker.Track(peer)
	defer untrackPeer()

	if !t.peerMatches(ctx, peer.RemoteAddr(), want) {
		_ = r.refuse(conn)
		return fmt.Errorf("%w: %s, want %s", ErrBindPeerMismatch, peer.RemoteAddr(), want)
	}

	if err := r.success(conn, peer.RemoteAddr()); err != nil {
		return err
	}
	return t.relay(ctx, conn, br, peer, client, address)
}

func (t *SOCKSTransport) peerMatches(ctx context.Context, peer net.Addr, want string) bool {
	ta, ok := peer.(*net.TCPAddr)
	if !ok {
		return false
	}
	if ip := net.ParseIP(want); ip != nil {
		return ip.Equal(ta.IP)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", want)
	if err != nil {
		return false
	}
	for _, ip := range ips {
		if ip.Equal(ta.IP) {
			return true
		}
	}
	return false
}

// associate opens a UDP relay for the client and keeps it open while the
// control connection stays open.
func (t *SOCKSTransport) associate(ctx context.Context, conn net.Conn, br *bufio.Reader, client clients.Client, r replier, req *txsocks5.Request) error {
	lc := t.cfg.Binder.ListenConfig(t.cfg.KeepAlive)
	pc, err := lc.ListenPacket(ctx, "udp", net.JoinHostPort(t.cfg.HostName, "0"))
	if err != nil {
		_ = r.refuse(conn)
		return fmt.Errorf("udp associate listen: %w", err)
	}
	defer pc.Close()
	untrack := t.cfg.Tracker.Track(pc)
	defer untrack()

	if err := r.success(conn, pc.LocalAddr()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The association ends when the client closes the control connection.
	go func() {
		defer cancel()
		_, _ = io.Copy(io.Discard, br)
	}()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	relay := NewUDPRelay(t.cfg, client, remoteIP(conn.RemoteAddr()), pc)
	relay.destination = req.Address()
	return relay.Run(ctx)
}

func (t *SOCKSTransport) relay(ctx context.Context, conn net.Conn, br *bufio.Reader, internet net.Conn, client clients.Client, address string) error {
	_, err := ExchangeInternet(ctx, Exchange{
		Client:         client,
		Session:        report.Session{Client: client, Protocol: protocolSOCKS, Destination: address},
		Proxy:          conn,
		ProxyReader:    br,
		Internet:       internet,
		Reports:        t.cfg.Reports,
		ReportInterval: t.cfg.ReportInterval,
		IdleTimeout:    t.cfg.IdleTimeout,
	})
	return err
}

func remoteIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	}
	return nil
}
