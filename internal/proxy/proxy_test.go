package proxy

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/die-net/tetherproxy/internal/clients"
	"github.com/die-net/tetherproxy/internal/report"
	"github.com/die-net/tetherproxy/internal/testutil"
)

// recordingSink sums every report it gets.
type recordingSink struct {
	mu    sync.Mutex
	total report.ByteTransferReport
	calls int
}

func (s *recordingSink) Report(_ context.Context, _ report.Session, r report.ByteTransferReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.ProxyToInternet += r.ProxyToInternet
	s.total.InternetToProxy += r.InternetToProxy
	s.calls++
}

func (s *recordingSink) get() (report.ByteTransferReport, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, s.calls
}

// blockEveryone refuses all clients.
type blockEveryone struct{}

func (blockEveryone) Seen(c clients.Client) clients.Client { return c }
func (blockEveryone) IsBlocked(clients.Client) bool        { return true }

// serveOnce hands the first connection to h. The returned func waits for
// Handle to return.
func serveOnce(t *testing.T, ctx context.Context, h Handler) (net.Listener, func()) {
	t.Helper()

	return testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		h.Handle(ctx, c)
	})
}

func dial(t *testing.T, ctx context.Context, addr string) net.Conn {
	t.Helper()

	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
