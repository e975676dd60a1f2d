package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/tetherproxy/internal/clients"
	"github.com/die-net/tetherproxy/internal/report"
)

// Talk copies src to dst one chunk at a time until src is exhausted, enforcing
// l after every chunk. Each written chunk is added to counted if it is not
// nil. Reaching EOF on src is not an error.
func Talk(ctx context.Context, l *clients.Limiter, dst io.Writer, src io.Reader, counted *atomic.Int64) (int64, error) {
	buf := chunkPool.Get()
	defer chunkPool.Put(buf)
	chunk := buf[:l.ChunkSize()]

	var total int64
	for {
		n, rerr := src.Read(chunk)
		if n > 0 {
			w, werr := dst.Write(chunk[:n])
			total += int64(w)
			if counted != nil {
				counted.Add(int64(w))
			}
			if werr != nil {
				return total, werr
			}
			if w != n {
				return total, io.ErrShortWrite
			}
			if err := l.Enforce(ctx, w); err != nil {
				return total, err
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}

// Exchange describes one relay between a proxy client and the internet.
type Exchange struct {
	Client  clients.Client
	Session report.Session

	// Proxy is the client's connection. ProxyReader, if set, reads from it
	// and may hold bytes already buffered during negotiation.
	Proxy       net.Conn
	ProxyReader io.Reader
	Internet    net.Conn

	Reports        report.Sink
	ReportInterval time.Duration
	// IdleTimeout, if set, ends a direction that has read nothing for that
	// long.
	IdleTimeout time.Duration
}

// ExchangeInternet relays proxy to internet on the calling goroutine and
// internet to proxy on another, each with its own limiter state. A report of
// the bytes moved since the last one is emitted every ReportInterval and once
// more after both directions are done. It returns the totals.
//
// A direction ending cleanly half-closes its destination. A failing direction
// or ctx being done closes both connections. Cancellation, timeouts and
// closed connections are not returned as errors, except that ctx.Err() is
// returned when ctx ended the exchange.
func ExchangeInternet(ctx context.Context, x Exchange) (report.ByteTransferReport, error) {
	proxyReader := x.ProxyReader
	if proxyReader == nil {
		proxyReader = x.Proxy
	}
	reports := x.Reports
	if reports == nil {
		reports = report.Discard
	}

	var up, down, upTotal, downTotal atomic.Int64
	emit := func(ctx context.Context) {
		r := report.ByteTransferReport{ProxyToInternet: up.Swap(0), InternetToProxy: down.Swap(0)}
		upTotal.Add(r.ProxyToInternet)
		downTotal.Add(r.InternetToProxy)
		reports.Report(ctx, x.Session, r)
	}
	stopReports := startReporter(ctx, x.ReportInterval, emit)

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = x.Proxy.Close()
			_ = x.Internet.Close()
		})
	}
	stop := context.AfterFunc(relayCtx, closeBoth)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		src := idleReader{r: x.Internet, c: x.Internet, timeout: x.IdleTimeout}
		_, err := Talk(relayCtx, x.Client.NewLimiter(), x.Proxy, src, &down)
		finishDirection(x.Proxy, err, cancel)
		return err
	})

	src := idleReader{r: proxyReader, c: x.Proxy, timeout: x.IdleTimeout}
	_, err := Talk(relayCtx, x.Client.NewLimiter(), x.Internet, src, &up)
	finishDirection(x.Internet, err, cancel)

	err = errors.Join(quiet(err), quiet(g.Wait()))

	stopReports()
	emit(context.WithoutCancel(ctx))

	totals := report.ByteTransferReport{ProxyToInternet: upTotal.Load(), InternetToProxy: downTotal.Load()}
	if ctx.Err() != nil {
		return totals, ctx.Err()
	}
	return totals, err
}

// finishDirection half-closes dst after a clean copy, or tears the exchange
// down after a failed one.
func finishDirection(dst net.Conn, err error, cancel context.CancelFunc) {
	if err != nil {
		cancel()
		return
	}
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	cancel()
}

// quiet drops errors that only mean the exchange is over.
func quiet(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return nil
	}
	return err
}

// startReporter calls emit every interval until the returned func is called.
// The returned func waits for a running emit to finish.
func startReporter(ctx context.Context, interval time.Duration, emit func(context.Context)) func() {
	if interval <= 0 {
		interval = report.Interval
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)

		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				emit(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// idleReader pushes the read deadline of c forward before every read from r.
type idleReader struct {
	r       io.Reader
	c       net.Conn
	timeout time.Duration
}

func (i idleReader) Read(p []byte) (int, error) {
	if i.timeout > 0 {
		_ = i.c.SetReadDeadline(time.Now().Add(i.timeout))
	}
	return i.r.Read(p)
}
