// Package report carries per-session byte transfer reports to whoever wants
// them: logs, Prometheus, Redis, the client manager.
package report

import (
	"context"
	"time"

	"github.com/die-net/tetherproxy/internal/clients"
	"github.com/die-net/tetherproxy/internal/logger"
	"github.com/die-net/tetherproxy/internal/metrics"
)

// Interval is how often a running session reports.
const Interval = 5 * time.Second

// ByteTransferReport counts bytes relayed since the previous report of the
// same session.
type ByteTransferReport struct {
	ProxyToInternet int64
	InternetToProxy int64
}

// Empty reports whether nothing was transferred.
func (r ByteTransferReport) Empty() bool {
	return r.ProxyToInternet == 0 && r.InternetToProxy == 0
}

// Session identifies where a report came from.
type Session struct {
	Client      clients.Client
	Protocol    string
	Destination string
}

// Sink consumes reports. Report is called from the session's reporting
// goroutine and should not block for long.
type Sink interface {
	Report(ctx context.Context, s Session, r ByteTransferReport)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(context.Context, Session, ByteTransferReport)

func (f SinkFunc) Report(ctx context.Context, s Session, r ByteTransferReport) {
	f(ctx, s, r)
}

// Multi fans a report out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, s Session, r ByteTransferReport) {
		for _, sink := range sinks {
			if sink != nil {
				sink.Report(ctx, s, r)
			}
		}
	})
}

// Discard drops every report.
var Discard Sink = SinkFunc(func(context.Context, Session, ByteTransferReport) {})

// Log writes non-empty reports at TRACE.
var Log Sink = SinkFunc(func(_ context.Context, s Session, r ByteTransferReport) {
	if r.Empty() {
		return
	}
	logger.Tracef("%s %s %s: up=%d down=%d", s.Protocol, s.Client, s.Destination, r.ProxyToInternet, r.InternetToProxy)
})

// Prometheus adds reports to the byte counters.
var Prometheus Sink = SinkFunc(func(_ context.Context, _ Session, r ByteTransferReport) {
	metrics.BytesTotal.WithLabelValues(metrics.DirectionToInternet).Add(float64(r.ProxyToInternet))
	metrics.BytesTotal.WithLabelValues(metrics.DirectionFromInternet).Add(float64(r.InternetToProxy))
})

// Totals adds reports to the client's running totals in m.
func Totals(m *clients.Manager) Sink {
	return SinkFunc(func(_ context.Context, s Session, r ByteTransferReport) {
		if r.Empty() {
			return
		}
		m.AddTransfer(s.Client, r.ProxyToInternet, r.InternetToProxy)
	})
}
