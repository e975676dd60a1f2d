package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/die-net/tetherproxy/internal/clients"
	"github.com/die-net/tetherproxy/internal/logger"
	"github.com/die-net/tetherproxy/internal/metrics"
	"github.com/die-net/tetherproxy/internal/report"
)

const (
	responseEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"
	responseBadGateway  = "HTTP/1.1 502 Bad Gateway\r\n\r\n"
	responseForbidden   = "HTTP/1.1 403 Forbidden\r\n\r\n"

	protocolHTTP = "http"

	// maxLine bounds the request line and each CONNECT header line.
	maxLine = 8192
)

var errLineTooLong = errors.New("http: line too long")

// HTTPTransport serves one HTTP proxy connection: either a CONNECT tunnel or
// a single absolute-form request rewritten to origin form.
type HTTPTransport struct {
	cfg Config
}

func NewHTTPTransport(cfg Config) *HTTPTransport {
	return &HTTPTransport{cfg: cfg.withDefaults()}
}

func (t *HTTPTransport) Handle(ctx context.Context, conn net.Conn) {
	metrics.SessionsTotal.WithLabelValues(protocolHTTP).Inc()
	metrics.SessionsActive.WithLabelValues(protocolHTTP).Inc()
	defer metrics.SessionsActive.WithLabelValues(protocolHTTP).Dec()

	client := t.cfg.Clients.Seen(clients.FromAddr(conn.RemoteAddr()))
	if t.cfg.Clients.IsBlocked(client) {
		metrics.BlockedTotal.WithLabelValues("client").Inc()
		logger.Debugf("http: refusing blocked client %s", client)
		_, _ = io.WriteString(conn, responseForbidden)
		return
	}

	if err := t.serve(ctx, conn, client); err != nil {
		if quiet(err) == nil {
			return
		}
		metrics.ErrorsTotal.WithLabelValues(protocolHTTP).Inc()
		logger.Debugf("http: %s: %v", client, err)
	}
}

func (t *HTTPTransport) serve(ctx context.Context, conn net.Conn, client clients.Client) error {
	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.NegotiationTimeout))

	br := bufio.NewReaderSize(conn, maxLine)
	line, err := readLine(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, _ = io.WriteString(conn, responseBadGateway)
		return fmt.Errorf("read request line: %w", err)
	}

	req, err := t.cfg.Parser.Parse(line)
	if err != nil {
		_, _ = io.WriteString(conn, responseBadGateway)
		return err
	}

	if t.cfg.Blocklist.Blocked(req.Host) {
		metrics.BlockedTotal.WithLabelValues("destination").Inc()
		logger.Debugf("http: %s: blocked destination %s", client, req.Host)
		_, _ = io.WriteString(conn, responseForbidden)
		return nil
	}

	if req.IsConnect() {
		if err := drainHeaders(br); err != nil {
			_, _ = io.WriteString(conn, responseBadGateway)
			return fmt.Errorf("read connect headers: %w", err)
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	internet, err := t.cfg.Dialer.DialContext(dialCtx, "tcp", req.Address())
	cancel()
	if err != nil {
		_, _ = io.WriteString(conn, responseBadGateway)
		return err
	}
	defer internet.Close()
	untrack := t.cfg.Tracker.Track(internet)
	defer untrack()

	if req.IsConnect() {
		if _, err := io.WriteString(conn, responseEstablished); err != nil {
			return fmt.Errorf("write established: %w", err)
		}
	} else {
		if _, err := io.WriteString(internet, req.Line()+"\r\n"); err != nil {
			_, _ = io.WriteString(conn, responseBadGateway)
			return fmt.Errorf("write request line: %w", err)
		}
	}

	totals, err := ExchangeInternet(ctx, Exchange{
		Client:         client,
		Session:        report.Session{Client: client, Protocol: protocolHTTP, Destination: req.Address()},
		Proxy:          conn,
		ProxyReader:    br,
		Internet:       internet,
		Reports:        t.cfg.Reports,
		ReportInterval: t.cfg.ReportInterval,
		IdleTimeout:    t.cfg.IdleTimeout,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		if totals.InternetToProxy == 0 {
			_, _ = io.WriteString(conn, responseBadGateway)
		}
		return fmt.Errorf("relay %s: %w", req.Address(), err)
	}
	return nil
}

// readLine reads one CRLF or LF terminated line, without the terminator.
func readLine(br *bufio.Reader) (string, error) {
	b, err := br.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return "", errLineTooLong
	case err != nil && len(b) > 0 && errors.Is(err, io.EOF):
		return "", io.ErrUnexpectedEOF
	case err != nil:
		return "", err
	}
	b = b[:len(b)-1]
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return string(b), nil
}

// drainHeaders consumes header lines up to and including the blank line.
func drainHeaders(br *bufio.Reader) error {
	for {
		line, err := readLine(br)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}
