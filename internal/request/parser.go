package request

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrMalformedLine is returned when the line is not "METHOD URL VERSION".
	ErrMalformedLine = errors.New("malformed request line")
	// ErrInvalidURL is returned when the URL cannot be turned into host and port.
	ErrInvalidURL = errors.New("unparseable request url")
)

// ParseError describes why a request line was rejected. It matches
// ErrMalformedLine or ErrInvalidURL with errors.Is.
type ParseError struct {
	Line string
	Kind error
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v %q: %v", e.Kind, e.Line, e.Err)
	}
	return fmt.Sprintf("%v %q", e.Kind, e.Line)
}

func (e *ParseError) Is(target error) bool {
	return target == e.Kind
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser parses HTTP proxy request lines, running every fixer over the URL
// first.
type Parser struct {
	Fixers []URLFixer
}

// NewParser returns a Parser with the default fixers registered.
func NewParser() *Parser {
	return &Parser{Fixers: []URLFixer{PSNFixer}}
}

// Parse parses line with the default fixers.
func Parse(line string) (*HTTP, error) {
	return NewParser().Parse(line)
}

// Parse splits line on its first two spaces and recovers the destination
// from the URL. A trailing CRLF is ignored.
func (p *Parser) Parse(line string) (*HTTP, error) {
	raw := strings.TrimRight(line, "\r\n")

	method, rest, ok := strings.Cut(raw, " ")
	if !ok || method == "" {
		return nil, &ParseError{Line: raw, Kind: ErrMalformedLine}
	}
	rawURL, version, ok := strings.Cut(rest, " ")
	if !ok || rawURL == "" {
		return nil, &ParseError{Line: raw, Kind: ErrMalformedLine}
	}

	for _, f := range p.Fixers {
		rawURL = f.Fix(rawURL)
	}

	req := &HTTP{Method: method, Version: version, Raw: raw}
	if err := parseURL(req, rawURL); err != nil {
		return nil, &ParseError{Line: raw, Kind: ErrInvalidURL, Err: err}
	}
	return req, nil
}

func parseURL(req *HTTP, rawURL string) error {
	scheme, hasScheme := "", strings.Contains(rawURL, "://")
	if !hasScheme {
		scheme = "http"
		if req.IsConnect() {
			scheme = "https"
		}
		rawURL = scheme + "://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" || u.Opaque != "" {
		return parseManual(req, rawURL, hasScheme)
	}

	req.Protocol = strings.ToLower(u.Scheme)
	req.Host = u.Hostname()

	port := -1
	if p := u.Port(); p != "" {
		port, err = parsePort(p)
		if err != nil {
			return err
		}
	}

	file := u.RequestURI()
	if u.Fragment != "" {
		file += "#" + u.EscapedFragment()
	}

	finish(req, port, file, hasScheme)
	return nil
}

// parseManual recovers what it can from URLs net/url rejects.
func parseManual(req *HTTP, rawURL string, hasScheme bool) error {
	protocol, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		rest = rawURL
	}
	req.Protocol = strings.ToLower(protocol)

	hostPort, file := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		hostPort, file = rest[:i], rest[i:]
	}

	host, port := hostPort, -1
	if i := strings.LastIndexByte(hostPort, ':'); i >= 0 && i > strings.LastIndexByte(hostPort, ']') {
		p, err := parsePort(hostPort[i+1:])
		if err != nil {
			return err
		}
		host, port = hostPort[:i], p
	}
	host = strings.TrimSuffix(strings.TrimSuffix(strings.TrimPrefix(host, "["), "/"), "]")
	if host == "" {
		return fmt.Errorf("missing host in %q", rawURL)
	}
	req.Host = host

	finish(req, port, file, hasScheme)
	return nil
}

func finish(req *HTTP, port int, file string, hasScheme bool) {
	if !hasScheme && port == 443 {
		req.Protocol = "https"
	}
	if req.Protocol == "" {
		req.Protocol = "http"
	}

	if port < 0 {
		port = 80
		if req.Protocol == "https" {
			port = 443
		}
	}
	req.Port = port

	if file == "" {
		file = "/"
	}
	req.File = file
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if n <= 0 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return n, nil
}
