package request

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line     string
		host     string
		port     int
		file     string
		protocol string
	}{
		{"GET http://example.com HTTP/1.0", "example.com", 80, "/", "http"},
		{"GET http://example.com:69 HTTP/1.0", "example.com", 69, "/", "http"},
		{"GET example.com HTTP/1.0", "example.com", 80, "/", "http"},
		{"GET example.com:443 HTTP/1.0", "example.com", 443, "/", "https"},
		{"GET https://example.com HTTP/1.0", "example.com", 443, "/", "https"},
		{"GET https://example.com/hello.html HTTP/1.0", "example.com", 443, "/hello.html", "https"},
		{"GET example.com/hello.html HTTP/1.0", "example.com", 80, "/hello.html", "http"},
		{"GET example.com:443/hello.html HTTP/1.0", "example.com", 443, "/hello.html", "https"},
		{
			"GET http://example.com:69/hello.html?also=1&accept=2&args=3#hashtag HTTP/1.0",
			"example.com", 69, "/hello.html?also=1&accept=2&args=3#hashtag", "http",
		},
		{"GET http://example.com/file.html HTTP/1.1", "example.com", 80, "/file.html", "http"},
		{"CONNECT example.com:443 HTTP/1.1", "example.com", 443, "/", "https"},
		{"CONNECT example.com HTTP/1.1", "example.com", 443, "/", "https"},
		{"CONNECT [::1]:8443 HTTP/1.1\r\n", "::1", 8443, "/", "https"},
		{"GET http://example.com/ HTTP/1.1\r\n", "example.com", 80, "/", "http"},
		// net/url rejects the escape, the manual path still finds the host.
		{"GET http://bad%host.com/x HTTP/1.1", "bad%host.com", 80, "/x", "http"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			req, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.host, req.Host)
			assert.Equal(t, tt.port, req.Port)
			assert.Equal(t, tt.file, req.File)
			assert.Equal(t, tt.protocol, req.Protocol)
		})
	}
}

func TestParseLine(t *testing.T) {
	req, err := Parse("GET http://example.com:8080/a/b?c=d HTTP/1.1\r\n")
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "HTTP/1.1", req.Version)
	assert.Equal(t, "GET /a/b?c=d HTTP/1.1", req.Line())
	assert.Equal(t, "example.com:8080", req.Address())
	assert.False(t, req.IsConnect())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		line string
		kind error
	}{
		{"", ErrMalformedLine},
		{"GET", ErrMalformedLine},
		{"GET http://example.com", ErrMalformedLine},
		{" http://example.com HTTP/1.1", ErrMalformedLine},
		{"GET  HTTP/1.1", ErrMalformedLine},
		{"GET http://example.com:0/ HTTP/1.1", ErrInvalidURL},
		{"GET http://example.com:99999/ HTTP/1.1", ErrInvalidURL},
		{"GET http://example.com:8o/ HTTP/1.1", ErrInvalidURL},
		{"GET http:///nohost HTTP/1.1", ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			req, err := Parse(tt.line)
			require.Error(t, err)
			assert.Nil(t, req)
			assert.ErrorIs(t, err, tt.kind)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
		})
	}
}

func TestPSNFixer(t *testing.T) {
	broken := "http://gs2.ww.prod.dl.playstation.nethttp://gs2.ww.prod.dl.playstation.net/gs2/ppkgo/file.pkg"
	assert.Equal(t, "http://gs2.ww.prod.dl.playstation.net/gs2/ppkgo/file.pkg", PSNFixer.Fix(broken))

	fine := "http://gs2.ww.prod.dl.playstation.net/gs2/ppkgo/file.pkg"
	assert.Equal(t, fine, PSNFixer.Fix(fine))

	req, err := Parse("GET " + broken + " HTTP/1.1")
	require.NoError(t, err)
	assert.Equal(t, "gs2.ww.prod.dl.playstation.net", req.Host)
	assert.Equal(t, "/gs2/ppkgo/file.pkg", req.File)
}

func TestParserCustomFixers(t *testing.T) {
	p := &Parser{Fixers: []URLFixer{
		URLFixerFunc(func(s string) string { return s + "/first" }),
		URLFixerFunc(func(s string) string { return s + "/second" }),
	}}

	req, err := p.Parse("GET http://example.com HTTP/1.1")
	require.NoError(t, err)
	assert.Equal(t, "/first/second", req.File)
}

func TestSOCKSVersionOf(t *testing.T) {
	assert.Equal(t, SOCKS4, SOCKSVersionOf(4))
	assert.Equal(t, SOCKS5, SOCKSVersionOf(5))
	assert.Equal(t, SOCKSInvalid, SOCKSVersionOf('G'))
	assert.Equal(t, "SOCKS5", SOCKS5.String())
}
