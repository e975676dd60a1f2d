package socks5

import (
	"errors"
	"fmt"
	"io"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	// ErrNoAcceptableMethods is returned when the client does not offer no-auth.
	ErrNoAcceptableMethods = errors.New("socks5: no acceptable auth methods")
	// ErrCommandNotSupported is returned for commands other than CONNECT, BIND and UDP ASSOCIATE.
	ErrCommandNotSupported = errors.New("socks5: command not supported")
	// ErrInvalidPort is returned when a request names port 0.
	ErrInvalidPort = errors.New("socks5: invalid destination port")
)

// ServerNegotiate reads the method selection message from r, including its
// version byte, and answers on w. Only the no-auth method is accepted.
func ServerNegotiate(r io.Reader, w io.Writer) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(r)
	if err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}

	if !slices.Contains(neg.Methods, txsocks5.MethodNone) {
		// RFC 1928: 0xFF indicates no acceptable methods.
		_, _ = txsocks5.NewNegotiationReply(methodNoAcceptable).WriteTo(w)
		return ErrNoAcceptableMethods
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(w); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// ServerReadRequest reads a request from r. Unsupported commands get a
// command-not-supported reply on w; requests for port 0 get a general
// failure reply. The request is returned alongside those errors so callers
// can log it.
func ServerReadRequest(r io.Reader, w io.Writer) (*txsocks5.Request, error) {
	req, err := txsocks5.NewRequestFrom(r)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	switch req.Cmd {
	case CmdConnect, CmdBind, CmdUDP:
	default:
		_ = WriteErrorReply(w, RepCommandNotSupported, req.Atyp)
		return req, fmt.Errorf("%w: %d", ErrCommandNotSupported, req.Cmd)
	}

	if len(req.DstPort) != 2 || (req.DstPort[0] == 0 && req.DstPort[1] == 0) {
		_ = WriteErrorReply(w, RepServerFailure, req.Atyp)
		return req, ErrInvalidPort
	}
	return req, nil
}
