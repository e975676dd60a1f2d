package socks5

import (
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	CmdConnect = txsocks5.CmdConnect
	CmdBind    = txsocks5.CmdBind
	CmdUDP     = txsocks5.CmdUDP

	ATYPIPv4   = txsocks5.ATYPIPv4
	ATYPDomain = txsocks5.ATYPDomain
	ATYPIPv6   = txsocks5.ATYPIPv6

	RepSuccess             = txsocks5.RepSuccess
	RepServerFailure       = 0x01
	RepHostUnreachable     = txsocks5.RepHostUnreachable
	RepConnectionRefused   = txsocks5.RepConnectionRefused
	RepCommandNotSupported = txsocks5.RepCommandNotSupported

	methodNoAcceptable = 0xff
)

// Auth configures optional username/password authentication when dialing an
// upstream SOCKS5 server.
type Auth struct {
	Username string
	Password string
}

// WriteReply writes a reply carrying addr as BND.ADDR/BND.PORT.
func WriteReply(w io.Writer, rep byte, addr net.Addr) error {
	atyp, host, port, err := addressBytes(addr)
	if err != nil {
		return err
	}
	if _, err := txsocks5.NewReply(rep, atyp, host, port).WriteTo(w); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

// WriteSuccessReply writes a success reply using localAddr as the bound
// address.
func WriteSuccessReply(w io.Writer, localAddr net.Addr) error {
	return WriteReply(w, RepSuccess, localAddr)
}

// WriteErrorReply writes rep with a zero address of the same family as atyp:
// 16 zero bytes for IPv6, 4 otherwise, and port 0.
func WriteErrorReply(w io.Writer, rep, atyp byte) error {
	if _, err := newZeroAddrReply(rep, atyp).WriteTo(w); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

func newZeroAddrReply(rep, atyp byte) *txsocks5.Reply {
	if atyp == txsocks5.ATYPIPv6 {
		return txsocks5.NewReply(rep, txsocks5.ATYPIPv6, []byte(net.IPv6zero), []byte{0x00, 0x00})
	}
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

// addressBytes splits addr into the ATYP, address and port fields of a reply.
func addressBytes(addr net.Addr) (byte, []byte, []byte, error) {
	if addr == nil {
		return 0, nil, nil, fmt.Errorf("nil address")
	}
	atyp, host, port, err := txsocks5.ParseAddress(addr.String())
	if err != nil {
		return 0, nil, nil, fmt.Errorf("parse address %q: %w", addr.String(), err)
	}
	if atyp == txsocks5.ATYPDomain {
		host = host[1:]
	}
	return atyp, host, port, nil
}
