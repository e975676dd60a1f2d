package socks5

import (
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// ErrRequestFailed is returned when the server answers a request with a
// non-success reply.
var ErrRequestFailed = errors.New("socks5: request failed")

func ClientDial(conn net.Conn, auth Auth, address string) error {
	if err := ClientNegotiate(conn, auth); err != nil {
		return err
	}
	if _, err := ClientRequest(conn, CmdConnect, address); err != nil {
		return err
	}
	return nil
}

func ClientNegotiate(conn net.Conn, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return errors.New("server requires username/password")
		}

		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return errors.New("auth failed")
		}
		return nil
	default:
		return fmt.Errorf("%w: method %#x", ErrNoAcceptableMethods, neg.Method)
	}
}

// ClientRequest sends cmd for address and reads the first reply.
func ClientRequest(conn net.Conn, cmd byte, address string) (*txsocks5.Reply, error) {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(cmd, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	return ClientReadReply(conn)
}

// ClientReadReply reads one reply. BIND sends two.
func ClientReadReply(conn net.Conn) (*txsocks5.Reply, error) {
	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return rep, fmt.Errorf("%w: rep %#x", ErrRequestFailed, rep.Rep)
	}
	return rep, nil
}
