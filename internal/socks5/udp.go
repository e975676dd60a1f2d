package socks5

import (
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	ErrReservedBytes = errors.New("socks5: udp reserved bytes not zero")
	ErrFragmented    = errors.New("socks5: udp fragments not supported")
)

// ParseDatagram parses a client UDP relay packet. Packets with a non-zero
// reserved field or any fragment number are rejected.
func ParseDatagram(b []byte) (*txsocks5.Datagram, error) {
	d, err := txsocks5.NewDatagramFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("udp datagram: %w", err)
	}
	if len(d.Rsv) != 2 || d.Rsv[0] != 0 || d.Rsv[1] != 0 {
		return nil, ErrReservedBytes
	}
	if d.Frag != 0 {
		return nil, ErrFragmented
	}
	return d, nil
}

// NewResponseDatagram wraps data for the client. The header always uses ATYP
// IPv4 with the relay's own address and port.
func NewResponseDatagram(relay *net.UDPAddr, data []byte) []byte {
	ip := relay.IP.To4()
	if ip == nil {
		ip = net.IPv4zero.To4()
	}
	port := []byte{byte(relay.Port >> 8), byte(relay.Port)}
	return txsocks5.NewDatagram(txsocks5.ATYPIPv4, ip, port, data).Bytes()
}
