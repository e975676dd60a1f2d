// Package socks4 implements the SOCKS4 and SOCKS4a request and reply format.
package socks4

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
)

const (
	Version = 0x04

	CmdConnect = 0x01
	CmdBind    = 0x02

	// Replies carry version 0, not 4.
	ReplyVersion = 0x00

	StatusGranted  = 0x5a
	StatusRejected = 0x5b

	// maxField bounds the null-terminated USERID and DOMAIN fields.
	maxField = 255
)

var (
	ErrVersion             = errors.New("socks4: bad version")
	ErrCommandNotSupported = errors.New("socks4: command not supported")
	ErrInvalidPort         = errors.New("socks4: invalid destination port")
	ErrFieldTooLong        = errors.New("socks4: field too long")
)

// Request is a SOCKS4 or SOCKS4a request.
type Request struct {
	Cmd    byte
	Port   uint16
	IP     net.IP
	UserID string
	// Domain is set for SOCKS4a requests, whose IP is 0.0.0.x.
	Domain string
}

// Address returns the destination as host:port.
func (r *Request) Address() string {
	host := r.Domain
	if host == "" {
		host = r.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(r.Port)))
}

// ReadRequest reads a request, including its version byte, from r. Requests
// for port 0 or commands other than CONNECT and BIND are answered with a
// rejection on w.
func ReadRequest(r *bufio.Reader, w io.Writer) (*Request, error) {
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("socks4 request: %w", err)
	}
	if hdr[0] != Version {
		return nil, ErrVersion
	}

	req := &Request{
		Cmd:  hdr[1],
		Port: binary.BigEndian.Uint16(hdr[2:4]),
		IP:   net.IPv4(hdr[4], hdr[5], hdr[6], hdr[7]).To4(),
	}

	userID, err := readField(r)
	if err != nil {
		return nil, fmt.Errorf("socks4 userid: %w", err)
	}
	req.UserID = userID

	if isSOCKS4a(req.IP) {
		domain, err := readField(r)
		if err != nil {
			return nil, fmt.Errorf("socks4a domain: %w", err)
		}
		req.Domain = domain
	}

	if req.Cmd != CmdConnect && req.Cmd != CmdBind {
		_ = WriteReply(w, StatusRejected, nil)
		return req, fmt.Errorf("%w: %d", ErrCommandNotSupported, req.Cmd)
	}
	if req.Port == 0 {
		_ = WriteReply(w, StatusRejected, nil)
		return req, ErrInvalidPort
	}
	return req, nil
}

// WriteReply writes VN=0, status, and the port and IPv4 address of addr.
// A nil or non-IPv4 addr is written as zeros.
func WriteReply(w io.Writer, status byte, addr net.Addr) error {
	b := make([]byte, 8)
	b[0] = ReplyVersion
	b[1] = status

	var ip net.IP
	var port int
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip, port = a.IP, a.Port
	case *net.UDPAddr:
		ip, port = a.IP, a.Port
	}
	if ip4 := ip.To4(); ip4 != nil {
		binary.BigEndian.PutUint16(b[2:4], uint16(port))
		copy(b[4:], ip4)
	}

	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("socks4 reply: %w", err)
	}
	return nil
}

func isSOCKS4a(ip net.IP) bool {
	return ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0
}

func readField(r *bufio.Reader) (string, error) {
	var b []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == 0 {
			return string(b), nil
		}
		if len(b) == maxField {
			return "", ErrFieldTooLong
		}
		b = append(b, c)
	}
}
