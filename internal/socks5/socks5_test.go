package socks5

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

func TestClientDialToServer(t *testing.T) {
	tests := []struct {
		name string
		cmd  byte
		addr string
	}{
		{name: "connect_ipv4", cmd: CmdConnect, addr: "127.0.0.1:80"},
		{name: "connect_domain", cmd: CmdConnect, addr: "example.com:443"},
		{name: "bind_ipv6", cmd: CmdBind, addr: "[::1]:8080"},
		{name: "udp", cmd: CmdUDP, addr: "0.0.0.0:5353"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				if err := ServerNegotiate(serverConn, serverConn); err != nil {
					return err
				}

				req, err := ServerReadRequest(serverConn, serverConn)
				if err != nil {
					return err
				}
				if req.Cmd != tt.cmd {
					return fmt.Errorf("unexpected command: %d", req.Cmd)
				}
				if req.Address() != tt.addr {
					return fmt.Errorf("unexpected address: %s", req.Address())
				}

				return WriteSuccessReply(serverConn, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})
			})

			if err := ClientNegotiate(clientConn, Auth{}); err != nil {
				t.Fatal(err)
			}
			if _, err := ClientRequest(clientConn, tt.cmd, tt.addr); err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestServerNegotiateRejectsAuthOnly(t *testing.T) {
	in := bytes.NewReader([]byte{0x05, 0x01, txsocks5.MethodUsernamePassword})
	var out bytes.Buffer

	err := ServerNegotiate(in, &out)
	if !errors.Is(err, ErrNoAcceptableMethods) {
		t.Fatalf("err=%v want ErrNoAcceptableMethods", err)
	}
	if !bytes.Equal(out.Bytes(), []byte{0x05, 0xff}) {
		t.Fatalf("reply=%x want 05ff", out.Bytes())
	}
}

func TestServerReadRequestErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     []byte
		wantErr error
		reply   []byte
	}{
		{
			name:    "unknown command",
			req:     []byte{0x05, 0x09, 0x00, ATYPIPv4, 1, 2, 3, 4, 0x00, 0x50},
			wantErr: ErrCommandNotSupported,
			reply:   []byte{0x05, RepCommandNotSupported, 0x00, ATYPIPv4, 0, 0, 0, 0, 0, 0},
		},
		{
			name:    "port zero ipv6",
			req:     append(append([]byte{0x05, CmdConnect, 0x00, ATYPIPv6}, net.IPv6loopback...), 0x00, 0x00),
			wantErr: ErrInvalidPort,
			reply:   append(append([]byte{0x05, RepServerFailure, 0x00, ATYPIPv6}, make([]byte, 16)...), 0x00, 0x00),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			_, err := ServerReadRequest(bytes.NewReader(tt.req), &out)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err=%v want %v", err, tt.wantErr)
			}
			if !bytes.Equal(out.Bytes(), tt.reply) {
				t.Fatalf("reply=%x want %x", out.Bytes(), tt.reply)
			}
		})
	}
}

func TestReplyRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		addr *net.TCPAddr
		atyp byte
	}{
		{name: "ipv4", addr: &net.TCPAddr{IP: net.IPv4(93, 184, 216, 34), Port: 80}, atyp: ATYPIPv4},
		{name: "ipv6", addr: &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 65535}, atyp: ATYPIPv6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteSuccessReply(&buf, tt.addr); err != nil {
				t.Fatal(err)
			}

			rep, err := txsocks5.NewReplyFrom(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if rep.Rep != RepSuccess || rep.Atyp != tt.atyp {
				t.Fatalf("rep=%d atyp=%d", rep.Rep, rep.Atyp)
			}
			if got := net.IP(rep.BndAddr); !got.Equal(tt.addr.IP) {
				t.Fatalf("addr=%s want %s", got, tt.addr.IP)
			}
			if got := int(rep.BndPort[0])<<8 | int(rep.BndPort[1]); got != tt.addr.Port {
				t.Fatalf("port=%d want %d", got, tt.addr.Port)
			}
		})
	}
}

func TestDatagram(t *testing.T) {
	payload := []byte("query")
	pkt := append([]byte{0x00, 0x00, 0x00, ATYPIPv4, 8, 8, 8, 8, 0x00, 0x35}, payload...)

	d, err := ParseDatagram(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if d.Address() != "8.8.8.8:53" {
		t.Fatalf("address=%s", d.Address())
	}
	if !bytes.Equal(d.Data, payload) {
		t.Fatalf("data=%q", d.Data)
	}

	frag := append([]byte{}, pkt...)
	frag[2] = 1
	if _, err := ParseDatagram(frag); !errors.Is(err, ErrFragmented) {
		t.Fatalf("err=%v want ErrFragmented", err)
	}

	rsv := append([]byte{}, pkt...)
	rsv[1] = 1
	if _, err := ParseDatagram(rsv); !errors.Is(err, ErrReservedBytes) {
		t.Fatalf("err=%v want ErrReservedBytes", err)
	}

	resp := NewResponseDatagram(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 40000}, []byte("answer"))
	want := append([]byte{0x00, 0x00, 0x00, ATYPIPv4, 10, 0, 0, 1, 0x9c, 0x40}, "answer"...)
	if !bytes.Equal(resp, want) {
		t.Fatalf("response=%x want %x", resp, want)
	}
}
