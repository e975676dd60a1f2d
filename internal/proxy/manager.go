package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/die-net/tetherproxy/internal/logger"
)

// ErrBind is wrapped by errors from a manager that could not open its socket.
var ErrBind = errors.New("proxy: unable to bind")

// maxAcceptFailures is how many accepts in a row may fail before a loop
// gives up.
const maxAcceptFailures = 10

// Handler serves one accepted connection. The manager closes conn after
// Handle returns.
type Handler interface {
	Handle(ctx context.Context, conn net.Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, net.Conn)

func (f HandlerFunc) Handle(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

// PacketHandler serves one datagram received on pc. ctx lives as long as the
// loop, and data is only valid until HandlePacket returns.
type PacketHandler interface {
	HandlePacket(ctx context.Context, pc net.PacketConn, from net.Addr, data []byte)
}

// TCPManager is the accept loop for one TCP proxy protocol.
type TCPManager struct {
	Name         string
	Addr         string
	Handler      Handler
	ListenConfig net.ListenConfig
	Tracker      *SocketTracker
}

// Run listens on Addr and serves each connection on its own goroutine until
// ctx is done. At that point every accepted connection is closed and the
// sessions are waited for.
func (m *TCPManager) Run(ctx context.Context) error {
	ln, err := m.ListenConfig.Listen(ctx, "tcp", m.Addr)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrBind, m.Name, m.Addr, err)
	}
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	logger.Infof("%s proxy listening on %s", m.Name, ln.Addr())

	var wg sync.WaitGroup
	defer wg.Wait()

	failures := 0
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			failures++
			if failures >= maxAcceptFailures {
				return fmt.Errorf("%s accept: %w", m.Name, err)
			}
			logger.Warnf("%s accept: %v", m.Name, err)
			time.Sleep(time.Duration(failures) * 10 * time.Millisecond)
			continue
		}
		failures = 0

		untrack := m.tracker().Track(c)
		// Sessions blocked reading a request do not watch ctx.
		stopClose := context.AfterFunc(ctx, func() { _ = c.Close() })
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer untrack()
			defer stopClose()
			defer c.Close()

			m.Handler.Handle(ctx, c)
		}()
	}
}

func (m *TCPManager) tracker() *SocketTracker {
	if m.Tracker == nil {
		m.Tracker = NewSocketTracker()
	}
	return m.Tracker
}

// UDPManager reads datagrams from one shared socket and hands each to
// Handler on a short-lived goroutine.
type UDPManager struct {
	Name         string
	Addr         string
	Handler      PacketHandler
	ListenConfig net.ListenConfig
	Tracker      *SocketTracker
}

func (m *UDPManager) Run(ctx context.Context) error {
	pc, err := m.ListenConfig.ListenPacket(ctx, "udp", m.Addr)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrBind, m.Name, m.Addr, err)
	}
	defer pc.Close()
	if m.Tracker != nil {
		untrack := m.Tracker.Track(pc)
		defer untrack()
	}
	stop := context.AfterFunc(ctx, func() { _ = pc.Close() })
	defer stop()

	logger.Infof("%s proxy listening on udp %s", m.Name, pc.LocalAddr())

	var wg sync.WaitGroup
	defer wg.Wait()

	failures := 0
	for {
		buf := datagramPool.Get()
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			datagramPool.Put(buf)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			failures++
			if failures >= maxAcceptFailures {
				return fmt.Errorf("%s read: %w", m.Name, err)
			}
			logger.Warnf("%s read: %v", m.Name, err)
			continue
		}
		failures = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer datagramPool.Put(buf)

			m.Handler.HandlePacket(ctx, pc, from, buf[:n])
		}()
	}
}
