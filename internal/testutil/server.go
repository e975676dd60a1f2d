package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
)

// StartSingleAcceptServer runs handler on the first accepted connection. The
// returned func closes the listener and waits for handler to return.
func StartSingleAcceptServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}()

	wait := func() {
		_ = ln.Close()
		wg.Wait()
	}

	return ln, wait
}

// StartRecordingServer accepts one connection, answers it with reply, and
// sends everything read from it until EOF on the returned channel.
func StartRecordingServer(t *testing.T, ctx context.Context, reply []byte) (net.Listener, <-chan []byte) {
	t.Helper()

	got := make(chan []byte, 1)
	ln, wait := StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		var all []byte
		buf := make([]byte, 4096)
		if len(reply) > 0 {
			_, _ = c.Write(reply)
		}
		for {
			n, err := c.Read(buf)
			all = append(all, buf[:n]...)
			if err != nil {
				break
			}
		}
		got <- all
	})
	t.Cleanup(wait)
	return ln, got
}
