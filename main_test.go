package main

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/die-net/tetherproxy/internal/broadcast"
	"github.com/die-net/tetherproxy/internal/clients"
)

func TestParseTCPKeepAlive(t *testing.T) {
	tests := []struct {
		in      string
		want    net.KeepAliveConfig
		wantErr bool
	}{
		{in: "on", want: net.KeepAliveConfig{Enable: true}},
		{in: " OFF ", want: net.KeepAliveConfig{}},
		{in: "45:45:3", want: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 45 * time.Second, Count: 3}},
		{in: "", wantErr: true},
		{in: "45:45", wantErr: true},
		{in: "0:45:3", wantErr: true},
		{in: "45:x:3", wantErr: true},
		{in: "45:45:-1", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseTCPKeepAlive(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseTCPKeepAlive(%q) = %+v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseTCPKeepAlive(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseTCPKeepAlive(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestDevices(t *testing.T) {
	m := clients.NewManager(clients.ManagerConfig{})
	m.Seen(clients.FromHostName("laptop"))
	m.Seen(clients.FromAddr(&net.TCPAddr{IP: net.IPv4(192, 168, 49, 20), Port: 5000}))

	got := devices(m)
	if len(got) != 2 {
		t.Fatalf("devices = %+v, want 2", got)
	}
	if got[0].Name != "laptop" || got[0].IPAddress != "" {
		t.Errorf("host name client = %+v", got[0])
	}
	if got[1].IPAddress != "192.168.49.20" {
		t.Errorf("ip client = %+v", got[1])
	}
}

type idleProxy struct{}

func (idleProxy) Run(ctx context.Context, _ string, _ func(error)) error {
	<-ctx.Done()
	return nil
}

func TestRefreshPublishesNewDevices(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var seen []broadcast.Device
	coord := broadcast.NewCoordinator(broadcast.Options{
		Backend: &broadcast.StaticBackend{
			SSID: "DIRECT-TF-test",
			Host: "127.0.0.1",
			Devices: func() []broadcast.Device {
				mu.Lock()
				defer mu.Unlock()
				return append([]broadcast.Device(nil), seen...)
			},
		},
		Proxy:       idleProxy{},
		SettleDelay: time.Millisecond,
		Debounce:    time.Millisecond,
	})

	startCtx, stopHotspot := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- coord.Start(startCtx) }()
	defer func() {
		stopHotspot()
		if err := <-errc; err != nil {
			t.Errorf("Start: %v", err)
		}
	}()

	go refresh(startCtx, coord, 5*time.Millisecond)

	for coord.Status().State != broadcast.Running {
		if ctx.Err() != nil {
			t.Fatalf("hotspot never ran: %s", coord.Status())
		}
		time.Sleep(time.Millisecond)
	}
	if g, ok := coord.GroupInfo().(broadcast.GroupConnected); !ok || len(g.Clients) != 0 {
		t.Fatalf("group at start = %v", coord.GroupInfo())
	}

	mu.Lock()
	seen = []broadcast.Device{{Name: "phone", IPAddress: "192.168.49.20"}}
	mu.Unlock()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if g, ok := coord.GroupInfo().(broadcast.GroupConnected); ok && len(g.Clients) == 1 {
			if g.Clients[0].Name != "phone" {
				t.Errorf("clients = %+v", g.Clients)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("group never refreshed: %v", coord.GroupInfo())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
