package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var ErrNoAddress = errors.New("broadcast: interface has no IPv4 address")

// StaticBackend is a Backend for a network that is already up, such as a
// hotspot managed by the operating system. It reports a fixed SSID and
// password and finds the hotspot address on Interface, unless Host is set.
type StaticBackend struct {
	SSID      string
	Password  string
	Interface string
	Host      string
	// Devices, if set, lists the peers reported with the group.
	Devices func() []Device
}

type staticSource struct {
	host string
}

func (b *StaticBackend) Open(context.Context) (Source, error) {
	if b.Host != "" {
		return &staticSource{host: b.Host}, nil
	}

	host, err := interfaceIPv4(b.Interface)
	if err != nil {
		return nil, err
	}
	return &staticSource{host: host}, nil
}

// Connect has nothing to create; Open already found the network.
func (b *StaticBackend) Connect(context.Context, Source) error {
	return nil
}

func (b *StaticBackend) Close(context.Context, Source) error {
	return nil
}

func (b *StaticBackend) GroupInfo(_ context.Context, src Source) GroupInfo {
	if _, ok := src.(*staticSource); !ok {
		return GroupEmpty{}
	}

	g := GroupConnected{SSID: b.SSID, Password: b.Password}
	if b.Devices != nil {
		g.Clients = b.Devices()
	}
	return g
}

func (b *StaticBackend) ConnectionInfo(_ context.Context, src Source) ConnectionInfo {
	s, ok := src.(*staticSource)
	if !ok {
		return ConnectionEmpty{}
	}

	// The interface address can change while the hotspot is up.
	if b.Host == "" {
		host, err := interfaceIPv4(b.Interface)
		if err != nil {
			return ConnectionError{Err: err}
		}
		s.host = host
	}
	return ConnectionConnected{HostName: s.host}
}

func interfaceIPv4(name string) (string, error) {
	if name == "" {
		return "", errors.New("broadcast: no hotspot interface or host configured")
	}

	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("hotspot interface: %w", err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return "", fmt.Errorf("hotspot interface %s: %w", name, err)
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if ip4 := ipn.IP.To4(); ip4 != nil {
				return ip4.String(), nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoAddress, name)
}
