// Package broadcast coordinates the hotspot's lifecycle: it brings the
// broadcast network up through a Backend, publishes the network's group and
// connection info, and runs the proxy only while the network is up.
package broadcast

import (
	"fmt"
	"net/netip"
)

// GroupInfo describes the broadcast group. It is one of GroupUnchanged,
// GroupEmpty, GroupConnected or GroupError.
type GroupInfo interface {
	isGroupInfo()
}

// GroupUnchanged means the cached info is still fresh and was not queried.
type GroupUnchanged struct{}

type GroupEmpty struct{}

type GroupConnected struct {
	SSID     string
	Password string
	Clients  []Device
}

type GroupError struct {
	Err error
}

// Device is a peer connected to the group.
type Device struct {
	Name      string
	IPAddress string
}

func (GroupUnchanged) isGroupInfo() {}
func (GroupEmpty) isGroupInfo()     {}
func (GroupConnected) isGroupInfo() {}
func (GroupError) isGroupInfo()     {}

func (g GroupConnected) String() string {
	return fmt.Sprintf("Connected(ssid=%q)", g.SSID)
}

// ConnectionInfo describes the hotspot's own address. It is one of
// ConnectionUnchanged, ConnectionEmpty, ConnectionConnected or
// ConnectionError.
type ConnectionInfo interface {
	isConnectionInfo()
}

type ConnectionUnchanged struct{}

type ConnectionEmpty struct{}

type ConnectionConnected struct {
	HostName string
}

type ConnectionError struct {
	Err error
}

func (ConnectionUnchanged) isConnectionInfo() {}
func (ConnectionEmpty) isConnectionInfo()     {}
func (ConnectionConnected) isConnectionInfo() {}
func (ConnectionError) isConnectionInfo()     {}

// IsClientWithinAddressableRange reports whether ip shares the first three
// octets of the hotspot's IPv4 address. It is false when either address is
// not IPv4.
func (c ConnectionConnected) IsClientWithinAddressableRange(ip string) bool {
	host, err := netip.ParseAddr(c.HostName)
	if err != nil || !host.Unmap().Is4() {
		return false
	}
	client, err := netip.ParseAddr(ip)
	if err != nil || !client.Unmap().Is4() {
		return false
	}
	h, cl := host.Unmap().As4(), client.Unmap().As4()
	return h[0] == cl[0] && h[1] == cl[1] && h[2] == cl[2]
}
