package dialer

import (
	"errors"
	"net"
	"syscall"
)

// ErrBindUnsupported is returned when a Binder names an interface on a
// platform that cannot pin sockets to one.
var ErrBindUnsupported = errors.New("binding sockets to an interface is not supported on this platform")

// Binder prepares raw sockets before bind or connect.
type Binder struct {
	// Interface pins sockets to the named network interface. Empty leaves
	// routing to the kernel.
	Interface string
	// ReuseAddr sets SO_REUSEADDR, so listeners can rebind right after a
	// restart.
	ReuseAddr bool
}

// Control is suitable for net.Dialer.Control and net.ListenConfig.Control.
func (b Binder) Control(network, address string, c syscall.RawConn) error {
	if b.Interface == "" && !b.ReuseAddr {
		return nil
	}

	var serr error
	err := c.Control(func(fd uintptr) {
		serr = b.setOptions(fd)
	})
	if err != nil {
		return err
	}
	return serr
}

// ListenConfig returns a net.ListenConfig that runs b on every socket.
func (b Binder) ListenConfig(ka net.KeepAliveConfig) net.ListenConfig {
	return net.ListenConfig{Control: b.Control, KeepAliveConfig: ka}
}
