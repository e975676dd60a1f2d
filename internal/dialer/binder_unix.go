//go:build unix && !linux

package dialer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func (b Binder) setOptions(fd uintptr) error {
	if b.ReuseAddr {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
		}
	}
	if b.Interface != "" {
		return ErrBindUnsupported
	}
	return nil
}
