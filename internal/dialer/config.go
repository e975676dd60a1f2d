package dialer

import (
	"net"
	"time"
)

type Config struct {
	DialTimeout time.Duration
	KeepAlive   net.KeepAliveConfig
	Binder      Binder
}
