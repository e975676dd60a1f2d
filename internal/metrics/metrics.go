// Package metrics holds the proxy's Prometheus collectors and the HTTP
// handler that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "tetherproxy_sessions_active", Help: "Sessions currently being proxied"}, []string{"protocol"})
	SessionsTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tetherproxy_sessions_total", Help: "Sessions accepted"}, []string{"protocol"})
	BytesTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tetherproxy_bytes_total", Help: "Bytes relayed by direction"}, []string{"direction"})
	ErrorsTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tetherproxy_errors_total", Help: "Errors by kind"}, []string{"kind"})
	BlockedTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tetherproxy_blocked_total", Help: "Refused sessions by reason"}, []string{"reason"})
	TrackedSockets = promauto.NewGauge(prometheus.GaugeOpts{Name: "tetherproxy_tracked_sockets", Help: "Open sockets held by the socket tracker"})
	BroadcastState = promauto.NewGauge(prometheus.GaugeOpts{Name: "tetherproxy_broadcast_state", Help: "Broadcast running state (0 not running, 1 starting, 2 running, 3 stopping, 4 error)"})
	ClientsSeen    = promauto.NewGauge(prometheus.GaugeOpts{Name: "tetherproxy_clients_seen", Help: "Clients seen within the stale window"})
)

const (
	DirectionToInternet   = "to_internet"
	DirectionFromInternet = "from_internet"
)
