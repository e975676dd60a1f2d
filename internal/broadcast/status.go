package broadcast

import (
	"fmt"

	"github.com/die-net/tetherproxy/internal/metrics"
)

type State int

const (
	NotRunning State = iota
	Starting
	Running
	Stopping
	Error
)

func (s State) String() string {
	switch s {
	case NotRunning:
		return "not running"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Error:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrorKind says which part of the hotspot failed.
type ErrorKind int

const (
	HotspotError ErrorKind = iota
	ProxyError
	BroadcastError
)

func (k ErrorKind) String() string {
	switch k {
	case ProxyError:
		return "proxy"
	case BroadcastError:
		return "broadcast"
	}
	return "hotspot"
}

// RunningStatus is the coordinator's state. Kind and Err are only set in the
// Error state.
type RunningStatus struct {
	State State
	Kind  ErrorKind
	Err   error
}

func ErrorStatus(kind ErrorKind, err error) RunningStatus {
	return RunningStatus{State: Error, Kind: kind, Err: err}
}

func (s RunningStatus) String() string {
	if s.State == Error {
		return fmt.Sprintf("error (%s): %v", s.Kind, s.Err)
	}
	return s.State.String()
}

// statusHolder publishes status changes. An Error status sticks until a
// setter passes clearError.
type statusHolder struct {
	v *Value[RunningStatus]
}

func newStatusHolder() statusHolder {
	return statusHolder{v: NewValue(RunningStatus{State: NotRunning})}
}

func (h statusHolder) get() RunningStatus {
	return h.v.Get()
}

func (h statusHolder) set(s RunningStatus, clearError bool) {
	h.v.Update(func(cur RunningStatus) RunningStatus {
		if cur.State == Error && s.State != Error && !clearError {
			return cur
		}
		return s
	})
	metrics.BroadcastState.Set(float64(h.v.Get().State))
}
