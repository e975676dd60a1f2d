package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/die-net/tetherproxy/internal/logger"
)

const (
	// DefaultSettleDelay is how long a new network gets before its info is
	// read back.
	DefaultSettleDelay = 750 * time.Millisecond
	// DefaultDebounce is how long a refreshed group or connection is
	// trusted before the backend is asked again.
	DefaultDebounce = 3 * time.Second
)

var ErrMissingPermissions = errors.New("broadcast: missing required permissions")

// Source is whatever handle a Backend needs to manage its network.
type Source any

// Backend creates and inspects the broadcast network.
type Backend interface {
	// Open prepares a Source. The network may already exist.
	Open(ctx context.Context) (Source, error)
	// Connect creates the network on src.
	Connect(ctx context.Context, src Source) error
	// Close tears the network down and releases src.
	Close(ctx context.Context, src Source) error
	GroupInfo(ctx context.Context, src Source) GroupInfo
	ConnectionInfo(ctx context.Context, src Source) ConnectionInfo
}

type PermissionGuard interface {
	CanCreateNetwork() bool
}

// PermissionFunc adapts a function to PermissionGuard.
type PermissionFunc func() bool

func (f PermissionFunc) CanCreateNetwork() bool { return f() }

// ProxyRunner serves the proxy on hostName until ctx is done. onError is
// called as soon as any part of it fails.
type ProxyRunner interface {
	Run(ctx context.Context, hostName string, onError func(error)) error
}

// Clock supplies the times used to debounce refreshes. time.Now readings
// carry a monotonic component, so wall clock changes do not matter.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Options struct {
	Backend     Backend
	Permissions PermissionGuard
	Proxy       ProxyRunner
	Clock       Clock
	SettleDelay time.Duration
	Debounce    time.Duration
}

// UpdateResult is what a refresh got from the backend, before deciding
// whether to publish it.
type UpdateResult struct {
	Group      GroupInfo
	Connection ConnectionInfo
}

func (r UpdateResult) allConnected() bool {
	_, g := r.Group.(GroupConnected)
	_, c := r.Connection.(ConnectionConnected)
	return g && c
}

// Coordinator runs the hotspot state machine:
//
//	NotRunning -> Starting -> Running -> Stopping -> NotRunning
//
// with Error reachable from Starting or whenever the backend or proxy fails.
// Start, Stop and UpdateNetworkInfo are serialized by one mutex.
type Coordinator struct {
	backend     Backend
	permissions PermissionGuard
	proxy       ProxyRunner
	clock       Clock
	settle      time.Duration
	debounce    time.Duration

	status     statusHolder
	group      *Value[GroupInfo]
	connection *Value[ConnectionInfo]
	shutdowns  chan struct{}

	mu             sync.Mutex
	source         Source
	lastGroup      time.Time
	lastConnection time.Time

	jobMu sync.Mutex
	job   *proxyJob
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Permissions == nil {
		opts.Permissions = PermissionFunc(func() bool { return true })
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Debounce == 0 {
		opts.Debounce = DefaultDebounce
	}

	return &Coordinator{
		backend:     opts.Backend,
		permissions: opts.Permissions,
		proxy:       opts.Proxy,
		clock:       opts.Clock,
		settle:      opts.SettleDelay,
		debounce:    opts.Debounce,
		status:      newStatusHolder(),
		group:       NewValue[GroupInfo](GroupEmpty{}),
		connection:  NewValue[ConnectionInfo](ConnectionEmpty{}),
		shutdowns:   make(chan struct{}, 1),
	}
}

func (c *Coordinator) Status() RunningStatus {
	return c.status.get()
}

func (c *Coordinator) WatchStatus(ctx context.Context) <-chan RunningStatus {
	return c.status.v.Watch(ctx)
}

func (c *Coordinator) GroupInfo() GroupInfo {
	return c.group.Get()
}

func (c *Coordinator) WatchGroup(ctx context.Context) <-chan GroupInfo {
	return c.group.Watch(ctx)
}

func (c *Coordinator) ConnectionInfo() ConnectionInfo {
	return c.connection.Get()
}

func (c *Coordinator) WatchConnection(ctx context.Context) <-chan ConnectionInfo {
	return c.connection.Watch(ctx)
}

// Shutdowns receives a value whenever the coordinator shuts down or fails.
// Undelivered signals are coalesced.
func (c *Coordinator) Shutdowns() <-chan struct{} {
	return c.shutdowns
}

// Start brings the network up and serves the proxy on it until ctx is done,
// the proxy fails, or Stop is called. Startup failures are returned and also
// set an Error status. Whatever happens, the network is stopped before Start
// returns.
func (c *Coordinator) Start(ctx context.Context) (err error) {
	if c.status.get().State == Error {
		logger.Warnf("resetting hotspot from error state")
		c.stop(context.WithoutCancel(ctx), true)
	}

	defer func() {
		logger.Infof("stopping hotspot")
		c.stop(context.WithoutCancel(ctx), false)
	}()

	logger.Infof("starting hotspot")
	job, err := c.startNetwork(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil
		}
		kind := HotspotError
		var ke *kindError
		if errors.As(err, &ke) {
			kind = ke.kind
		}
		logger.Errorf("starting hotspot: %v", err)
		c.shutdownForStatus(ErrorStatus(kind, err), false)
		return err
	}
	if job == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case <-job.done:
		return job.err
	}
}

// Stop tears the network down. With clearError an Error status is replaced
// by NotRunning; otherwise it is kept. Stopping a coordinator that is not
// running does nothing.
func (c *Coordinator) Stop(ctx context.Context, clearError bool) {
	c.stop(ctx, clearError)
}

// UpdateNetworkInfo refreshes group and connection info, subject to
// debouncing. Results are only published when both are connected.
func (c *Coordinator) UpdateNetworkInfo(ctx context.Context) UpdateResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.withLockUpdateNetworkInfo(ctx, c.source, false, true)
}

type kindError struct {
	kind ErrorKind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

func (c *Coordinator) startNetwork(ctx context.Context) (*proxyJob, error) {
	c.status.set(RunningStatus{State: Starting}, true)
	c.killProxyJob()

	// The proxy is launched under the same lock as the network, so a Stop
	// either finds nothing to tear down or tears down both.
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.withLockInitializeNetwork(ctx); err != nil {
		return nil, err
	}
	return c.launchProxy(ctx), nil
}

func (c *Coordinator) withLockInitializeNetwork(ctx context.Context) error {
	if !c.permissions.CanCreateNetwork() {
		return ErrMissingPermissions
	}

	src, err := c.backend.Open(ctx)
	if err != nil {
		return &kindError{BroadcastError, fmt.Errorf("open network: %w", err)}
	}

	if c.withLockUpdateNetworkInfo(ctx, src, true, true).allConnected() {
		logger.Infof("reusing existing network")
	} else if err := c.backend.Connect(ctx, src); err != nil {
		if cerr := c.backend.Close(context.WithoutCancel(ctx), src); cerr != nil {
			logger.Warnf("closing network after failed connect: %v", cerr)
		}
		c.withLockResetInfo()
		return &kindError{BroadcastError, fmt.Errorf("connect network: %w", err)}
	}
	c.source = src

	if err := sleepContext(ctx, c.settle); err != nil {
		return err
	}
	c.withLockUpdateNetworkInfo(ctx, src, true, false)
	return nil
}

// withLockUpdateNetworkInfo queries the backend and publishes what it got.
// With onlyAll, nothing is published unless both group and connection are
// connected.
func (c *Coordinator) withLockUpdateNetworkInfo(ctx context.Context, src Source, force, onlyAll bool) UpdateResult {
	res := UpdateResult{
		Group:      c.withLockGroupInfo(ctx, src, force),
		Connection: c.withLockConnectionInfo(ctx, src, force),
	}

	if onlyAll {
		if res.allConnected() {
			c.group.Set(res.Group)
			c.connection.Set(res.Connection)
		}
		return res
	}

	if _, ok := res.Group.(GroupUnchanged); !ok {
		logger.Debugf("group info: %v", res.Group)
		c.group.Set(res.Group)
	}
	if _, ok := res.Connection.(ConnectionUnchanged); !ok {
		logger.Debugf("connection info: %v", res.Connection)
		c.connection.Set(res.Connection)
	}
	return res
}

func (c *Coordinator) withLockGroupInfo(ctx context.Context, src Source, force bool) GroupInfo {
	if src == nil || !c.permissions.CanCreateNetwork() {
		return GroupEmpty{}
	}

	now := c.clock.Now()
	if !force && !c.lastGroup.Add(c.debounce).Before(now) {
		return GroupUnchanged{}
	}

	g := c.backend.GroupInfo(ctx, src)
	if _, ok := g.(GroupConnected); ok {
		c.lastGroup = now
	}
	return g
}

func (c *Coordinator) withLockConnectionInfo(ctx context.Context, src Source, force bool) ConnectionInfo {
	if src == nil || !c.permissions.CanCreateNetwork() {
		return ConnectionEmpty{}
	}

	now := c.clock.Now()
	if !force && c.lastConnection.Add(c.debounce).After(now) {
		return ConnectionUnchanged{}
	}

	info := c.backend.ConnectionInfo(ctx, src)
	if _, ok := info.(ConnectionConnected); ok {
		c.lastConnection = now
	}
	return info
}

func (c *Coordinator) withLockResetInfo() {
	c.lastGroup = time.Time{}
	c.lastConnection = time.Time{}
	c.group.Set(GroupEmpty{})
	c.connection.Set(ConnectionEmpty{})
}

func (c *Coordinator) stop(ctx context.Context, clearError bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.get().State == NotRunning && c.source == nil && c.currentJob() == nil {
		return
	}

	c.shutdownForStatus(RunningStatus{State: Stopping}, clearError)
	c.killProxyJob()

	if c.source != nil {
		if err := c.backend.Close(ctx, c.source); err != nil {
			logger.Warnf("closing network: %v", err)
		}
		c.source = nil
	}

	c.withLockResetInfo()
	c.shutdownForStatus(RunningStatus{State: NotRunning}, clearError)
	logger.Infof("hotspot stopped")
}

func (c *Coordinator) shutdownForStatus(s RunningStatus, clearError bool) {
	c.status.set(s, clearError)
	select {
	case c.shutdowns <- struct{}{}:
	default:
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
