package clients

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/die-net/tetherproxy/internal/logger"
	"github.com/die-net/tetherproxy/internal/metrics"
)

const (
	// DefaultStaleAfter is how long a client may go unseen before it is purged.
	DefaultStaleAfter = 2 * time.Minute
	// DefaultIdleShutdown is how long the hotspot may have no clients before
	// NoClients fires.
	DefaultIdleShutdown = 10 * time.Minute
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Limits caps specific clients by key (IP address or host name).
	Limits map[string]TransferAmount
	// DefaultLimit applies to clients without an entry in Limits.
	DefaultLimit TransferAmount
	// Blocked keys are always refused and never purged.
	Blocked []string

	StaleAfter time.Duration
	// IdleShutdown enables the no-clients signal. Zero disables it.
	IdleShutdown time.Duration
}

// Manager records every client the proxy sees and which ones are blocked.
// It is safe for concurrent use.
type Manager struct {
	cfg ManagerConfig
	now func() time.Time

	mu        sync.Mutex
	seen      []Client
	blocked   []Client
	permanent map[string]bool
	lastAny   time.Time

	noClients chan struct{}
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}

	m := &Manager{
		cfg:       cfg,
		now:       time.Now,
		permanent: make(map[string]bool, len(cfg.Blocked)),
		noClients: make(chan struct{}, 1),
	}
	for _, k := range cfg.Blocked {
		m.permanent[k] = true
	}
	m.lastAny = m.now()
	return m
}

// Seen records activity from c and returns the stored client, with its
// configured limit and first-seen time filled in.
func (m *Manager) Seen(c Client) Client {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastAny = now
	for i := range m.seen {
		if m.seen[i].Matches(c) {
			m.seen[i].LastSeen = now
			return m.seen[i]
		}
	}

	c.FirstSeen, c.LastSeen = now, now
	c.Limit = m.limitFor(c.Key)
	m.seen = append(m.seen, c)
	metrics.ClientsSeen.Set(float64(len(m.seen)))
	logger.Debugf("first time seeing client %s", c)
	return c
}

func (m *Manager) limitFor(key string) TransferAmount {
	if l, ok := m.cfg.Limits[key]; ok {
		return l
	}
	return m.cfg.DefaultLimit
}

// Block refuses further connections from c.
func (m *Manager) Block(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if slices.ContainsFunc(m.blocked, c.Matches) {
		return
	}
	m.blocked = append(m.blocked, c)
}

// Unblock reverses Block. Clients blocked by configuration stay blocked.
func (m *Manager) Unblock(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocked = slices.DeleteFunc(m.blocked, c.Matches)
}

func (m *Manager) IsBlocked(c Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.permanent[c.Key] || slices.ContainsFunc(m.blocked, c.Matches)
}

// Clients returns the seen clients in first-seen order.
func (m *Manager) Clients() []Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.seen)
}

// Blocked returns the clients blocked at runtime.
func (m *Manager) Blocked() []Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.blocked)
}

// AddTransfer adds a session's transfer counts to c's totals.
func (m *Manager) AddTransfer(c Client, toInternet, fromInternet int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.seen {
		if m.seen[i].Matches(c) {
			m.seen[i].ToInternet += toInternet
			m.seen[i].FromInternet += fromInternet
			return
		}
	}
}

// Clear forgets every seen and runtime-blocked client.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seen = nil
	m.blocked = nil
	metrics.ClientsSeen.Set(0)
	m.lastAny = m.now()
}

// Purge drops clients last seen before cutoff, along with runtime blocks for
// clients that are no longer seen. It returns how many clients remain.
func (m *Manager) Purge(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seen = slices.DeleteFunc(m.seen, func(c Client) bool {
		if c.LastSeen.Before(cutoff) {
			logger.Debugf("client %s is stale, last seen %s", c, c.LastSeen.Format(time.RFC3339))
			return true
		}
		return false
	})
	m.blocked = slices.DeleteFunc(m.blocked, func(b Client) bool {
		return !slices.ContainsFunc(m.seen, b.Matches)
	})
	metrics.ClientsSeen.Set(float64(len(m.seen)))
	return len(m.seen)
}

// NoClients fires when IdleShutdown passes with no client seen.
func (m *Manager) NoClients() <-chan struct{} {
	return m.noClients
}

// Run purges stale clients every StaleAfter until ctx is done, and signals
// NoClients when the hotspot has been empty for IdleShutdown.
func (m *Manager) Run(ctx context.Context) error {
	t := time.NewTicker(m.cfg.StaleAfter)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.tick()
		}
	}
}

func (m *Manager) tick() {
	now := m.now()
	remaining := m.Purge(now.Add(-m.cfg.StaleAfter))
	if remaining > 0 || m.cfg.IdleShutdown <= 0 {
		return
	}

	m.mu.Lock()
	idle := now.Sub(m.lastAny)
	m.mu.Unlock()

	if idle >= m.cfg.IdleShutdown {
		logger.Infof("no clients for %s", idle.Round(time.Second))
		select {
		case m.noClients <- struct{}{}:
		default:
		}
	}
}
