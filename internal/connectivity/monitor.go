package connectivity

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"hearth/internal/logging"
)

const defaultSysNetPath = "/sys/class/net"

// Monitor tracks whether any network interface has an established link. It
// listens for udev net subsystem events and re-reads the kernel state on each
// one, with a slow periodic probe as a fallback when netlink is unavailable.
type Monitor struct {
	logger       *slog.Logger
	sysNetPath   string
	pollInterval time.Duration

	mu          sync.Mutex
	conn        *netlink.UEventConn
	quit        chan struct{}
	running     bool
	online      bool
	subscribers []chan bool
}

// Option customizes the monitor.
type Option func(*Monitor)

// WithSysNetPath overrides where interface operstate files are read from.
func WithSysNetPath(path string) Option {
	return func(m *Monitor) {
		if strings.TrimSpace(path) != "" {
			m.sysNetPath = path
		}
	}
}

// WithPollInterval overrides the fallback probe interval.
func WithPollInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// NewMonitor creates a link monitor. The initial state is probed immediately
// so Online is meaningful before Start.
func NewMonitor(logger *slog.Logger, opts ...Option) *Monitor {
	monitor := &Monitor{
		logger:       logging.NewComponentLogger(logger, "connectivity"),
		sysNetPath:   defaultSysNetPath,
		pollInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(monitor)
	}
	monitor.online = monitor.probe()
	return monitor
}

// Online reports the last observed link state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel that receives the new state on every
// transition, and a func that removes the subscription. The channel is
// buffered; a slow receiver misses intermediate flaps but always sees the
// latest edge.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, subscriber := range m.subscribers {
			if subscriber == ch {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
	return ch, unsubscribe
}

// Start begins watching for link changes.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("netlink unavailable, falling back to periodic probes",
			logging.Args(logging.Error(err))...)
		conn = nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.watchLoop(ctx, quit)

	m.logger.Info("link monitor started",
		logging.Args(logging.Bool("netlink", conn != nil), logging.Bool("online", m.online))...)
	return nil
}

// Stop shuts the monitor down.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
}

// Running reports whether the monitor is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Refresh re-probes the kernel state and notifies subscribers on a change.
// The watch loop calls this on every event; callers may also invoke it
// directly before an upload attempt.
func (m *Monitor) Refresh() bool {
	online := m.probe()

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	var subscribers []chan bool
	if changed {
		subscribers = append(subscribers, m.subscribers...)
	}
	m.mu.Unlock()

	if changed {
		m.logger.Info("link state changed", logging.Args(logging.Bool("online", online))...)
		for _, ch := range subscribers {
			select {
			case ch <- online:
			default:
				// Replace a stale unread edge with the latest one.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- online:
				default:
				}
			}
		}
	}
	return online
}

func (m *Monitor) watchLoop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	var monitorQuit chan struct{}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		monitorQuit = conn.Monitor(queue, errs, m.buildMatcher())
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	stop := func() {
		if monitorQuit != nil {
			close(monitorQuit)
		}
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-quit:
			stop()
			return
		case <-ticker.C:
			m.Refresh()
		case <-queue:
			m.Refresh()
		case err := <-errs:
			m.logger.Warn("netlink monitor error", logging.Args(logging.Error(err))...)
		}
	}
}

// buildMatcher matches net subsystem events for any action, since both
// interface add/remove and carrier changes affect the link state.
func (m *Monitor) buildMatcher() netlink.Matcher {
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Env: map[string]string{
			"SUBSYSTEM": "net",
		},
	})
	return rules
}

// probe reports whether any non-loopback interface is up.
func (m *Monitor) probe() bool {
	entries, err := os.ReadDir(m.sysNetPath)
	if err != nil {
		m.logger.Warn("read interface list", logging.Args(logging.Error(err))...)
		return false
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == "lo" {
			continue
		}
		state, err := os.ReadFile(filepath.Join(m.sysNetPath, name, "operstate"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(state)) == "up" {
			return true
		}
	}
	return false
}
