package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"hearth/internal/capture"
	"hearth/internal/config"
	"hearth/internal/connectivity"
	"hearth/internal/logging"
	"hearth/internal/uploader"
)

// Agent owns the outbox drain loop on the capture device.
type Agent struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *capture.Store
	client   *uploader.Client
	monitor  *connectivity.Monitor
	interval time.Duration

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes the agent.
type Option func(*Agent)

// WithSweepInterval overrides the periodic drain interval.
func WithSweepInterval(interval time.Duration) Option {
	return func(a *Agent) {
		if interval > 0 {
			a.interval = interval
		}
	}
}

// New constructs an agent. The connectivity monitor may be nil; draining then
// happens on the sweep interval alone.
func New(cfg *config.Config, store *capture.Store, client *uploader.Client, monitor *connectivity.Monitor, logger *slog.Logger, opts ...Option) (*Agent, error) {
	if cfg == nil || store == nil || client == nil {
		return nil, errors.New("agent requires config, store, and uploader")
	}

	interval := time.Duration(cfg.Capture.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, "hearth-agent.lock")
	agent := &Agent{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "agent"),
		store:    store,
		client:   client,
		monitor:  monitor,
		interval: interval,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(agent)
	}
	return agent, nil
}

// Start acquires the instance lock and launches the drain loop.
func (a *Agent) Start(ctx context.Context) error {
	if a.running.Load() {
		return errors.New("agent already running")
	}

	ok, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another hearth agent is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Uploads cut off by a crash go back to pending before the loop starts.
	if reclaimed, err := a.store.ReclaimUploading(runCtx); err != nil {
		a.logger.Warn("reclaim interrupted uploads", logging.Args(logging.Error(err))...)
	} else if reclaimed > 0 {
		a.logger.Info("reclaimed interrupted uploads", logging.Args(logging.Int64("count", reclaimed))...)
	}

	if a.monitor != nil {
		if err := a.monitor.Start(runCtx); err != nil {
			cancel()
			_ = a.lock.Unlock()
			return fmt.Errorf("start link monitor: %w", err)
		}
	}

	a.wg.Add(1)
	go a.run(runCtx)

	a.running.Store(true)
	a.logger.Info("agent started",
		logging.Args(
			logging.String("lock", a.lockPath),
			logging.Duration("sweep_interval", a.interval),
		)...)
	return nil
}

// Stop shuts the loop down and releases the lock.
func (a *Agent) Stop() {
	if !a.running.Load() {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.wg.Wait()
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if err := a.lock.Unlock(); err != nil {
		a.logger.Warn("release agent lock", logging.Args(logging.Error(err))...)
	}
	a.running.Store(false)
	a.logger.Info("agent stopped")
}

// Close stops the agent and closes the outbox.
func (a *Agent) Close() error {
	a.Stop()
	return a.store.Close()
}

// Running reports whether the drain loop is active.
func (a *Agent) Running() bool {
	return a.running.Load()
}

func (a *Agent) run(ctx context.Context) {
	defer a.wg.Done()

	var online <-chan bool
	if a.monitor != nil {
		var unsubscribe func()
		online, unsubscribe = a.monitor.Subscribe()
		defer unsubscribe()
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	// Anything captured while the agent was down drains immediately.
	a.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case state := <-online:
			if state {
				a.logger.Info("link restored, draining outbox")
				a.drain(ctx)
			}
		case <-ticker.C:
			a.drain(ctx)
		}
	}
}

// drain uploads pending artifacts. Offline or failing uploads leave the
// artifacts in the outbox for the next pass.
func (a *Agent) drain(ctx context.Context) {
	if a.monitor != nil && !a.monitor.Online() {
		return
	}
	uploaded, failed, err := a.client.DrainAll(ctx)
	if uploaded > 0 || failed > 0 {
		a.logger.Info("outbox drained",
			logging.Args(
				logging.Int("uploaded", uploaded),
				logging.Int("failed", failed),
			)...)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("outbox drain stopped", logging.Args(logging.Error(err))...)
	}
}
