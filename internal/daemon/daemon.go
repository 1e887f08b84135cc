package daemon

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

	"hearth/internal/config"
	"hearth/internal/jobs"
	"hearth/internal/logging"
	"hearth/internal/server"
)

// Daemon runs the dispatcher loop, the HTTP API, and queue maintenance as
// one unit and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *jobs.Store
	dispatcher *jobs.Dispatcher
	api        *server.Server

	pollInterval        time.Duration
	maintenanceInterval time.Duration

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes the daemon.
type Option func(*Daemon)

// WithPollInterval overrides how often the dispatcher looks for due jobs.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithMaintenanceInterval overrides how often stale reclaim and retention
// sweeps run.
func WithMaintenanceInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		if interval > 0 {
			d.maintenanceInterval = interval
		}
	}
}

// New constructs a daemon. The API server may be nil when no bind address is
// configured.
func New(cfg *config.Config, store *jobs.Store, dispatcher *jobs.Dispatcher, api *server.Server, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || dispatcher == nil {
		return nil, errors.New("daemon requires config, store, and dispatcher")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "hearthd.lock")
	daemon := &Daemon{
		cfg:                 cfg,
		logger:              logging.NewComponentLogger(logger, "daemon"),
		store:               store,
		dispatcher:          dispatcher,
		api:                 api,
		pollInterval:        time.Duration(cfg.Jobs.PollIntervalSeconds) * time.Second,
		maintenanceInterval: 10 * time.Minute,
		lockPath:            lockPath,
		lock:                flock.New(lockPath),
	}
	if daemon.pollInterval <= 0 {
		daemon.pollInterval = 10 * time.Second
	}
	for _, opt := range opts {
		opt(daemon)
	}
	return daemon, nil
}

// Start acquires the instance lock and launches the background loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another hearth daemon is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.api != nil {
		if err := d.api.Start(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start api: %w", err)
		}
	}

	// Interrupted jobs from a previous run go straight back to pending.
	if reclaimed, err := d.store.ReclaimStale(runCtx, time.Millisecond); err != nil {
		d.logger.Warn("reclaim interrupted jobs", logging.Args(logging.Error(err))...)
	} else if reclaimed > 0 {
		d.logger.Info("reclaimed interrupted jobs", logging.Args(logging.Int64("count", reclaimed))...)
	}

	d.wg.Add(1)
	go d.run(runCtx)

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.Args(
			logging.String("lock", d.lockPath),
			logging.Duration("poll_interval", d.pollInterval),
		)...)
	return nil
}

// Stop shuts the loops down and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if d.api != nil {
		d.api.Stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Args(logging.Error(err))...)
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the job store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Running reports whether the daemon loops are active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LockPath returns the instance lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

func (d *Daemon) run(ctx context.Context) {
	defer d.wg.Done()

	poll := time.NewTicker(d.pollInterval)
	defer poll.Stop()
	maintenance := time.NewTicker(d.maintenanceInterval)
	defer maintenance.Stop()

	batchSize := d.cfg.Jobs.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	errorRetry := time.Duration(d.cfg.Jobs.ErrorRetryIntervalSeconds) * time.Second
	if errorRetry <= 0 {
		errorRetry = d.pollInterval
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			d.drain(ctx, batchSize, errorRetry)
		case <-maintenance.C:
			d.maintain(ctx)
		}
	}
}

// drain keeps ticking the dispatcher while full batches come back, so a
// backlog clears faster than one batch per poll interval.
func (d *Daemon) drain(ctx context.Context, batchSize int, errorRetry time.Duration) {
	for {
		processed, err := d.dispatcher.Tick(ctx, batchSize)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				d.logger.Error("dispatch tick", logging.Args(logging.Error(err))...)
				select {
				case <-time.After(errorRetry):
				case <-ctx.Done():
				}
			}
			return
		}
		if processed < batchSize || ctx.Err() != nil {
			return
		}
	}
}

func (d *Daemon) maintain(ctx context.Context) {
	staleAfter := time.Duration(d.cfg.Jobs.StaleJobTimeoutSeconds) * time.Second
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if reclaimed, err := d.store.ReclaimStale(ctx, staleAfter); err != nil {
		d.logger.Warn("reclaim stale jobs", logging.Args(logging.Error(err))...)
	} else if reclaimed > 0 {
		d.logger.Warn("reclaimed stale jobs", logging.Args(logging.Int64("count", reclaimed))...)
	}

	if d.cfg.Jobs.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -d.cfg.Jobs.RetentionDays)
		if deleted, err := d.store.DeleteOlderThan(ctx, cutoff); err != nil {
			d.logger.Warn("sweep old jobs", logging.Args(logging.Error(err))...)
		} else if deleted > 0 {
			d.logger.Info("swept old jobs", logging.Args(logging.Int64("count", deleted))...)
		}
	}
}
