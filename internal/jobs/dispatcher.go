package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"hearth/internal/logging"
	"hearth/internal/services"
)

// Handler executes one job and returns an optional result payload to store
// on the job row. Returning an error classified permanent by
// services.IsPermanent fails the job immediately; any other error schedules
// a retry.
type Handler interface {
	Handle(ctx context.Context, job *Job) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *Job) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, job *Job) (string, error) {
	return f(ctx, job)
}

// Dispatcher claims due jobs and routes them to registered handlers. It has
// no timer of its own; the caller drives it by calling Tick.
type Dispatcher struct {
	store          *Store
	handlers       map[Type]Handler
	handlerTimeout time.Duration
	logger         *slog.Logger
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHandlerTimeout bounds how long a single job handler may run.
func WithHandlerTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.handlerTimeout = timeout
		}
	}
}

// NewDispatcher constructs a dispatcher over the given store.
func NewDispatcher(store *Store, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	dispatcher := &Dispatcher{
		store:          store,
		handlers:       make(map[Type]Handler),
		handlerTimeout: 5 * time.Minute,
		logger:         logging.NewComponentLogger(logger, "dispatcher"),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher
}

// Register installs the handler for a job type. Registering a second handler
// for the same type replaces the first.
func (d *Dispatcher) Register(jobType Type, handler Handler) {
	d.handlers[jobType] = handler
}

// Tick claims up to batchSize due jobs and processes them sequentially. It
// returns how many jobs were processed. Handler failures are recorded on the
// job rather than returned; only claim and bookkeeping errors surface here.
func (d *Dispatcher) Tick(ctx context.Context, batchSize int) (int, error) {
	claimed, err := d.store.ClaimBatch(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, job := range claimed {
		if ctx.Err() != nil {
			// Shutdown mid-batch: hand unstarted jobs back to the queue.
			// The bookkeeping write uses a fresh context since ctx is done.
			if _, failErr := d.store.Fail(context.Background(), job.ID, "dispatcher stopped", false); failErr != nil {
				d.logger.Error("release job on shutdown",
					logging.Args(logging.Int64(logging.FieldJobID, job.ID), logging.Error(failErr))...)
			}
			continue
		}
		d.process(ctx, job)
		processed++
	}
	return processed, ctx.Err()
}

func (d *Dispatcher) process(ctx context.Context, job *Job) {
	// Bookkeeping writes must land even when shutdown cancels ctx mid-handler,
	// otherwise the job sits in running until the stale reclaim sweeps it.
	bookCtx := context.WithoutCancel(ctx)
	logger := d.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobType, string(job.Type)),
	)

	handler, ok := d.handlers[job.Type]
	if !ok {
		// No handler is a wiring bug; retrying will not conjure one.
		if _, err := d.store.Fail(bookCtx, job.ID, fmt.Sprintf("no handler registered for type %q", job.Type), true); err != nil {
			logger.Error("record missing handler", logging.Args(logging.Error(err))...)
		}
		logger.Error("no handler registered")
		return
	}

	start := time.Now()
	result, err := d.runHandler(ctx, handler, job)
	elapsed := time.Since(start)

	if err != nil {
		permanent := services.IsPermanent(err)
		failed, failErr := d.store.Fail(bookCtx, job.ID, err.Error(), permanent)
		if failErr != nil {
			logger.Error("record job failure", logging.Args(logging.Error(failErr))...)
			return
		}
		if failed.Status == StatusFailed {
			logger.Error("job failed",
				logging.Args(
					logging.Error(err),
					logging.Int(logging.FieldAttempt, failed.RetryCount),
					logging.Bool("permanent", permanent),
					logging.Duration("elapsed", elapsed),
				)...)
		} else {
			logger.Warn("job attempt failed, retry scheduled",
				logging.Args(
					logging.Error(err),
					logging.Int(logging.FieldAttempt, failed.RetryCount),
					logging.Any("next_run_at", failed.RunAt),
				)...)
		}
		return
	}

	if err := d.store.Complete(bookCtx, job.ID, result); err != nil {
		logger.Error("record job completion", logging.Args(logging.Error(err))...)
		return
	}
	logger.Info("job completed", logging.Args(logging.Duration("elapsed", elapsed))...)
}

// runHandler invokes the handler with a bounded context and converts panics
// into errors so one bad job cannot take the daemon down.
func (d *Dispatcher) runHandler(ctx context.Context, handler Handler, job *Job) (result string, err error) {
	handlerCtx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v\n%s", recovered, debug.Stack())
		}
	}()

	return handler.Handle(handlerCtx, job)
}
