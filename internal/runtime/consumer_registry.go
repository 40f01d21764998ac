package runtime

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	errspkg "github.com/drblury/moviebus/internal/runtime/errors"
	loggingpkg "github.com/drblury/moviebus/internal/runtime/logging"
)

// ConsumerRegistry starts one runtime per topic family and supervises them
// together. Runtimes share nothing but the logger and metrics.
type ConsumerRegistry struct {
	logger loggingpkg.ServiceLogger

	mu       sync.Mutex
	runtimes []*ConsumerRuntime
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error
}

// NewConsumerRegistry creates an empty registry.
func NewConsumerRegistry(logger loggingpkg.ServiceLogger) *ConsumerRegistry {
	return &ConsumerRegistry{logger: loggingpkg.ForComponent(logger, "consumer_registry", nil)}
}

// Register adds a runtime. Names must be unique.
func (r *ConsumerRegistry) Register(rt *ConsumerRuntime) error {
	if rt == nil {
		return errspkg.ErrConsumerConfigRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.runtimes {
		if existing.Name() == rt.Name() {
			return fmt.Errorf("consumer %q already registered", rt.Name())
		}
	}
	r.runtimes = append(r.runtimes, rt)
	return nil
}

// Runtimes returns the registered runtimes in registration order.
func (r *ConsumerRegistry) Runtimes() []*ConsumerRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ConsumerRuntime, len(r.runtimes))
	copy(out, r.runtimes)
	return out
}

// Run runs every runtime until ctx is cancelled. The first runtime that
// stops with an error (a startup subscription failure or exhausted
// retries) cancels the others and its error is returned.
func (r *ConsumerRegistry) Run(ctx context.Context) error {
	runtimes := r.Runtimes()
	if len(runtimes) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, rt := range runtimes {
		r.logger.Info("Starting consumer", loggingpkg.LogFields{
			"consumer": rt.Name(),
			"topics":   rt.Config().Topics,
		})
		g.Go(func() error {
			if err := rt.Run(gctx); err != nil {
				return fmt.Errorf("consumer %s: %w", rt.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Start runs the registry in the background.
func (r *ConsumerRegistry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return errspkg.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done, r.runErr = cancel, done, nil

	go func() {
		err := r.Run(runCtx)
		if err != nil {
			r.logger.Error("Consumers stopped", err, nil)
		}
		r.mu.Lock()
		r.runErr = err
		r.cancel = nil
		r.mu.Unlock()
		cancel()
		close(done)
	}()
	return nil
}

// Done is closed when a registry started with Start has stopped.
func (r *ConsumerRegistry) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the error the last background run ended with.
func (r *ConsumerRegistry) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// Stop cancels a registry started with Start and waits until every
// runtime has released its subscription or ctx expires.
func (r *ConsumerRegistry) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if done == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
