// Package jobmgr runs named background jobs with cancellation, lifecycle
// reporting and graceful shutdown.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(logger)
//
//	err := jm.StartAsync("lavalink", func(ctx context.Context) error {
//	    return link.Run(ctx)
//	})
//
//	// later...
//	_ = jm.StopAll(shutdownCtx)
//
// No retry logic: a job that returns is finished. Long-running loops that
// must survive errors (the link, the inactivity poller) handle them inside.
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Job represents a running unit of work.
type Job struct {
	Name   string
	Cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Manager orchestrates starting, stopping and tracking jobs.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	logger zerolog.Logger
}

// NewManager creates a new Manager reporting lifecycle changes to logger.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		jobs:   make(map[string]*Job),
		logger: logger.With().Str("component", "jobs").Logger(),
	}
}

// StartAsync runs runner in its own goroutine. If a job with the same name is
// already running, an error is returned. Jobs are removed after completion.
// A context.Canceled result is treated as a clean stop.
func (m *Manager) StartAsync(name string, runner func(ctx context.Context) error) error {
	m.mu.Lock()
	if _, exists := m.jobs[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("job '%s' is already running", name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{Name: name, Cancel: cancel, done: make(chan struct{})}
	m.jobs[name] = job
	m.mu.Unlock()

	go func() {
		defer close(job.done)
		defer cancel()

		m.logger.Info().Str("job", name).Msg("job running")

		err := runner(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			m.logger.Info().Str("job", name).Msg("job done")
		default:
			job.err = err
			m.logger.Error().Err(err).Str("job", name).Msg("job failed")
		}

		m.mu.Lock()
		if m.jobs[name] == job {
			delete(m.jobs, name)
		}
		m.mu.Unlock()
	}()

	return nil
}

// Stop cancels a running job by name and waits for it to return or ctx to end.
func (m *Manager) Stop(ctx context.Context, name string) error {
	m.mu.Lock()
	job, ok := m.jobs[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("job '%s' not running", name)
	}

	job.Cancel()
	select {
	case <-job.done:
		return job.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll cancels every job and waits for all of them.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error
	for _, name := range m.List() {
		if err := m.Stop(ctx, name); err != nil && !strings.Contains(err.Error(), "not running") {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Done returns a channel closed when the named job finishes. It returns nil
// if no such job is running.
func (m *Manager) Done(name string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[name]; ok {
		return job.done
	}
	return nil
}

// List returns the sorted names of active jobs.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
