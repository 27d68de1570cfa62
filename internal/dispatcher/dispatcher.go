// Package dispatcher implements the bounded-concurrency job scheduler:
// admission, deduplication, the bounded task queue, the concurrency
// ceiling, and the scheduling loop that hands dequeued submissions to a
// Sandbox.
package dispatcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dontdude/judgebox/internal/domain"
	"github.com/dontdude/judgebox/internal/metrics"
	"github.com/dontdude/judgebox/internal/sandbox"
)

// Fixed per-submission defaults from spec.md §4.2 "Worker" step 3.
const (
	defaultTimeLimit            = 10 * time.Second
	defaultMemLimitKB           = 128_000
	defaultFileSizeLimitBytes   = 64_000_000
	defaultOutputSizeLimitBytes = 4_096

	defaultPollInterval = time.Second
)

// Dispatcher owns the in-flight set, the bounded task queue, the container
// slot counter, and the scheduling loop. One instance is constructed
// explicitly and injected into the ingress adapter; there is no
// package-level dispatcher singleton.
type Dispatcher struct {
	cfg        Config
	runtime    domain.ContainerRuntime
	onComplete domain.CompletionHandler

	// testing, when true, skips invoking onComplete — mirrors the source's
	// self.testing flag used by its own test suite.
	testing bool

	pollInterval time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}

	queue chan string

	containerCount atomic.Int64
	running        atomic.Bool

	wg sync.WaitGroup
}

// Option configures optional Dispatcher behavior.
type Option func(*Dispatcher)

// WithTesting skips the completion callback, matching the source's
// Dispatcher.testing flag used to keep its own test suite offline.
func WithTesting() Option {
	return func(d *Dispatcher) { d.testing = true }
}

// WithPollInterval overrides the scheduling loop's idle sleep interval
// (spec.md's "short interval e.g. 1s"). Intended for tests.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.pollInterval = interval }
}

// New constructs a Dispatcher. base_dir is created if absent, matching the
// source's Path.mkdir(exist_ok=True).
func New(cfg Config, runtime domain.ContainerRuntime, onComplete domain.CompletionHandler, opts ...Option) *Dispatcher {
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		slog.Error("dispatcher: failed to create base dir", "dir", cfg.BaseDir, "error", err)
	}

	d := &Dispatcher{
		cfg:          cfg,
		runtime:      runtime,
		onComplete:   onComplete,
		pollInterval: defaultPollInterval,
		inFlight:     make(map[string]struct{}),
		queue:        make(chan string, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle admits a submission: it must have a staged directory, must not
// already be in flight, and the bounded queue must have room. On queue-full
// the id is rolled back out of the in-flight set before returning.
func (d *Dispatcher) Handle(id string) error {
	info, err := os.Stat(d.path(id))
	if err != nil || !info.IsDir() {
		metrics.SubmissionsRejected.WithLabelValues("not_found").Inc()
		return domain.ErrNotFound
	}

	d.mu.Lock()
	if _, exists := d.inFlight[id]; exists {
		d.mu.Unlock()
		metrics.SubmissionsRejected.WithLabelValues("duplicate").Inc()
		return domain.ErrDuplicatedSubmissionID
	}
	d.inFlight[id] = struct{}{}
	d.mu.Unlock()

	select {
	case d.queue <- id:
		metrics.SubmissionsAccepted.Inc()
		metrics.QueueSize.Set(float64(len(d.queue)))
		slog.Info("dispatcher: accepted submission", "id", id)
		return nil
	default:
		d.removeInFlight(id)
		metrics.SubmissionsRejected.WithLabelValues("queue_full").Inc()
		return domain.ErrQueueFull
	}
}

// Start begins the scheduling loop. Idempotent: calling it more than once
// has no additional effect.
func (d *Dispatcher) Start() {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	go d.loop()
}

// Stop signals the scheduling loop to exit after its current iteration.
// In-flight containers are not cancelled; their results are still
// delivered to the completion callback.
func (d *Dispatcher) Stop() {
	d.running.Store(false)
}

// GracefulShutdown stops the scheduling loop and waits for every in-flight
// worker to finish, bounded by ctx.
func (d *Dispatcher) GracefulShutdown(ctx context.Context) error {
	d.Stop()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	slog.Debug("dispatcher: scheduling loop starting")
	for d.running.Load() {
		if err := d.runtime.EnsureImage(context.Background(), d.cfg.Image); err != nil {
			slog.Error("dispatcher: ensure image failed", "image", d.cfg.Image, "error", err)
		}

		if len(d.queue) == 0 || d.containerCount.Load() >= int64(d.cfg.MaxContainerCount) {
			time.Sleep(d.pollInterval)
			continue
		}

		var id string
		select {
		case id = <-d.queue:
		default:
			time.Sleep(d.pollInterval)
			continue
		}
		metrics.QueueSize.Set(float64(len(d.queue)))

		slog.Info("dispatcher: dispatching submission", "id", id)
		d.wg.Add(1)
		go d.worker(id)
	}
	slog.Debug("dispatcher: scheduling loop exited")
}

func (d *Dispatcher) worker(id string) {
	defer d.wg.Done()

	d.mu.Lock()
	_, inFlight := d.inFlight[id]
	d.mu.Unlock()
	if !inFlight {
		slog.Error("dispatcher: dequeued id missing from in-flight set, this is a bug", "id", id)
		return
	}
	defer d.removeInFlight(id)

	d.containerCount.Add(1)
	metrics.ContainerCount.Set(float64(d.containerCount.Load()))
	var released atomic.Bool
	release := func() {
		if released.CompareAndSwap(false, true) {
			d.containerCount.Add(-1)
			metrics.ContainerCount.Set(float64(d.containerCount.Load()))
		}
	}
	defer release()

	sb := sandbox.New(d.buildInvocation(id), d.runtime)

	start := time.Now()
	result := sb.Run(context.Background())
	metrics.SandboxRunDuration.Observe(time.Since(start).Seconds())
	metrics.SandboxResultsTotal.WithLabelValues(result.Status.String()).Inc()
	slog.Info("dispatcher: submission finished", "id", id, "status", result.Status.String())

	// Container slot is released before the completion callback runs, per
	// spec.md §4.2 step 5/6 ordering.
	release()

	if !d.testing && d.onComplete != nil {
		d.onComplete(context.Background(), id, result)
	}
}

// buildInvocation constructs the fixed-default SandboxInvocation for id,
// with ignores seeded from "__pycache__" plus every basename already
// present under base_dir/<id> at dispatch time.
func (d *Dispatcher) buildInvocation(id string) domain.SandboxInvocation {
	ignores := map[string]struct{}{"__pycache__": {}}
	if entries, err := os.ReadDir(d.path(id)); err == nil {
		for _, e := range entries {
			ignores[e.Name()] = struct{}{}
		}
	}

	return domain.SandboxInvocation{
		Image:                d.cfg.Image,
		TimeLimit:            defaultTimeLimit,
		MemLimitKB:           defaultMemLimitKB,
		OutputSizeLimitBytes: defaultOutputSizeLimitBytes,
		FileSizeLimitBytes:   defaultFileSizeLimitBytes,
		HostSrcDir:           d.hostPath(id),
		ContainerSrcDir:      d.path(id),
		Ignores:              ignores,
	}
}

func (d *Dispatcher) removeInFlight(id string) {
	d.mu.Lock()
	delete(d.inFlight, id)
	d.mu.Unlock()
}

func (d *Dispatcher) path(id string) string    { return filepath.Join(d.cfg.BaseDir, id) }
func (d *Dispatcher) hostPath(id string) string { return filepath.Join(d.cfg.HostDir, id) }

// --- read-only introspection, matching spec.md §4.2 ---

// QueueSize returns the current number of queued submissions.
func (d *Dispatcher) QueueSize() int { return len(d.queue) }

// QueueCapacity returns the task queue's configured capacity.
func (d *Dispatcher) QueueCapacity() int { return d.cfg.QueueSize }

// ContainerCount returns the current number of in-flight containers.
func (d *Dispatcher) ContainerCount() int { return int(d.containerCount.Load()) }

// MaxContainerCount returns the configured concurrency ceiling.
func (d *Dispatcher) MaxContainerCount() int { return d.cfg.MaxContainerCount }

// Running reports whether the scheduling loop is currently active.
func (d *Dispatcher) Running() bool { return d.running.Load() }

// InFlightIDs returns a snapshot of submission ids currently queued or running.
func (d *Dispatcher) InFlightIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.inFlight))
	for id := range d.inFlight {
		ids = append(ids, id)
	}
	return ids
}
