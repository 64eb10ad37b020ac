package process

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/c360/framerelay/component"
	"github.com/c360/framerelay/diagnostic"
	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/metric"
	"github.com/c360/framerelay/pipeline"
	"github.com/c360/framerelay/pkg/retry"
)

// Restart policies
const (
	RestartNever     = "never"
	RestartOnFailure = "on-failure"
	RestartAlways    = "always"
)

// Status is the supervisor's view of the worker.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRunning    Status = "running"
	StatusRestarting Status = "restarting"
	StatusExited     Status = "exited"
	StatusStopped    Status = "stopped"
)

// DefaultStopTimeout is how long a worker may take to exit after SIGTERM.
const DefaultStopTimeout = 5 * time.Second

// Config describes the worker and how it is supervised
type Config struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string // KEY=VALUE, appended to the relay's environment
	Restart     string
	Backoff     errors.RetryConfig
	StopTimeout time.Duration

	// Pipeline is used for every Driver the supervisor creates.
	Pipeline pipeline.Config
}

// errCleanExit makes the always policy restart a worker that exited 0.
var errCleanExit = stderrors.New("worker exited cleanly")

// Supervisor runs the worker and feeds its output through a pipeline.
type Supervisor struct {
	cfg        Config
	publisher  pipeline.Publisher
	diag       diagnostic.Sink
	logger     *slog.Logger
	metrics    *metric.Metrics
	driverOpts []pipeline.Option

	mu        sync.RWMutex
	status    Status
	driver    *pipeline.Driver
	pid       int
	lastError string
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	runs     atomic.Int64
	restarts atomic.Int64
	failures atomic.Int64
	totals   pipeline.Stats // accumulated from finished runs, guarded by mu
}

var _ component.LifecycleComponent = (*Supervisor)(nil)

// NewSupervisor creates a supervisor. opts are applied to every Driver after
// the supervisor's own logger and metrics options.
func NewSupervisor(cfg Config, pub pipeline.Publisher, deps component.Dependencies, opts ...pipeline.Option) (*Supervisor, error) {
	if cfg.Command == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Supervisor", "NewSupervisor", "worker command is required")
	}
	if pub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Supervisor", "NewSupervisor", "publisher is required")
	}
	switch cfg.Restart {
	case "":
		cfg.Restart = RestartNever
	case RestartNever, RestartOnFailure, RestartAlways:
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown restart policy %q", errors.ErrInvalidConfig, cfg.Restart),
			"Supervisor", "NewSupervisor", "validate restart policy")
	}
	if b := cfg.Backoff; b.InitialDelay < 0 || b.MaxDelay < 0 || b.BackoffFactor < 0 ||
		(b.MaxDelay > 0 && b.MaxDelay < b.InitialDelay) {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: bad restart backoff %+v", errors.ErrInvalidConfig, b),
			"Supervisor", "NewSupervisor", "validate restart backoff")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	done := make(chan struct{})
	close(done)

	return &Supervisor{
		cfg:        cfg,
		publisher:  pub,
		diag:       deps.GetDiagnostics(),
		logger:     deps.GetLoggerWithComponent("worker"),
		metrics:    deps.Metrics(),
		driverOpts: opts,
		status:     StatusIdle,
		done:       done,
	}, nil
}

// Start launches the worker. It fails if the first spawn fails; later
// restarts happen in the background.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusRunning || s.status == StatusRestarting {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Supervisor", "Start", "start worker")
	}

	runCtx, cancel := context.WithCancel(ctx)
	first, err := s.spawn(runCtx)
	if err != nil {
		cancel()
		s.status = StatusExited
		s.lastError = err.Error()
		return errors.WrapFatal(err, "Supervisor", "Start", "spawn worker")
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.startTime = time.Now()
	s.setRunningLocked(first)

	go s.supervise(runCtx, first, s.done)
	return nil
}

// Stop terminates the worker and waits up to timeout for output to drain.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("worker still running after %v", timeout),
			"Supervisor", "Stop", "wait for worker exit")
	}
}

// Done is closed once the supervisor has stopped for good.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Status returns the current worker status
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// PID returns the pid of the running worker, or 0
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pid
}

// Runs returns how many times the worker has been spawned
func (s *Supervisor) Runs() int64 {
	return s.runs.Load()
}

// Restarts returns how many restarts have been attempted
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}

// PipelineState returns the state of the current run's Driver
func (s *Supervisor) PipelineState() pipeline.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.driver == nil {
		return pipeline.StateIdle
	}
	return s.driver.State()
}

// Stats returns pipeline counters summed over all runs
func (s *Supervisor) Stats() pipeline.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := s.totals
	if s.driver != nil && s.driver.State() != pipeline.StateClosed {
		addStats(&total, s.driver.Stats())
	}
	return total
}

type run struct {
	cmd    *exec.Cmd
	driver *pipeline.Driver
	outW   *io.PipeWriter
	errW   *io.PipeWriter
	pipes  sync.WaitGroup
}

// spawn starts one worker process wired to a fresh Driver.
func (s *Supervisor) spawn(ctx context.Context) (*run, error) {
	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.cfg.StopTimeout

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		if stderrors.Is(err, exec.ErrNotFound) || stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, fs.ErrPermission) {
			return nil, retry.NonRetryable(err)
		}
		return nil, err
	}

	opts := append([]pipeline.Option{
		pipeline.WithLogger(s.logger.With("pid", cmd.Process.Pid)),
		pipeline.WithMetrics(s.metrics),
	}, s.driverOpts...)
	driver, err := pipeline.NewDriver(s.cfg.Pipeline, s.publisher, s.diag, opts...)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = outW.Close()
		_ = errW.Close()
		_ = cmd.Wait()
		return nil, retry.NonRetryable(err)
	}

	r := &run{cmd: cmd, driver: driver, outW: outW, errW: errW}

	// The readers run to EOF regardless of ctx: shutdown still processes
	// whatever the worker wrote before it exited.
	readCtx := context.WithoutCancel(ctx)
	r.pipes.Add(2)
	go func() {
		defer r.pipes.Done()
		if err := driver.Run(readCtx, outR); err != nil {
			s.logger.Warn("Worker stdout read failed", "error", err)
		}
		_, _ = io.Copy(io.Discard, outR)
	}()
	go func() {
		defer r.pipes.Done()
		if err := driver.RunErrorStream(readCtx, errR); err != nil {
			s.logger.Warn("Worker stderr read failed", "error", err)
		}
		_, _ = io.Copy(io.Discard, errR)
	}()

	s.runs.Add(1)
	s.logger.Info("Worker started", "pid", cmd.Process.Pid, "command", s.cfg.Command, "run", s.runs.Load())
	return r, nil
}

// wait blocks until the worker exits and its output has been processed.
func (r *run) wait() error {
	err := r.cmd.Wait()
	_ = r.outW.Close()
	_ = r.errW.Close()
	r.pipes.Wait()
	return err
}

func (s *Supervisor) supervise(ctx context.Context, first *run, done chan struct{}) {
	defer close(done)

	pending := first
	attempt := func() error {
		r := pending
		pending = nil
		if r == nil {
			var err error
			if r, err = s.spawn(ctx); err != nil {
				s.recordFailure(err)
				return err
			}
			s.mu.Lock()
			s.setRunningLocked(r)
			s.mu.Unlock()
		}
		return s.waitProcess(ctx, r)
	}

	err := retry.Do(ctx, s.retryConfig(), attempt)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pid = 0
	s.metrics.RecordWorkerUp(false)
	if ctx.Err() != nil {
		s.status = StatusStopped
		s.logger.Info("Worker supervisor stopped", "runs", s.runs.Load())
		return
	}
	s.status = StatusExited
	if err != nil && !stderrors.Is(err, errCleanExit) {
		s.lastError = err.Error()
		s.logger.Error("Worker supervisor giving up", "runs", s.runs.Load(), "error", err)
		return
	}
	s.logger.Info("Worker finished", "runs", s.runs.Load())
}

// waitProcess waits for one run and maps its exit onto the restart policy.
func (s *Supervisor) waitProcess(ctx context.Context, r *run) error {
	pid := r.cmd.Process.Pid
	err := r.wait()

	s.mu.Lock()
	addStats(&s.totals, r.driver.Stats())
	s.mu.Unlock()

	if ctx.Err() != nil {
		s.logger.Debug("Worker exited (shutdown)", "pid", pid, "error", err)
		return retry.NonRetryable(ctx.Err())
	}

	if err == nil {
		s.logger.Info("Worker exited cleanly", "pid", pid)
		if s.cfg.Restart == RestartAlways {
			return errCleanExit
		}
		return nil
	}

	s.logger.Error("Worker exited unexpectedly", "pid", pid, "error", err)
	s.diag.Error(diagnostic.ContextWorker, fmt.Sprintf("worker pid %d exited: %v", pid, err))
	s.recordFailure(err)
	return fmt.Errorf("%w: %v", errors.ErrWorkerExited, err)
}

func (s *Supervisor) retryConfig() retry.Config {
	cfg := s.cfg.Backoff.ToRetryConfig()
	switch {
	case s.cfg.Restart == RestartNever:
		cfg.MaxAttempts = 1
	case s.cfg.Backoff.MaxRetries < 0:
		cfg.MaxAttempts = retry.Unlimited
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.restarts.Add(1)
		s.metrics.RecordWorkerRestart()
		s.metrics.RecordWorkerUp(false)
		s.mu.Lock()
		s.status = StatusRestarting
		s.pid = 0
		s.mu.Unlock()
		s.logger.Warn("Restarting worker", "attempt", attempt, "delay", delay, "reason", err)
	}
	return cfg
}

func (s *Supervisor) setRunningLocked(r *run) {
	s.status = StatusRunning
	s.driver = r.driver
	s.pid = r.cmd.Process.Pid
	s.metrics.RecordWorkerUp(true)
}

func (s *Supervisor) recordFailure(err error) {
	s.failures.Add(1)
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func addStats(dst *pipeline.Stats, src pipeline.Stats) {
	dst.Chunks += src.Chunks
	dst.Bytes += src.Bytes
	dst.Lines += src.Lines
	dst.Events += src.Events
	dst.Logs += src.Logs
	dst.DecodeErrors += src.DecodeErrors
	dst.Rejected += src.Rejected
}

// Meta returns the component metadata
func (s *Supervisor) Meta() component.Metadata {
	return component.Metadata{
		Name:        "worker",
		Type:        "input",
		Description: fmt.Sprintf("Worker process %s (restart %s)", s.cfg.Command, s.cfg.Restart),
		Version:     "1.0.0",
	}
}

// Health maps the worker status onto component health
func (s *Supervisor) Health() component.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hs := component.HealthStatus{
		LastCheck:  time.Now(),
		ErrorCount: int(s.failures.Load()),
		LastError:  s.lastError,
	}
	if !s.startTime.IsZero() {
		hs.Uptime = time.Since(s.startTime)
	}
	switch s.status {
	case StatusRunning:
		hs.Healthy = true
	case StatusRestarting:
		hs.Degraded = true
	case StatusExited:
		if hs.LastError == "" {
			hs.LastError = "worker exited"
		}
	}
	return hs
}

// DataFlow returns the current data flow metrics
func (s *Supervisor) DataFlow() component.FlowMetrics {
	stats := s.Stats()

	s.mu.RLock()
	startTime := s.startTime
	s.mu.RUnlock()

	return component.Flow(startTime, stats.Events, stats.Bytes, stats.DecodeErrors+stats.Rejected, stats.Lines)
}
