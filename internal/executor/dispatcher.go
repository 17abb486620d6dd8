package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scriptflow/internal/credential"
	"scriptflow/internal/deploy"
	"scriptflow/internal/ledger"
	"scriptflow/internal/monitor"
	"scriptflow/internal/schedule"
)

// Dispatcher feeds fired jobs through a bounded worker pool. Runs for the
// same deployment are mutually exclusive; runs for different deployments
// proceed in parallel up to the worker count.
type Dispatcher struct {
	backend     Backend
	deployments deploy.Store
	runs        ledger.Store
	creds       *credential.Resolver
	metrics     *monitor.Metrics
	tracer      *monitor.Tracer
	detector    *monitor.OutputDetector
	log         zerolog.Logger

	timeout time.Duration
	limits  Limits

	queue    chan schedule.Job
	depLocks sync.Map // deploymentID -> *sync.Mutex
	wg       sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// DispatcherOptions tunes the worker pool.
type DispatcherOptions struct {
	Workers    int
	QueueDepth int
	RunTimeout time.Duration
	Limits     Limits
}

func NewDispatcher(backend Backend, deployments deploy.Store, runs ledger.Store, creds *credential.Resolver, metrics *monitor.Metrics, logger zerolog.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.QueueDepth < 1 {
		opts.QueueDepth = 256
	}
	if opts.RunTimeout == 0 {
		opts.RunTimeout = 30 * time.Second
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}

	d := &Dispatcher{
		backend:     backend,
		deployments: deployments,
		runs:        runs,
		creds:       creds,
		metrics:     metrics,
		tracer:      monitor.NewTracer(),
		detector:    monitor.NewOutputDetector(),
		log:         logger.With().Str("component", "dispatcher").Logger(),
		timeout:     opts.RunTimeout,
		limits:      opts.Limits,
		queue:       make(chan schedule.Job, opts.QueueDepth),
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch enqueues a fired job without blocking the caller. A full queue
// drops the fire; the schedule re-arms regardless, so the next tick is
// unaffected. The lock spans the stopped check and the send, so Stop cannot
// close the queue between them. The send never blocks, so holding the lock
// across it is safe.
func (d *Dispatcher) Dispatch(job schedule.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	select {
	case d.queue <- job:
		if d.metrics != nil {
			d.metrics.QueuedRuns.Inc()
		}
	default:
		d.log.Warn().
			Str("deployment_id", job.DeploymentID).
			Str("trigger", job.Trigger).
			Msg("dispatch queue full, dropping fire")
		if d.metrics != nil {
			d.metrics.RecordError("queue_full")
		}
	}
}

// Stop drains the queue and waits for in-flight runs.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		if d.metrics != nil {
			d.metrics.QueuedRuns.Dec()
		}
		d.process(job)
	}
}

func (d *Dispatcher) process(job schedule.Job) {
	lock := d.deploymentLock(job.DeploymentID)
	lock.Lock()
	defer lock.Unlock()

	ctx := context.Background()

	dep, err := d.deployments.Get(ctx, job.DeploymentID)
	if err != nil {
		d.log.Error().Err(err).Str("deployment_id", job.DeploymentID).Msg("loading deployment")
		return
	}
	if dep == nil || !dep.Runnable() {
		d.log.Debug().
			Str("deployment_id", job.DeploymentID).
			Msg("discarding job for non-active deployment")
		return
	}

	run := ledger.NewRun(dep.ID, dep.UserID, job.Trigger, job.Function)
	if err := d.runs.Create(ctx, run); err != nil {
		d.log.Error().Err(err).Str("deployment_id", dep.ID).Msg("recording run")
		return
	}

	logger := d.log.With().
		Str("run_id", run.ID).
		Str("deployment_id", dep.ID).
		Str("trigger", job.Trigger).
		Logger()

	env, missing, err := d.creds.EnvForExecution(ctx, dep.UserID, dep.Manifest.Integrations)
	if err != nil {
		d.completeRun(ctx, run, ledger.Outcome{
			Status:      ledger.StatusFailed,
			ErrorDetail: "internal error resolving credentials",
			ExitCode:    -1,
			CompletedAt: time.Now().UTC(),
		}, logger)
		logger.Error().Err(err).Msg("resolving credentials")
		if d.metrics != nil {
			d.metrics.RecordError("credential_resolve")
		}
		return
	}
	if len(missing) > 0 {
		d.completeRun(ctx, run, ledger.Outcome{
			Status:      ledger.StatusFailed,
			ErrorDetail: fmt.Sprintf("%s: %s", ErrMissingCredential, strings.Join(missing, ", ")),
			ExitCode:    -1,
			CompletedAt: time.Now().UTC(),
		}, logger)
		logger.Warn().Strs("integrations", missing).Msg("run failed, credentials removed after deploy")
		if d.metrics != nil {
			d.metrics.RecordError("missing_credential")
		}
		return
	}

	started := time.Now().UTC()
	if err := d.runs.MarkRunning(ctx, run.ID, started); err != nil {
		logger.Error().Err(err).Msg("marking run running")
		return
	}
	if d.metrics != nil {
		d.metrics.ActiveRuns.Inc()
		defer d.metrics.ActiveRuns.Dec()
	}

	execCtx, span := d.tracer.StartSpan(ctx, "run.execute",
		monitor.AttrRunID.String(run.ID),
		monitor.AttrDeploymentID.String(dep.ID),
		monitor.AttrTrigger.String(job.Trigger),
		monitor.AttrFunction.String(job.Function),
	)

	result, execErr := d.backend.Execute(execCtx, Request{
		RunID:         run.ID,
		DeploymentID:  dep.ID,
		ScriptContent: dep.ScriptContent,
		Function:      job.Function,
		Payload:       job.Payload,
		Env:           env,
		Timeout:       d.timeout,
		Limits:        d.limits,
	})

	outcome := d.classify(result, execErr, started)
	d.scrubOutcome(&outcome, env, logger)
	span.SetAttributes(
		monitor.AttrExitCode.Int(outcome.ExitCode),
		monitor.AttrDurationMS.Int64(outcome.DurationMS),
	)
	span.End()
	d.completeRun(ctx, run, outcome, logger)

	if d.metrics != nil {
		d.metrics.RecordRun(job.Trigger, outcome.Status, float64(outcome.DurationMS)/1000)
		if result != nil {
			d.metrics.OutputSizeBytes.Observe(float64(len(result.Output)))
		}
	}
	logger.Info().
		Str("status", outcome.Status).
		Int64("duration_ms", outcome.DurationMS).
		Msg("run recorded")
}

func (d *Dispatcher) classify(result *Result, execErr error, started time.Time) ledger.Outcome {
	completed := time.Now().UTC()
	outcome := ledger.Outcome{
		CompletedAt: completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
	}
	if result != nil {
		outcome.Output = result.Output
		outcome.Stderr = result.Stderr
		outcome.ExitCode = result.ExitCode
		outcome.DurationMS = result.Duration.Milliseconds()
	}

	switch {
	case execErr == nil && (result == nil || result.ExitCode == 0):
		outcome.Status = ledger.StatusSuccess

	case IsTimeout(execErr):
		outcome.Status = ledger.StatusTimeout
		outcome.ErrorDetail = execErr.Error()
		if d.metrics != nil {
			d.metrics.RecordError("timeout")
		}

	case errors.Is(execErr, context.Canceled):
		outcome.Status = ledger.StatusCancelled
		outcome.ErrorDetail = "run cancelled"

	case execErr != nil:
		outcome.Status = ledger.StatusFailed
		outcome.ErrorDetail = execErr.Error()
		if d.metrics != nil {
			d.metrics.RecordError("backend")
		}

	default:
		outcome.Status = ledger.StatusFailed
		outcome.ErrorDetail = truncateOutput(result.Stderr, 4096)
		if d.metrics != nil {
			d.metrics.RecordError("script")
		}
	}
	return outcome
}

// scrubOutcome redacts injected credential values from the persisted output
// and flags output that suggests the script probed its isolation boundary.
func (d *Dispatcher) scrubOutcome(outcome *ledger.Outcome, env map[string]string, logger zerolog.Logger) {
	secrets := make([]string, 0, len(env))
	for _, v := range env {
		secrets = append(secrets, v)
	}

	var redacted int
	outcome.Output, redacted = monitor.RedactSecrets(outcome.Output, secrets)
	stderr, n := monitor.RedactSecrets(outcome.Stderr, secrets)
	outcome.Stderr = stderr
	redacted += n
	detail, n := monitor.RedactSecrets(outcome.ErrorDetail, secrets)
	outcome.ErrorDetail = detail
	redacted += n
	if redacted > 0 {
		logger.Warn().Int("occurrences", redacted).Msg("credential values redacted from run output")
		if d.metrics != nil {
			d.metrics.RecordError("credential_leak")
		}
	}

	for _, det := range d.detector.Scan(outcome.Output) {
		logger.Warn().
			Str("pattern", det.Pattern).
			Str("severity", det.Severity).
			Msg("suspicious content in run output")
		if d.metrics != nil {
			d.metrics.RecordError("suspicious_output")
		}
	}
}

func (d *Dispatcher) completeRun(ctx context.Context, run *ledger.Run, outcome ledger.Outcome, logger zerolog.Logger) {
	if err := d.runs.Complete(ctx, run.ID, outcome); err != nil {
		logger.Error().Err(err).Msg("completing run record")
	}
}

func (d *Dispatcher) deploymentLock(id string) *sync.Mutex {
	lock, _ := d.depLocks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
