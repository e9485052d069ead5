package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"compilebox/internal/sandbox/observer"
	"compilebox/internal/sandbox/result"
	"compilebox/internal/sandbox/runner"
	"compilebox/internal/sandbox/source"
	"compilebox/internal/sandbox/workspace"
	appErr "compilebox/pkg/errors"
	"compilebox/pkg/utils/contextkey"
	"compilebox/pkg/utils/logger"
)

// Worker drives a job through workspace, materialization, build and run.
type Worker struct {
	cfg        Config
	workspaces *workspace.Manager
	runner     runner.Runner
	reporter   StatusReporter
	metrics    observer.MetricsRecorder
	isolation  string
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithStatusReporter publishes every state change through r.
func WithStatusReporter(r StatusReporter) WorkerOption {
	return func(w *Worker) {
		if r != nil {
			w.reporter = r
		}
	}
}

// WithMetrics records job level metrics.
func WithMetrics(m observer.MetricsRecorder) WorkerOption {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// NewWorker creates a job worker. isolation is the engine name, for reporting only.
func NewWorker(cfg Config, workspaces *workspace.Manager, r runner.Runner, isolation string, opts ...WorkerOption) *Worker {
	w := &Worker{
		cfg:        cfg,
		workspaces: workspaces,
		runner:     r,
		reporter:   noopReporter{},
		metrics:    observer.NoopMetricsRecorder{},
		isolation:  isolation,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute runs the job. The workspace is released on every path, including
// panics, before the result is returned.
func (w *Worker) Execute(ctx context.Context, req JobRequest) (res result.JobResult) {
	ctx = context.WithValue(ctx, contextkey.JobID, req.JobID)
	job := &Job{
		ID:        req.JobID,
		CreatedAt: time.Now(),
		Isolation: w.isolation,
		State:     result.StateCreated,
	}
	if deadline, ok := ctx.Deadline(); ok {
		job.Deadline = deadline
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(ctx, "job panicked", zap.Any("panic", rec), zap.Stack("stack"))
			res = result.Failure(req.JobID, appErr.SandboxError(nil, "internal error: %v", rec))
		}
		w.finish(ctx, job, &res)
	}()

	plan, err := source.Prepare(req.Units, w.cfg.Source)
	if err != nil {
		return result.Failure(req.JobID, err)
	}
	job.Primary = plan.Primary.Name

	ws, err := w.workspaces.Acquire(ctx, req.JobID)
	if err != nil {
		return result.Failure(req.JobID, err)
	}
	job.Workspace = ws.Path
	defer func() {
		if err := w.workspaces.Release(ws); err != nil {
			logger.Warn(ctx, "workspace cleanup failed", zap.String("workspace", ws.Path), zap.Error(err))
		}
	}()

	materialized, err := source.Write(ws, plan)
	if err != nil {
		return result.Failure(req.JobID, err)
	}
	w.transition(ctx, job, result.StateMaterialized)

	debug := req.Debug && w.cfg.AllowDebug
	if req.Debug && !w.cfg.AllowDebug {
		logger.Info(ctx, "debug flag ignored, debugging is disabled")
	}

	w.transition(ctx, job, result.StateBuilding)
	build, err := w.runner.Compile(ctx, runner.CompileRequest{
		JobID:    req.JobID,
		WorkDir:  ws.Path,
		Sources:  materialized.Sources,
		Language: w.cfg.Language,
		Profile:  w.cfg.CompileProfile,
	})
	if err != nil {
		return result.Failure(req.JobID, err)
	}
	if !build.Succeeded() {
		return result.Assemble(build, nil, w.assembleOptions(req.JobID))
	}
	w.transition(ctx, job, result.StateBuilt)

	w.transition(ctx, job, result.StateRunning)
	run, err := w.runner.Run(ctx, runner.RunRequest{
		JobID:    req.JobID,
		WorkDir:  ws.Path,
		Entry:    materialized.Entry,
		Language: w.cfg.Language,
		Profile:  w.cfg.RunProfile,
		Debug:    debug,
	})
	if err != nil {
		return result.Failure(req.JobID, err)
	}
	return result.Assemble(build, &run, w.assembleOptions(req.JobID))
}

func (w *Worker) assembleOptions(jobID string) result.AssembleOptions {
	return result.AssembleOptions{
		JobID:                 jobID,
		BuildTimeout:          w.cfg.CompileProfile.DefaultLimits.WallTime(),
		RunTimeout:            w.cfg.RunProfile.DefaultLimits.WallTime(),
		LaunchFailurePatterns: w.cfg.Language.LaunchFailurePatterns,
	}
}

func (w *Worker) transition(ctx context.Context, job *Job, to result.JobState) {
	w.advance(ctx, job, to)
	w.report(ctx, job, nil)
}

func (w *Worker) advance(ctx context.Context, job *Job, to result.JobState) {
	if err := result.ValidateTransition(job.State, to); err != nil {
		// A broken edge is a programming error; keep going so the job still terminates.
		logger.Error(ctx, "invalid job transition", zap.Error(err))
	}
	logger.Debug(ctx, "job state changed",
		zap.String("from", string(job.State)),
		zap.String("to", string(to)),
	)
	job.State = to
}

func (w *Worker) finish(ctx context.Context, job *Job, res *result.JobResult) {
	w.advance(ctx, job, result.TerminalState(*res))
	elapsed := time.Since(job.CreatedAt)
	w.metrics.ObserveJob(ctx, string(job.State), elapsed.Milliseconds())

	fields := []zap.Field{
		zap.String("state", string(job.State)),
		zap.String("primary", job.Primary),
		zap.String("isolation", job.Isolation),
		zap.Int("exit_code", res.ExitCode),
		zap.Int64("execution_time_ms", res.ExecutionTime),
		zap.Int64("memory_used", res.MemoryUsed),
		zap.Duration("elapsed", elapsed),
	}
	if res.ErrorKind == appErr.KindInfrastructure {
		logger.Error(ctx, "job failed in sandbox", append(fields, zap.String("error", res.Error))...)
	} else {
		logger.Info(ctx, "job finished", fields...)
	}
	w.report(ctx, job, res)
}

func (w *Worker) report(ctx context.Context, job *Job, res *result.JobResult) {
	update := StatusUpdate{
		JobID:      job.ID,
		State:      job.State,
		Language:   w.cfg.Language.ID,
		Isolation:  job.Isolation,
		ReceivedAt: job.CreatedAt.Unix(),
		Result:     res,
	}
	if res != nil {
		update.FinishedAt = time.Now().Unix()
	}
	if err := w.reporter.ReportStatus(ctx, update); err != nil {
		logger.Warn(ctx, "report job status failed", zap.String("state", string(job.State)), zap.Error(err))
	}
}
