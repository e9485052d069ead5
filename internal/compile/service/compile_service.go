// Package service holds the compile API business logic: admission, job
// dispatch to the sandbox and the toolchain probes.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"compilebox/internal/sandbox"
	"compilebox/internal/sandbox/observer"
	"compilebox/internal/sandbox/profile"
	"compilebox/internal/sandbox/result"
	"compilebox/internal/sandbox/runner"
	"compilebox/internal/sandbox/source"
	appErr "compilebox/pkg/errors"
	"compilebox/pkg/utils/logger"
)

const (
	defaultJobTimeout     = 30 * time.Second
	defaultVersionTimeout = 15 * time.Second
)

// Config holds compile service dependencies and settings.
type Config struct {
	Executor sandbox.Service
	Runner   runner.Runner
	Capacity *CapacityLimiter
	Metrics  observer.MetricsRecorder

	Language  profile.LanguageSpec
	Source    source.Options
	Isolation string
	// JobTimeout bounds a whole job, detached from the caller's request.
	JobTimeout     time.Duration
	VersionTimeout time.Duration
}

// CompileInput is one compile request after decoding.
type CompileInput struct {
	Code  string
	Files []source.Unit
	Debug bool
}

// HealthStatus is reported by the health endpoint.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Isolation string `json:"isolation"`
}

// CompileService admits compile requests and runs them as sandbox jobs.
type CompileService struct {
	executor       sandbox.Service
	runner         runner.Runner
	capacity       *CapacityLimiter
	metrics        observer.MetricsRecorder
	language       profile.LanguageSpec
	sourceOpts     source.Options
	isolation      string
	jobTimeout     time.Duration
	versionTimeout time.Duration
	now            func() time.Time
	newID          func() string
}

// NewCompileService creates a compile service.
func NewCompileService(cfg Config) *CompileService {
	if cfg.Metrics == nil {
		cfg.Metrics = observer.NoopMetricsRecorder{}
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.VersionTimeout <= 0 {
		cfg.VersionTimeout = defaultVersionTimeout
	}
	return &CompileService{
		executor:       cfg.Executor,
		runner:         cfg.Runner,
		capacity:       cfg.Capacity,
		metrics:        cfg.Metrics,
		language:       cfg.Language,
		sourceOpts:     cfg.Source,
		isolation:      cfg.Isolation,
		jobTimeout:     cfg.JobTimeout,
		versionTimeout: cfg.VersionTimeout,
		now:            time.Now,
		newID:          func() string { return uuid.NewString() },
	}
}

// Compile runs one job and returns its result. Rejections are returned as
// results too, with Code set so the caller can pick the HTTP status.
func (s *CompileService) Compile(ctx context.Context, input CompileInput) result.JobResult {
	jobID := s.newID()
	units := Units(input)

	// Input errors are answered before a slot or a workspace is taken.
	if _, err := source.Prepare(units, s.sourceOpts); err != nil {
		s.metrics.ObserveRejected(ctx, "input")
		return result.Failure(jobID, err)
	}
	if s.executor == nil {
		return result.Failure(jobID, appErr.New(appErr.ServiceUnavailable).WithMessage("Sandbox error: executor is not configured"))
	}

	if s.capacity != nil {
		if err := s.capacity.Acquire(ctx); err != nil {
			s.metrics.ObserveRejected(ctx, "capacity")
			logger.Warn(ctx, "compile job rejected", zap.String("job_id", jobID), zap.Error(err))
			return result.Failure(jobID, err)
		}
		defer s.capacity.Release()
	}

	// A client disconnect must not cancel a running job.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.jobTimeout)
	defer cancel()

	return s.executor.Execute(jobCtx, sandbox.JobRequest{
		JobID: jobID,
		Units: units,
		Debug: input.Debug,
	})
}

// Version reports the runtime version through the configured engine.
func (s *CompileService) Version(ctx context.Context) (string, error) {
	if s.runner == nil {
		return "", appErr.New(appErr.ServiceUnavailable).WithMessage("Sandbox error: runner is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.versionTimeout)
	defer cancel()
	version, err := s.runner.Version(ctx, s.language)
	if err != nil {
		logger.Warn(ctx, "version probe failed", zap.Error(err))
		return "", err
	}
	return version, nil
}

// Health reports liveness and the isolation mode in use.
func (s *CompileService) Health() HealthStatus {
	return HealthStatus{
		Status:    "OK",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Isolation: s.isolation,
	}
}

// Units picks the source units of a request. Non-empty files win over code.
func Units(input CompileInput) []source.Unit {
	if len(input.Files) > 0 {
		units := make([]source.Unit, len(input.Files))
		copy(units, input.Files)
		return units
	}
	if strings.TrimSpace(input.Code) == "" {
		return nil
	}
	return []source.Unit{{Content: input.Code}}
}
