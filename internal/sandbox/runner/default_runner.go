package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/shlex"

	"compilebox/internal/sandbox/engine"
	"compilebox/internal/sandbox/observer"
	"compilebox/internal/sandbox/profile"
	"compilebox/internal/sandbox/result"
	"compilebox/internal/sandbox/spec"
	appErr "compilebox/pkg/errors"
)

const versionTimeoutMs = 10000

// DefaultRunner implements compile/run workflows for supported languages.
type DefaultRunner struct {
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

// NewRunner creates a new runner backed by the sandbox engine.
func NewRunner(eng engine.Engine) *DefaultRunner {
	return NewRunnerWithObserver(eng, observer.NoopMetricsRecorder{})
}

// NewRunnerWithObserver creates a new runner with metrics hooks.
func NewRunnerWithObserver(eng engine.Engine, metrics observer.MetricsRecorder) *DefaultRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &DefaultRunner{eng: eng, metrics: metrics}
}

func (r *DefaultRunner) Compile(ctx context.Context, req CompileRequest) (result.ProcessOutcome, error) {
	if err := validateCompileRequest(req); err != nil {
		return result.ProcessOutcome{}, err
	}
	cmd, err := buildCommand(req.Language.CompileCmdTpl, placeholders{sources: req.Sources})
	if err != nil {
		return result.ProcessOutcome{}, err
	}

	out, err := r.eng.Run(ctx, spec.RunSpec{
		JobID:            req.JobID,
		Stage:            spec.StageBuild,
		WorkDir:          req.WorkDir,
		Cmd:              cmd,
		Env:              req.Language.Env,
		Limits:           req.Profile.DefaultLimits.Merge(req.Limits),
		CollectArtifacts: true,
	})
	r.metrics.ObserveCompile(ctx, req.Language.ID, err == nil && out.Succeeded(), out.Duration.Milliseconds(), out.MemoryBytes)
	if err != nil {
		return out, appErr.SandboxError(err, "build stage failed")
	}
	return out, nil
}

func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (result.ProcessOutcome, error) {
	if err := validateRunRequest(req); err != nil {
		return result.ProcessOutcome{}, err
	}
	debug := ""
	if req.Debug {
		debug = req.Language.DebugArgs
	}
	cmd, err := buildCommand(req.Language.RunCmdTpl, placeholders{main: req.Entry, debug: debug})
	if err != nil {
		return result.ProcessOutcome{}, err
	}

	out, err := r.eng.Run(ctx, spec.RunSpec{
		JobID:   req.JobID,
		Stage:   spec.StageRun,
		WorkDir: req.WorkDir,
		Cmd:     cmd,
		Env:     req.Language.Env,
		Limits:  req.Profile.DefaultLimits.Merge(req.Limits),
	})
	if err != nil {
		r.metrics.ObserveRun(ctx, req.Language.ID, "error", out.Duration.Milliseconds(), out.MemoryBytes)
		return out, appErr.SandboxError(err, "run stage failed")
	}
	r.metrics.ObserveRun(ctx, req.Language.ID, runLabel(out), out.Duration.Milliseconds(), out.MemoryBytes)
	return out, nil
}

// Version asks the toolchain for its version banner.
func (r *DefaultRunner) Version(ctx context.Context, lang profile.LanguageSpec) (string, error) {
	cmd, err := buildCommand(lang.VersionCmdTpl, placeholders{})
	if err != nil {
		return "", err
	}
	out, err := r.eng.Run(ctx, spec.RunSpec{
		JobID:  "version",
		Stage:  spec.StageVersion,
		Cmd:    cmd,
		Env:    lang.Env,
		Limits: spec.ResourceLimit{WallTimeMs: versionTimeoutMs},
	})
	if err != nil {
		return "", appErr.SandboxError(err, "version probe failed")
	}
	switch {
	case out.Kind == result.OutcomeStartFailed:
		return "", appErr.SandboxError(nil, "%s not available: %s", cmd[0], out.StartError)
	case out.TimedOut:
		return "", appErr.SandboxError(nil, "%s did not answer within %dms", cmd[0], versionTimeoutMs)
	case out.ExitCode != 0:
		return "", appErr.SandboxError(nil, "%s exited with code %d: %s", cmd[0], out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	// Some runtimes print the banner on stderr.
	version := strings.TrimSpace(out.Stdout)
	if version == "" {
		version = strings.TrimSpace(out.Stderr)
	}
	return version, nil
}

func runLabel(out result.ProcessOutcome) string {
	switch {
	case out.Kind == result.OutcomeStartFailed:
		return "start_failed"
	case out.TimedOut:
		return "timeout"
	case out.ExitCode != 0:
		return "failed"
	default:
		return "ok"
	}
}

func validateCompileRequest(req CompileRequest) error {
	if req.JobID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	if req.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if len(req.Sources) == 0 {
		return appErr.ValidationError("sources", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	return nil
}

func validateRunRequest(req RunRequest) error {
	if req.JobID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	if req.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if req.Entry == "" {
		return appErr.ValidationError("entry", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	return nil
}

type placeholders struct {
	sources []string
	main    string
	debug   string
}

func buildCommand(tpl string, p placeholders) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	quoted := make([]string, len(p.sources))
	for i, s := range p.sources {
		quoted[i] = quote(s)
	}
	expanded := tpl
	expanded = strings.ReplaceAll(expanded, "{sources}", strings.Join(quoted, " "))
	expanded = strings.ReplaceAll(expanded, "{main}", quote(p.main))
	expanded = strings.ReplaceAll(expanded, "{debug}", p.debug)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

// quote protects a substituted value from being split by shlex.
func quote(s string) string {
	if s == "" {
		return ""
	}
	return fmt.Sprintf("'%s'", strings.ReplaceAll(s, "'", `'"'"'`))
}
