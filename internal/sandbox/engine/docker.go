package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"compilebox/internal/sandbox/result"
	"compilebox/internal/sandbox/spec"
	"compilebox/pkg/utils/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	archive "github.com/moby/go-archive"
	"go.uber.org/zap"
)

const containerWorkDir = "/work"

// exit status of a process killed with SIGKILL, as seen by the container runtime
const killedExitCode = 137

// DockerEngine runs each stage in a fresh single-use container.
type DockerEngine struct {
	cfg Config
	cli *client.Client
}

// NewDockerEngine connects to the daemon from the environment or cfg.Docker.Host.
func NewDockerEngine(cfg Config) (*DockerEngine, error) {
	cfg = cfg.WithDefaults()
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Docker.Host != "" {
		opts = append(opts, client.WithHost(cfg.Docker.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerEngine{cfg: cfg, cli: cli}, nil
}

func (e *DockerEngine) Name() string {
	return IsolationDocker
}

// Close releases the daemon connection.
func (e *DockerEngine) Close() error {
	return e.cli.Close()
}

// Prepare pulls the sandbox image when it is missing.
func (e *DockerEngine) Prepare(ctx context.Context) error {
	if !e.cfg.Docker.PullOnStart {
		return nil
	}
	return e.EnsureImage(ctx)
}

// EnsureImage pulls the configured image unless the daemon already has it.
func (e *DockerEngine) EnsureImage(ctx context.Context) error {
	img := e.cfg.Docker.Image
	if _, err := e.cli.ImageInspect(ctx, img); err == nil {
		return nil
	}
	logger.Info(ctx, "pulling sandbox image", zap.String("image", img))
	reader, err := e.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()
	// The pull only completes once the progress stream is consumed.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	logger.Info(ctx, "sandbox image ready", zap.String("image", img))
	return nil
}

func (e *DockerEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.ProcessOutcome, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.ProcessOutcome{}, err
	}
	limit := wallLimit(runSpec.Limits)
	stream := e.cfg.Docker.Transfer == TransferStream && runSpec.WorkDir != ""
	collect := stream && runSpec.CollectArtifacts

	runCtx, cancel := context.WithTimeout(ctx, limit+e.cfg.KillGrace)
	defer cancel()

	cfg, hostCfg := e.containerConfig(runSpec, buildScript(runSpec.Cmd, limit, stream, collect))

	start := time.Now()
	created, err := e.cli.ContainerCreate(runCtx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return result.StartFailed(runSpec.Stage, fmt.Errorf("create container: %w", err)), nil
	}
	containerID := created.ID
	defer func() {
		if err := e.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true}); err != nil {
			logger.Warn(ctx, "remove container failed", zap.String("container", containerID), zap.Error(err))
		}
	}()

	hijack, err := e.cli.ContainerAttach(runCtx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  stream,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return result.StartFailed(runSpec.Stage, fmt.Errorf("attach container: %w", err)), nil
	}
	defer hijack.Close()

	if err := e.cli.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return result.StartFailed(runSpec.Stage, fmt.Errorf("start container: %w", err)), nil
	}

	sendErr := make(chan error, 1)
	if stream {
		go func() {
			sendErr <- sendWorkspace(runSpec.WorkDir, hijack.Conn)
			_ = hijack.CloseWrite()
		}()
	} else {
		sendErr <- nil
	}

	outLimit := outputLimit(e.cfg, runSpec.Limits)
	if collect {
		outLimit = e.cfg.Docker.MaxArtifactBytes
	}
	stdout := newLimitedBuffer(outLimit)
	stderr := newLimitedBuffer(outputLimit(e.cfg, runSpec.Limits))
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, hijack.Reader)
		copyDone <- err
	}()

	exitCode, waitErr := e.wait(runCtx, containerID)
	duration := time.Since(start)
	timedOut := false
	if waitErr != nil {
		if runCtx.Err() == nil {
			return result.ProcessOutcome{}, fmt.Errorf("wait container: %w", waitErr)
		}
		// Outer deadline: the in-container timeout did not fire in time.
		if err := e.cli.ContainerKill(context.Background(), containerID, "KILL"); err != nil {
			logger.Warn(ctx, "kill container failed", zap.String("container", containerID), zap.Error(err))
		}
		timedOut = true
	}

	select {
	case <-copyDone:
	case <-time.After(e.cfg.KillGrace):
		_ = hijack.Conn.Close()
	}
	var streamErr error
	select {
	case streamErr = <-sendErr:
	case <-time.After(e.cfg.KillGrace):
		_ = hijack.Conn.Close()
		streamErr = <-sendErr
	}
	if streamErr != nil && !timedOut {
		logger.Warn(ctx, "stream workspace to container failed", zap.String("container", containerID), zap.Error(streamErr))
	}

	oomKilled := false
	if inspect, err := e.cli.ContainerInspect(context.Background(), containerID); err == nil && inspect.ContainerJSONBase != nil && inspect.State != nil {
		oomKilled = inspect.State.OOMKilled
	}
	if !timedOut && !oomKilled && exitCode == killedExitCode && duration >= limit {
		timedOut = true
	}

	outcome := result.ProcessOutcome{
		Stage:     runSpec.Stage,
		Kind:      result.OutcomeExited,
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  duration,
		TimedOut:  timedOut,
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
	if timedOut {
		outcome.ExitCode = result.TimedOutExitCode
	}
	if oomKilled {
		outcome.Stderr = strings.TrimRight(outcome.Stderr, "\n") + fmt.Sprintf("\nKilled: memory limit of %dMB exceeded", e.memoryMB(runSpec.Limits))
	}

	if collect {
		outcome.Stdout = ""
		outcome.Truncated = stderr.Truncated()
		if outcome.Succeeded() {
			if stdout.Truncated() {
				return outcome, fmt.Errorf("build artifacts exceed %d bytes", e.cfg.Docker.MaxArtifactBytes)
			}
			if err := archive.Untar(bytes.NewReader(stdout.Bytes()), runSpec.WorkDir, &archive.TarOptions{NoLchown: true}); err != nil {
				return outcome, fmt.Errorf("collect build artifacts: %w", err)
			}
		}
	}
	return outcome, nil
}

func (e *DockerEngine) wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := e.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return int(status.StatusCode), errors.New(status.Error.Message)
		}
		return int(status.StatusCode), nil
	case err := <-errCh:
		return -1, err
	}
}

func (e *DockerEngine) containerConfig(runSpec spec.RunSpec, script string) (*container.Config, *container.HostConfig) {
	stream := e.cfg.Docker.Transfer == TransferStream && runSpec.WorkDir != ""
	tmpfsSize := fmt.Sprintf("size=%dm", e.cfg.Docker.TmpfsSizeMB)

	cfg := &container.Config{
		Image:           e.cfg.Docker.Image,
		Cmd:             []string{"sh", "-c", script},
		Env:             runSpec.Env,
		WorkingDir:      containerWorkDir,
		User:            e.cfg.Docker.User,
		Tty:             false,
		OpenStdin:       stream,
		StdinOnce:       stream,
		AttachStdin:     stream,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
		Labels: map[string]string{
			"compilebox.job":   runSpec.JobID,
			"compilebox.stage": string(runSpec.Stage),
		},
	}

	memory := e.memoryMB(runSpec.Limits) * 1024 * 1024
	cpu := e.cfg.Docker.CPUMilli
	if runSpec.Limits.CPUMilli > 0 {
		cpu = runSpec.Limits.CPUMilli
	}
	pids := e.cfg.Docker.PIDs
	if runSpec.Limits.PIDs > 0 {
		pids = runSpec.Limits.PIDs
	}

	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs: map[string]string{
			"/tmp": "rw,exec,nosuid," + tmpfsSize,
		},
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
			NanoCPUs:   cpu * 1_000_000,
			PidsLimit:  &pids,
		},
	}
	switch {
	case runSpec.WorkDir == "":
	case stream:
		hostCfg.Tmpfs[containerWorkDir] = "rw,exec,nosuid," + tmpfsSize + ",mode=1777"
	default:
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: runSpec.WorkDir,
			Target: containerWorkDir,
		}}
	}
	return cfg, hostCfg
}

func (e *DockerEngine) memoryMB(limits spec.ResourceLimit) int64 {
	if limits.MemoryMB > 0 {
		return limits.MemoryMB
	}
	return e.cfg.Docker.MemoryMB
}

// buildScript wraps cmd for sh -c inside the container. In stream mode the
// workspace arrives as a tar on stdin; with collect the build writes its
// diagnostics to stderr and the resulting workspace as a tar on stdout.
func buildScript(cmd []string, limit time.Duration, stream, collect bool) string {
	secs := int64((limit + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	guarded := fmt.Sprintf("timeout -s KILL %d %s", secs, shellJoin(cmd))
	extract := "tar -xof - -C " + containerWorkDir
	switch {
	case collect:
		return fmt.Sprintf("%s && %s 1>&2; rc=$?; [ $rc -eq 0 ] && tar -cf - -C %s .; exit $rc", extract, guarded, containerWorkDir)
	case stream:
		return fmt.Sprintf("%s && exec %s", extract, guarded)
	default:
		return "exec " + guarded
	}
}

func sendWorkspace(dir string, w io.Writer) error {
	rd, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("tar workspace: %w", err)
	}
	defer rd.Close()
	_, err = io.Copy(w, rd)
	return err
}

func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
