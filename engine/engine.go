// Package engine runs a single job command inside an ephemeral,
// resource-capped Docker container with the job workspace bind-mounted
// at a fixed path. It owns the container lifecycle end to end:
// provision, attach, start, race completion against the job timeout,
// and terminate and remove the container on every path.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sandboxd/sandboxd/log"
	atrace "github.com/sandboxd/sandboxd/telemetry/trace"
)

const (
	// TimeoutExitCode is the sentinel exit code reported when a job is
	// killed for exceeding its timeout. Real process exit codes are
	// 0-255, so the caller can always tell the two apart.
	TimeoutExitCode = -1

	// StdoutFileName and StderrFileName are the workspace files that
	// receive the captured streams after the container terminates.
	// They exist even when empty so callers can always locate them.
	StdoutFileName = "stdout"
	StderrFileName = "stderr"

	defaultContainerWorkDir = "/workspace"
	defaultNamePrefix       = "sandboxd-job-"

	// How long to wait for the attach stream to drain after the
	// container reached a terminal state.
	drainGrace = 2 * time.Second
)

// ResourceProfile is the set of limits applied to a job container.
// Network access is always disabled and is not part of the profile.
type ResourceProfile struct {
	MemoryBytes int64
	PidsLimit   int64
	NanoCPUs    int64
}

// DefaultProfile suits short interpreter runs.
func DefaultProfile() ResourceProfile {
	return ResourceProfile{
		MemoryBytes: 512 << 20,
		PidsLimit:   128,
		NanoCPUs:    1e9, // one CPU
	}
}

// ConversionProfile gives document pipelines more headroom; tools
// like LibreOffice and pandoc fork aggressively and are memory-hungry.
func ConversionProfile() ResourceProfile {
	return ResourceProfile{
		MemoryBytes: 1 << 30,
		PidsLimit:   256,
		NanoCPUs:    2e9,
	}
}

// RunSpec describes one container run.
type RunSpec struct {
	Image         string
	Cmd           []string
	WorkspacePath string // host path bind-mounted at the container work dir
	Profile       ResourceProfile
	Timeout       time.Duration
}

// RunResult is the outcome of a container run that reached a terminal
// state. A timed-out run is a normal result, not an error.
type RunResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	TimedOut bool
	Duration time.Duration
}

// WorkspaceWriter is the slice of the workspace store the engine needs
// to persist the captured streams.
type WorkspaceWriter interface {
	WriteFile(dir, name string, data []byte) (string, error)
}

// Engine executes job commands in Docker containers.
type Engine struct {
	client     *client.Client
	files      WorkspaceWriter
	workDir    string
	namePrefix string
	dockerHost string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClient supplies a pre-built Docker client (used by tests).
func WithClient(cli *client.Client) Option {
	return func(e *Engine) { e.client = cli }
}

// WithDockerHost overrides the daemon address instead of taking it
// from the environment.
func WithDockerHost(host string) Option {
	return func(e *Engine) { e.dockerHost = host }
}

// WithWorkspaceWriter sets the writer used to persist stdout/stderr
// into the job workspace.
func WithWorkspaceWriter(w WorkspaceWriter) Option {
	return func(e *Engine) { e.files = w }
}

// WithContainerWorkDir changes the in-container mount point of the
// workspace.
func WithContainerWorkDir(dir string) Option {
	return func(e *Engine) { e.workDir = dir }
}

// New builds an Engine. Without WithClient the Docker client is
// created from the environment with API version negotiation.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		workDir:    defaultContainerWorkDir,
		namePrefix: defaultNamePrefix,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if e.dockerHost != "" {
			clientOpts = append(clientOpts, client.WithHost(e.dockerHost))
		}
		cli, err := client.NewClientWithOpts(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("docker client: %w", err)
		}
		e.client = cli
	}
	return e, nil
}

// Ping reports whether the Docker daemon is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.client.Ping(ctx)
	return err
}

// Close releases the underlying Docker client connection.
func (e *Engine) Close() error {
	return e.client.Close()
}

// Run executes spec and blocks until the container reaches a terminal
// state or the timeout fires. On timeout the container is killed, the
// exit code is TimeoutExitCode, and an explanatory line naming the
// elapsed time and the configured timeout is appended to stderr. The
// captured streams are written to the workspace as "stdout" and
// "stderr" on every terminal path; engine-level failures (daemon
// unreachable, create/attach/start errors) return an error instead
// and leave only whatever files already existed.
func (e *Engine) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	ctx, span := atrace.Tracer.Start(ctx, atrace.SpanContainerRun)
	span.SetAttributes(attribute.String(atrace.AttrImage, spec.Image))
	defer span.End()

	if err := validateSpec(spec); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}

	id, err := e.provision(ctx, spec)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}

	// Attach before starting so the first output bytes are never lost.
	attach, err := e.client.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		e.remove(id)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, fmt.Errorf("attach container: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, cpErr := io.Copy(NewDemuxer(&stdout, &stderr), attach.Reader)
		copyDone <- cpErr
	}()

	// Register the wait before start so the exit cannot be missed.
	waitCh, waitErrCh := e.client.ContainerWait(ctx, id, container.WaitConditionNextExit)

	start := time.Now()
	if err := e.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		e.remove(id)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, fmt.Errorf("start container: %w", err)
	}

	res := RunResult{}
	timer := time.NewTimer(spec.Timeout)
	defer timer.Stop()

	select {
	case waitResp := <-waitCh:
		res.Duration = time.Since(start)
		if waitResp.Error != nil {
			e.remove(id)
			err := fmt.Errorf("container wait: %s", waitResp.Error.Message)
			span.SetStatus(codes.Error, err.Error())
			return RunResult{}, err
		}
		res.ExitCode = int(waitResp.StatusCode)
		// The daemon closes the stream when the container stops; the
		// grace timer only guards against a wedged connection.
		select {
		case <-copyDone:
		case <-time.After(drainGrace):
			attach.Close()
			<-copyDone
		}

	case err := <-waitErrCh:
		e.remove(id)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, fmt.Errorf("container wait: %w", err)

	case <-timer.C:
		res.Duration = time.Since(start)
		res.TimedOut = true
		res.ExitCode = TimeoutExitCode
		e.terminate(id)
		// Unblock the copier; whatever arrived before the kill is kept.
		attach.Close()
		<-copyDone
		fmt.Fprintf(&stderr,
			"sandboxd: process killed after %s: exceeded timeout of %ds\n",
			res.Duration.Round(time.Millisecond), int(spec.Timeout.Seconds()))
	}

	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	span.SetAttributes(
		attribute.Int(atrace.AttrExitCode, res.ExitCode),
		attribute.Bool(atrace.AttrTimedOut, res.TimedOut),
	)

	if e.files != nil {
		if _, err := e.files.WriteFile(spec.WorkspacePath, StdoutFileName, res.Stdout); err != nil {
			return RunResult{}, fmt.Errorf("persist stdout: %w", err)
		}
		if _, err := e.files.WriteFile(spec.WorkspacePath, StderrFileName, res.Stderr); err != nil {
			return RunResult{}, fmt.Errorf("persist stderr: %w", err)
		}
	}
	return res, nil
}

func validateSpec(spec RunSpec) error {
	if spec.Image == "" {
		return fmt.Errorf("image is required")
	}
	if len(spec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if spec.WorkspacePath == "" {
		return fmt.Errorf("workspace path is required")
	}
	if spec.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// provision creates the container: workspace bind mount, no network,
// resource caps, automatic removal after exit.
func (e *Engine) provision(ctx context.Context, spec RunSpec) (string, error) {
	pids := spec.Profile.PidsLimit
	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             strslice.StrSlice(spec.Cmd),
		WorkingDir:      e.workDir,
		NetworkDisabled: true,
	}
	hostCfg := &container.HostConfig{
		Binds:       []string{spec.WorkspacePath + ":" + e.workDir},
		NetworkMode: "none",
		AutoRemove:  true,
		Resources: container.Resources{
			Memory:   spec.Profile.MemoryBytes,
			NanoCPUs: spec.Profile.NanoCPUs,
			PidsLimit: func() *int64 {
				if pids > 0 {
					return &pids
				}
				return nil
			}(),
		},
	}
	name := e.namePrefix + uuid.New().String()[:8]
	created, err := e.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return created.ID, nil
}

// terminate kills a timed-out container. Best effort: failures are
// logged, never surfaced, since the job outcome is already decided.
func (e *Engine) terminate(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.client.ContainerKill(ctx, id, "KILL"); err != nil {
		log.Warnf("kill container %s: %v", id, err)
	}
	e.remove(id)
}

// remove force-removes a container, tolerating "already gone" since
// AutoRemove races with explicit removal.
func (e *Engine) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := e.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		log.Warnf("remove container %s: %v", id, err)
	}
}
