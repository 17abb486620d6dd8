package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog/log"
)

// ContainerdBackend runs each script in a dedicated container. The runner
// binary is baked into the image; the script is bind-mounted read-only.
type ContainerdBackend struct {
	client    *containerd.Client
	namespace string
	image     string
	runner    string
}

func newContainerdBackend(ctx context.Context, opts BackendOptions) (*ContainerdBackend, error) {
	socket := opts.ContainerdSocket
	if socket == "" {
		socket = "/run/containerd/containerd.sock"
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "scriptflow"
	}
	if opts.Image == "" {
		return nil, fmt.Errorf("%w: containerd backend requires an image", ErrBackendUnavailable)
	}
	runner := opts.RunnerBinary
	if runner == "" {
		runner = "/usr/local/bin/scriptflow-runner"
	}

	client, err := containerd.New(socket,
		containerd.WithDefaultNamespace(namespace),
		containerd.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to containerd at %s: %v", ErrBackendUnavailable, socket, err)
	}
	if _, err := client.Version(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: containerd health check failed: %v", ErrBackendUnavailable, err)
	}

	backend := &ContainerdBackend{
		client:    client,
		namespace: namespace,
		image:     opts.Image,
		runner:    runner,
	}

	if cleaned, err := backend.cleanupOrphaned(ctx); err != nil {
		log.Warn().Err(err).Msg("orphaned container cleanup failed")
	} else if cleaned > 0 {
		log.Info().Int("count", cleaned).Msg("cleaned orphaned run containers on startup")
	}

	log.Info().
		Str("socket", socket).
		Str("namespace", namespace).
		Str("image", opts.Image).
		Msg("connected to containerd")
	return backend, nil
}

func (b *ContainerdBackend) withNamespace(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, b.namespace)
}

func (b *ContainerdBackend) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "validate", Err: err}
	}

	logger := log.With().
		Str("run_id", req.RunID).
		Str("function", req.Function).
		Logger()

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hostDir, err := os.MkdirTemp("", "scriptflow-"+req.RunID+"-*")
	if err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "create_temp_dir", Err: err}
	}
	defer os.RemoveAll(hostDir)

	scriptPath := filepath.Join(hostDir, "script.star")
	if err := os.WriteFile(scriptPath, []byte(req.ScriptContent), 0600); err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "write_script", Err: err}
	}
	if err := os.Chmod(scriptPath, 0444); err != nil { // #nosec G302 -- container runs as nobody (UID 65534)
		return nil, &ExecutionError{RunID: req.RunID, Op: "chmod_script", Err: err}
	}

	image, err := b.pullImage(execCtx, b.image)
	if err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "pull_image", Err: err}
	}

	containerID := "run-" + req.RunID
	container, err := b.createContainer(execCtx, containerID, image, hostDir, req)
	if err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "create_container", Err: err}
	}
	defer func() {
		if cleanErr := b.cleanupContainer(context.Background(), container); cleanErr != nil {
			logger.Error().Err(cleanErr).Msg("container cleanup failed")
		}
	}()

	var stdout, stderr bytes.Buffer
	task, err := container.NewTask(b.withNamespace(execCtx),
		cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)),
	)
	if err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "create_task", Err: err}
	}
	defer func() {
		if _, err := task.Delete(b.withNamespace(context.Background()), containerd.WithProcessKill); err != nil {
			logger.Error().Err(err).Msg("task delete failed")
		}
	}()

	exitCh, err := task.Wait(b.withNamespace(execCtx))
	if err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "task_wait", Err: err}
	}
	if err := task.Start(b.withNamespace(execCtx)); err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "task_start", Err: err}
	}
	logger.Info().Msg("run started")

	start := time.Now()
	var exitCode int

	select {
	case status := <-exitCh:
		exitCode = int(status.ExitCode())

	case <-execCtx.Done():
		logger.Warn().Msg("run timed out, killing task")
		if err := task.Kill(b.withNamespace(context.Background()), 9); err != nil {
			logger.Error().Err(err).Msg("failed to kill timed out task")
		}
		<-exitCh

		return &Result{
			RunID:    req.RunID,
			Output:   truncateOutput(stdout.String(), maxOutputBytes),
			Stderr:   truncateOutput(stderr.String(), maxStderrBytes),
			ExitCode: -1,
			Duration: time.Since(start),
		}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}

	duration := time.Since(start)
	logger.Info().
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("run completed")

	return &Result{
		RunID:    req.RunID,
		Output:   truncateOutput(stdout.String(), maxOutputBytes),
		Stderr:   truncateOutput(stderr.String(), maxStderrBytes),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

func (b *ContainerdBackend) Close() error {
	return b.client.Close()
}

func (b *ContainerdBackend) pullImage(ctx context.Context, ref string) (containerd.Image, error) {
	ctx = b.withNamespace(ctx)

	image, err := b.client.GetImage(ctx, ref)
	if err == nil {
		return image, nil
	}

	log.Info().Str("ref", ref).Msg("pulling image")
	image, err = b.client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", ref, err)
	}
	return image, nil
}

func (b *ContainerdBackend) createContainer(
	ctx context.Context,
	id string,
	image containerd.Image,
	hostDir string,
	req Request,
) (containerd.Container, error) {
	nsCtx := b.withNamespace(ctx)

	args := []string{b.runner, "--script", "/workspace/script.star", "--function", req.Function}
	if req.Payload != "" {
		args = append(args, "--payload", req.Payload)
	}

	limits := req.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}

	container, err := b.client.NewContainer(nsCtx, id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithProcessArgs(args...),
			oci.WithHostname("scriptflow-run"),
			func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
				ApplySecurityProfile(s, RunSecurityProfile())
				ApplyLimits(s, limits)

				s.Mounts = append(s.Mounts, specs.Mount{
					Destination: "/workspace",
					Type:        "bind",
					Source:      hostDir,
					Options:     []string{"rbind", "ro"},
				})

				s.Process.Env = scrubbedEnv(req)
				return nil
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	return container, nil
}

func (b *ContainerdBackend) cleanupContainer(ctx context.Context, container containerd.Container) error {
	if container == nil {
		return nil
	}

	id := container.ID()
	logger := log.With().Str("container_id", id).Logger()

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cleanupCtx = b.withNamespace(cleanupCtx)

	if task, err := container.Task(cleanupCtx, nil); err == nil {
		if status, err := task.Status(cleanupCtx); err == nil && status.Status != containerd.Stopped {
			logger.Debug().Msg("killing running task")
			_ = task.Kill(cleanupCtx, 9)

			waitCtx, waitCancel := context.WithTimeout(cleanupCtx, 5*time.Second)
			defer waitCancel()
			exitCh, _ := task.Wait(waitCtx)
			if exitCh != nil {
				select {
				case <-exitCh:
				case <-waitCtx.Done():
					logger.Warn().Msg("timed out waiting for task to stop")
				}
			}
		}
		if _, err := task.Delete(cleanupCtx, containerd.WithProcessKill); err != nil {
			if !errdefs.IsNotFound(err) {
				logger.Warn().Err(err).Msg("failed to delete task")
			}
		}
	}

	if err := container.Delete(cleanupCtx, containerd.WithSnapshotCleanup); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("deleting container %s: %w", id, err)
		}
	}
	return nil
}

// cleanupOrphaned removes run containers left over from a previous process.
func (b *ContainerdBackend) cleanupOrphaned(ctx context.Context) (int, error) {
	nsCtx := b.withNamespace(ctx)

	list, err := b.client.Containers(nsCtx)
	if err != nil {
		return 0, fmt.Errorf("listing containers: %w", err)
	}

	var cleaned int
	for _, c := range list {
		if !strings.HasPrefix(c.ID(), "run-") {
			continue
		}
		if err := b.cleanupContainer(ctx, c); err != nil {
			log.Error().Err(err).Str("container_id", c.ID()).Msg("failed to clean orphaned container")
			continue
		}
		cleaned++
	}
	return cleaned, nil
}
