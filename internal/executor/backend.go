package executor

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// Backend runs one script execution in isolation. Execute blocks until the
// run finishes or the request timeout kills it.
type Backend interface {
	Execute(ctx context.Context, req Request) (*Result, error)
	Close() error
}

// BackendOptions selects and configures the isolation backend.
type BackendOptions struct {
	Kind             string // process, containerd, auto
	RunnerBinary     string // path to the scriptflow-runner binary
	WorkDir          string // scratch root for script files
	ContainerdSocket string
	Namespace        string
	Image            string // container image carrying the runner binary
}

// NewBackend picks the configured isolation backend. The process backend is
// the default; containerd gives full namespace isolation where available.
func NewBackend(ctx context.Context, opts BackendOptions) (Backend, error) {
	kind := opts.Kind
	if kind == "" {
		kind = "auto"
	}

	switch kind {
	case "process":
		return newProcessBackend(opts)
	case "containerd":
		return newContainerdBackend(ctx, opts)
	case "auto":
		backend, err := newContainerdBackend(ctx, opts)
		if err == nil {
			log.Info().Msg("using containerd backend")
			return backend, nil
		}
		log.Warn().Err(err).Msg("containerd unavailable, falling back to process backend")
		return newProcessBackend(opts)
	default:
		return nil, fmt.Errorf("unknown backend %q: must be auto, process, or containerd", kind)
	}
}

func newProcessBackend(opts BackendOptions) (Backend, error) {
	runner := opts.RunnerBinary
	if runner == "" {
		runner = "scriptflow-runner"
	}
	path, err := exec.LookPath(runner)
	if err != nil {
		return nil, fmt.Errorf("%w: runner binary %q not found: %v", ErrBackendUnavailable, runner, err)
	}
	return NewProcessBackend(path, opts.WorkDir), nil
}
