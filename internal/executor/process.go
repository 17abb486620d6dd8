package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// ProcessBackend runs each script in a child runner process with a scrubbed
// environment. The child is placed in its own process group so a timeout
// kill takes the whole tree, not just the direct child.
type ProcessBackend struct {
	runnerPath string
	workDir    string
}

func NewProcessBackend(runnerPath, workDir string) *ProcessBackend {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &ProcessBackend{runnerPath: runnerPath, workDir: workDir}
}

func (b *ProcessBackend) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "validate", Err: err}
	}

	logger := log.With().
		Str("run_id", req.RunID).
		Str("function", req.Function).
		Logger()

	scratch, err := os.MkdirTemp(b.workDir, "scriptflow-"+req.RunID+"-*")
	if err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "create_temp_dir", Err: err}
	}
	defer os.RemoveAll(scratch)

	scriptPath := filepath.Join(scratch, "script.star")
	if err := os.WriteFile(scriptPath, []byte(req.ScriptContent), 0600); err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "write_script", Err: err}
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"--script", scriptPath, "--function", req.Function}
	if req.Payload != "" {
		args = append(args, "--payload", req.Payload)
	}

	cmd := exec.Command(b.runnerPath, args...) // #nosec G204 -- runner path comes from config, args are constructed here
	cmd.Dir = scratch
	cmd.Env = scrubbedEnv(req)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{RunID: req.RunID, Op: "start", Err: err}
	}
	logger.Info().Msg("run started")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timedOut bool
	select {
	case err = <-done:
	case <-execCtx.Done():
		timedOut = true
		killProcessGroup(cmd)
		<-done
	}
	duration := time.Since(start)

	result := &Result{
		RunID:    req.RunID,
		Output:   truncateOutput(stdout.String(), maxOutputBytes),
		Stderr:   truncateOutput(stderr.String(), maxStderrBytes),
		Duration: duration,
	}

	if timedOut {
		result.ExitCode = -1
		logger.Warn().Dur("duration", duration).Msg("run timed out, process group killed")
		return result, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			logger.Info().
				Int("exit_code", result.ExitCode).
				Dur("duration", duration).
				Msg("run completed with failure")
			return result, nil
		}
		return nil, &ExecutionError{RunID: req.RunID, Op: "wait", Err: err}
	}

	logger.Info().Dur("duration", duration).Msg("run completed")
	return result, nil
}

func (b *ProcessBackend) Close() error {
	return nil
}

// scrubbedEnv builds the child environment from scratch. Only the standard
// runtime variables, the run correlation id, and the resolved credentials
// are present; the server's own environment never leaks into a script.
func scrubbedEnv(req Request) []string {
	env := []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=/tmp",
		"LANG=C.UTF-8",
		"SCRIPTFLOW_RUN_ID=" + req.RunID,
		"SCRIPTFLOW_DEPLOYMENT_ID=" + req.DeploymentID,
	}
	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+req.Env[k])
	}
	return env
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil {
		// Fall back to killing just the child if the group is already gone.
		_ = cmd.Process.Kill()
	}
}
