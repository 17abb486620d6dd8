package executor

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for typed checks across the dispatch path.
var (
	ErrTimeout            = errors.New("execution timed out")
	ErrMissingCredential  = errors.New("required credential missing")
	ErrInvalidRequest     = errors.New("invalid execution request")
	ErrBackendUnavailable = errors.New("execution backend unavailable")
)

// ExecutionError wraps a failure with the run it belongs to and the
// operation that failed.
type ExecutionError struct {
	RunID string
	Op    string
	Err   error
}

func (e *ExecutionError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("run %s: %s: %s", e.RunID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a timeout kill.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Limits bounds one execution.
type Limits struct {
	CPUShares int64 `json:"cpu_shares"` // 1024 = 1 CPU core
	MemoryMB  int64 `json:"memory_mb"`
	PidsLimit int64 `json:"pids_limit"`
}

func DefaultLimits() Limits {
	return Limits{
		CPUShares: 512,
		MemoryMB:  256,
		PidsLimit: 32,
	}
}

func (l Limits) Validate() error {
	if l.CPUShares < 2 || l.CPUShares > 4096 {
		return fmt.Errorf("%w: cpu_shares must be 2-4096, got %d", ErrInvalidRequest, l.CPUShares)
	}
	if l.MemoryMB < 16 || l.MemoryMB > 2048 {
		return fmt.Errorf("%w: memory_mb must be 16-2048, got %d", ErrInvalidRequest, l.MemoryMB)
	}
	if l.PidsLimit < 1 || l.PidsLimit > 500 {
		return fmt.Errorf("%w: pids_limit must be 1-500, got %d", ErrInvalidRequest, l.PidsLimit)
	}
	return nil
}

// Request is one isolated script execution. Env is the complete environment
// the script sees; nothing from the server process leaks in.
type Request struct {
	RunID         string
	DeploymentID  string
	ScriptContent string
	Function      string
	Payload       string // JSON event payload, empty for schedule/manual fires
	Env           map[string]string
	Timeout       time.Duration
	Limits        Limits
}

// Result is the observable outcome of one execution.
type Result struct {
	RunID    string
	Output   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

const (
	maxScriptBytes = 1 << 20
	maxOutputBytes = 1 << 20
	maxStderrBytes = 256 * 1024
	maxTimeout     = 5 * time.Minute
)

func validateRequest(req Request) error {
	if req.ScriptContent == "" {
		return fmt.Errorf("%w: script is empty", ErrInvalidRequest)
	}
	if len(req.ScriptContent) > maxScriptBytes {
		return fmt.Errorf("%w: script exceeds 1MB limit", ErrInvalidRequest)
	}
	if req.Function == "" {
		return fmt.Errorf("%w: target function is empty", ErrInvalidRequest)
	}
	if req.Timeout > maxTimeout {
		return fmt.Errorf("%w: timeout exceeds %s maximum", ErrInvalidRequest, maxTimeout)
	}
	if req.Limits != (Limits{}) {
		if err := req.Limits.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n... [output truncated]"
}
