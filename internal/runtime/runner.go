package runtime

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

// ErrRuntimeFailed is returned when the runtime command exits non-zero or cannot start.
var ErrRuntimeFailed = errors.New("statistical runtime failed")

// Runner invokes the runtime command with a parameter file path as its last argument.
type Runner struct {
	Command []string
	WorkDir string
	Timeout time.Duration
	Logger  *zap.SugaredLogger
}

// NewRunner builds a Runner from configured values. timeout may be empty.
func NewRunner(command []string, workDir, timeout string, logger *zap.SugaredLogger) (*Runner, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("no runtime command configured")
	}
	var d time.Duration
	if timeout != "" {
		var err error
		d, err = time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid runtime timeout %q: %w", timeout, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{Command: command, WorkDir: workDir, Timeout: d, Logger: logger}, nil
}

// Run checks that the parameter file decodes, then executes the command and waits for it.
// The command's output is copied into the log
// line by line.
func (r *Runner) Run(ctx context.Context, paramPath string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	p, err := ReadParamFile(paramPath, FormatOf(paramPath))
	if err != nil {
		return fmt.Errorf("%w: unreadable parameter file: %w", ErrRuntimeFailed, err)
	}

	args := append(append([]string(nil), r.Command[1:]...), paramPath)
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	cmd.Dir = r.WorkDir

	stdout := &zapio.Writer{Log: r.Logger.Desugar().With(zap.String("stream", "stdout")), Level: zapcore.InfoLevel}
	stderr := &zapio.Writer{Log: r.Logger.Desugar().With(zap.String("stream", "stderr")), Level: zapcore.WarnLevel}
	defer stdout.Close()
	defer stderr.Close()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.Logger.Infow("starting statistical runtime", "command", r.Command[0], "params", paramPath, "run", p.RunID)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: exit status %d after %s", ErrRuntimeFailed, exitErr.ExitCode(), time.Since(start).Round(time.Millisecond))
		}
		return fmt.Errorf("%w: %w", ErrRuntimeFailed, err)
	}
	r.Logger.Infof("statistical runtime finished in %s", time.Since(start).Round(time.Millisecond))
	return nil
}
