// Package worker invokes the external annotation worker binary. Only the exit
// status of the process is interpreted; its output is kept for logging.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
)

// Runner runs one worker invocation.
type Runner interface {
	Run(ctx context.Context, args []string, env map[string]string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, args []string, env map[string]string) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, args []string, env map[string]string) error {
	return f(ctx, args, env)
}

// ExecRunner starts the worker as a child process.
type ExecRunner struct {
	Executable string
	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration
	log     *logrus.Logger
}

// NewExecRunner creates a runner for the given executable
func NewExecRunner(executable string, timeout time.Duration, logger *logrus.Logger) *ExecRunner {
	return &ExecRunner{
		Executable: executable,
		Timeout:    timeout,
		log:        logger,
	}
}

// Run executes the worker with args. The process inherits the environment
// of the service extended by env and LC_ALL=C. A non-zero exit status, a
// timeout or a cancelled context yields a *domain.WorkerError.
func (r *ExecRunner) Run(ctx context.Context, args []string, env map[string]string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Executable, args...)
	cmd.Env = BuildEnv(os.Environ(), env)
	output := &tailBuffer{limit: 8 << 10}
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = 5 * time.Second

	fields := logrus.Fields{
		"executable": r.Executable,
		"args":       args,
	}
	r.log.WithFields(fields).Info("Running worker")
	start := time.Now()

	err := cmd.Run()
	fields["elapsed"] = time.Since(start).String()
	if err == nil {
		r.log.WithFields(fields).Debug("Worker finished")
		return nil
	}

	werr := &domain.WorkerError{Args: args, ExitCode: -1, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		werr.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		werr.Err = fmt.Errorf("%w (%v)", context.Cause(ctx), err)
	}
	fields["exit_code"] = werr.ExitCode
	fields["output"] = output.String()
	r.log.WithFields(fields).Error("Worker failed")
	return werr
}

// BuildEnv returns base extended by extra and LC_ALL=C. Entries of extra
// override those of base.
func BuildEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := append([]string{}, base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	// Later entries win for duplicate keys.
	return append(env, "LC_ALL=C")
}

// StorageEnv returns the AWS style variables that give the worker access to
// the internal object storage.
func StorageEnv(cfg domain.InternalStorageConfig) map[string]string {
	scheme := "http"
	if cfg.UseHTTPS {
		scheme = "https"
	}
	endpoint := scheme + "://" + cfg.Host
	if cfg.Port != 0 {
		endpoint += ":" + strconv.Itoa(cfg.Port)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return map[string]string{
		"AWS_ACCESS_KEY_ID":     cfg.AccessKey,
		"AWS_SECRET_ACCESS_KEY": cfg.SecretKey,
		"AWS_ENDPOINT_URL":      endpoint,
		"AWS_REGION":            region,
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
