// internal/pipeline/pipeline.go
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// outputDrain bounds how long a step's output is read after the step exits.
var outputDrain = 2 * time.Second

// maxLine caps a buffered partial line.
const maxLine = 1 << 20

// SkipWorkspace is the workspace id that disables the refresh step.
const SkipWorkspace = "nada"

// Step is one subcommand run as a child process.
type Step struct {
	Name string
	Args []string
}

// Options select the steps and the flags passed to them.
type Options struct {
	Workspace   string
	ManualLogin bool
	Supervised  bool
}

// Plan returns download, validate, upload and, when a workspace is
// selected, refresh.
func Plan(opts Options) []Step {
	var common []string
	if opts.Supervised {
		common = append(common, "--supervised")
	}
	withLogin := common
	if opts.ManualLogin {
		withLogin = append([]string{"--manual-login"}, common...)
	}

	steps := []Step{
		{Name: "download", Args: withLogin},
		{Name: "validate"},
		{Name: "upload", Args: withLogin},
	}
	ws := strings.ToLower(strings.TrimSpace(opts.Workspace))
	if ws != "" && ws != SkipWorkspace {
		steps = append(steps, Step{Name: "refresh", Args: append([]string{"--workspace", ws}, common...)})
	}
	return steps
}

// StepError reports a step that exited unsuccessfully.
type StepError struct {
	Step string
	Code int
	Err  error
}

func (e *StepError) Error() string {
	if e.Code >= 0 {
		return fmt.Sprintf("step %s exited with code %d", e.Step, e.Code)
	}
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepResult is the outcome of one step.
type StepResult struct {
	Step    string
	Elapsed time.Duration
	Err     error
}

// Report summarizes a pipeline run.
type Report struct {
	Steps []StepResult
	Total time.Duration
}

// Runner executes steps sequentially, stopping at the first failure.
type Runner struct {
	// Executable is the binary started for each step.
	Executable string
	// GlobalArgs precede the step name, e.g. the config file flag.
	GlobalArgs []string
	Logger     *zap.Logger
	// Stdout and Stderr receive the children's output; nil means the
	// process's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes steps in order. The returned report covers every step that
// was started, including the failing one.
func (r *Runner) Run(ctx context.Context, steps []Step) (*Report, error) {
	logger := r.Logger.Named("pipeline")
	report := &Report{}
	start := time.Now()
	defer func() { report.Total = time.Since(start) }()

	for i, step := range steps {
		logger.Info("Starting step.",
			zap.String("step", step.Name),
			zap.Int("index", i+1),
			zap.Int("of", len(steps)),
			zap.Strings("args", step.Args),
		)
		began := time.Now()
		err := r.runStep(ctx, step)
		res := StepResult{Step: step.Name, Elapsed: time.Since(began), Err: err}
		report.Steps = append(report.Steps, res)

		if err != nil {
			logger.Error("Step failed; stopping the pipeline.",
				zap.String("step", step.Name),
				zap.Duration("elapsed", res.Elapsed),
				zap.Duration("total", time.Since(start)),
				zap.Error(err),
			)
			return report, err
		}
		logger.Info("Step completed.", zap.String("step", step.Name), zap.Duration("elapsed", res.Elapsed))
	}

	logger.Info("Pipeline completed.", zap.Duration("total", time.Since(start)))
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, step Step) error {
	args := append(append(append([]string{}, r.GlobalArgs...), step.Name), step.Args...)
	var mu sync.Mutex
	stdout := &lineWriter{w: orDefault(r.Stdout, os.Stdout), mu: &mu}
	stderr := &lineWriter{w: orDefault(r.Stderr, os.Stderr), mu: &mu}

	cmd := exec.CommandContext(ctx, r.Executable, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = outputDrain
	if err := cmd.Start(); err != nil {
		return &StepError{Step: step.Name, Code: -1, Err: err}
	}

	err := cmd.Wait()
	stdout.flush()
	stderr.flush()
	if errors.Is(err, exec.ErrWaitDelay) {
		r.Logger.Warn("Step exited but its output stayed open; stopped reading.", zap.String("step", step.Name))
		err = nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &StepError{Step: step.Name, Code: exitErr.ExitCode(), Err: err}
		}
		return &StepError{Step: step.Name, Code: -1, Err: err}
	}
	if werr := errors.Join(stdout.err, stderr.err); werr != nil {
		r.Logger.Warn("Lost part of a step's output.", zap.String("step", step.Name), zap.Error(werr))
	}
	return nil
}

// lineWriter forwards whole lines to w so the two streams of a child do not
// interleave mid-line. A failing w drops output but never blocks the child.
type lineWriter struct {
	w   io.Writer
	mu  *sync.Mutex
	buf []byte
	err error
}

func (l *lineWriter) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	i := bytes.LastIndexByte(l.buf, '\n')
	if i < 0 {
		if len(l.buf) > maxLine {
			l.emit(append(l.buf, '\n'))
			l.buf = l.buf[:0]
		}
		return len(p), nil
	}
	l.emit(l.buf[:i+1])
	l.buf = append(l.buf[:0], l.buf[i+1:]...)
	return len(p), nil
}

func (l *lineWriter) flush() {
	if len(l.buf) > 0 {
		l.emit(append(l.buf, '\n'))
		l.buf = nil
	}
}

func (l *lineWriter) emit(lines []byte) {
	if l.err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, l.err = l.w.Write(lines)
}

func orDefault(w, def io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return def
}
