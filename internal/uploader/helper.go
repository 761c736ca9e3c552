// internal/uploader/helper.go
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/telemetry-sync/internal/config"
)

// outputDrain bounds how long the helper's output is read after it exits. A
// launcher (py.exe starting python) can leave a grandchild holding the pipes.
var outputDrain = time.Second

// Helper is a running file-picker helper process. Its output is relayed into
// the log line by line until it exits.
type Helper struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	logger *zap.Logger
	stdout *logWriter
	stderr *logWriter

	done chan struct{}
	err  error
	once sync.Once
}

// StartHelper launches the helper with file appended to its arguments. The
// process is killed when ctx ends or Stop gives up on it.
func StartHelper(ctx context.Context, cfg config.HelperConfig, file string, logger *zap.Logger) (*Helper, error) {
	if cfg.Command == "" {
		return nil, errors.New("no helper command configured")
	}
	args := append(append([]string{}, cfg.Args...), file)
	logger = logger.Named("helper").With(zap.String("command", cfg.Command))

	hctx, cancel := context.WithCancel(ctx)
	h := &Helper{
		cancel: cancel,
		logger: logger,
		stdout: &logWriter{logger: logger, level: zapcore.InfoLevel},
		stderr: &logWriter{logger: logger, level: zapcore.WarnLevel},
		done:   make(chan struct{}),
	}
	h.cmd = exec.CommandContext(hctx, cfg.Command, args...)
	h.cmd.Stdout = h.stdout
	h.cmd.Stderr = h.stderr
	h.cmd.WaitDelay = outputDrain
	if err := h.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start helper: %w", err)
	}
	go h.wait()

	logger.Info("File picker helper started.", zap.Int("pid", h.cmd.Process.Pid), zap.Strings("args", args))
	return h, nil
}

// wait reaps the process as soon as it exits so a later cancel cannot turn a
// clean exit into a kill.
func (h *Helper) wait() {
	err := h.cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		h.logger.Debug("Helper exited but its output stayed open; stopped reading.")
		err = nil
	}
	h.err = err
	h.stdout.flush()
	h.stderr.flush()
	h.cancel()
	close(h.done)
}

// Done is closed once the helper has exited.
func (h *Helper) Done() <-chan struct{} { return h.done }

// Stop waits up to grace for the helper to exit on its own, then kills it.
// It returns the helper's exit error, if any. Including the output drain it
// returns within grace plus a second.
func (h *Helper) Stop(grace time.Duration) error {
	h.once.Do(func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-h.done:
		case <-timer.C:
			h.logger.Warn("Helper still running; stopping it.", zap.Duration("grace", grace))
			h.cancel()
			<-h.done
		}
		if h.err != nil {
			h.logger.Warn("Helper exited with an error.", zap.Error(h.err))
		} else {
			h.logger.Info("Helper finished.")
		}
	})
	<-h.done
	return h.err
}

// logWriter turns a byte stream into one log entry per non-empty line.
type logWriter struct {
	logger *zap.Logger
	level  zapcore.Level

	mu  sync.Mutex
	buf []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// flush logs a trailing line without a newline.
func (w *logWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(w.buf)
	w.buf = nil
}

func (w *logWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	if ce := w.logger.Check(w.level, string(line)); ce != nil {
		ce.Write()
	}
}
