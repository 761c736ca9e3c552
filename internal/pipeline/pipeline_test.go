package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

const (
	childEnv     = "TSYNC_TEST_CHILD"
	childFailEnv = "TSYNC_TEST_CHILD_FAIL"
	// childSpawnEnv names a step that leaves a background process holding
	// its output when it exits.
	childSpawnEnv = "TSYNC_TEST_CHILD_SPAWN"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestChildProcess plays the role of the telemetry-sync binary for Runner.
func TestChildProcess(t *testing.T) {
	switch os.Getenv(childEnv) {
	case "1":
	case "linger":
		time.Sleep(8 * time.Second)
		os.Exit(0)
	default:
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	fmt.Printf("ran %s\n", strings.Join(args, " "))
	if len(args) > 0 && args[0] == os.Getenv(childSpawnEnv) {
		bg := exec.Command(os.Args[0], "-test.run=^TestChildProcess$")
		bg.Env = append(os.Environ(), childEnv+"=linger")
		bg.Stdout = os.Stdout
		bg.Stderr = os.Stderr
		if err := bg.Start(); err != nil {
			os.Exit(5)
		}
	}
	if len(args) > 0 && args[0] == os.Getenv(childFailEnv) {
		fmt.Fprintf(os.Stderr, "%s failed\n", args[0])
		os.Exit(2)
	}
	os.Exit(0)
}

// syncBuffer is a bytes.Buffer safe for the two relay goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newRunner(t *testing.T, failStep string) (*Runner, *syncBuffer, *syncBuffer) {
	t.Helper()
	t.Setenv(childEnv, "1")
	t.Setenv(childFailEnv, failStep)
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	return &Runner{
		Executable: os.Args[0],
		GlobalArgs: []string{"-test.run=^TestChildProcess$", "--"},
		Logger:     zaptest.NewLogger(t),
		Stdout:     stdout,
		Stderr:     stderr,
	}, stdout, stderr
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []Step
	}{
		{
			name: "defaults",
			want: []Step{{Name: "download"}, {Name: "validate"}, {Name: "upload"}},
		},
		{
			name: "skip word disables the refresh",
			opts: Options{Workspace: "NADA"},
			want: []Step{{Name: "download"}, {Name: "validate"}, {Name: "upload"}},
		},
		{
			name: "all flags",
			opts: Options{Workspace: "Kpis", ManualLogin: true, Supervised: true},
			want: []Step{
				{Name: "download", Args: []string{"--manual-login", "--supervised"}},
				{Name: "validate"},
				{Name: "upload", Args: []string{"--manual-login", "--supervised"}},
				{Name: "refresh", Args: []string{"--workspace", "kpis", "--supervised"}},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, Plan(tc.opts)); diff != "" {
				t.Errorf("Plan() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunnerRun(t *testing.T) {
	ctx := context.Background()
	steps := Plan(Options{Workspace: "kpis"})

	t.Run("should run every step in order", func(t *testing.T) {
		r, stdout, _ := newRunner(t, "")

		report, err := r.Run(ctx, steps)
		require.NoError(t, err)
		require.Len(t, report.Steps, 4)
		for _, s := range report.Steps {
			assert.NoError(t, s.Err)
		}
		assert.GreaterOrEqual(t, report.Total, report.Steps[0].Elapsed)
		assert.Equal(t,
			"ran download\nran validate\nran upload\nran refresh --workspace kpis\n",
			stdout.String())
	})

	t.Run("should stop at the first failing step", func(t *testing.T) {
		r, stdout, stderr := newRunner(t, "validate")

		report, err := r.Run(ctx, steps)
		var stepErr *StepError
		require.True(t, errors.As(err, &stepErr), "got %v", err)
		assert.Equal(t, "validate", stepErr.Step)
		assert.Equal(t, 2, stepErr.Code)

		require.Len(t, report.Steps, 2)
		assert.Equal(t, "validate", report.Steps[1].Step)
		assert.NotContains(t, stdout.String(), "ran upload")
		assert.Equal(t, "validate failed\n", stderr.String())
	})

	t.Run("should not wait on output held by a background process", func(t *testing.T) {
		r, stdout, _ := newRunner(t, "")
		t.Setenv(childSpawnEnv, "download")

		start := time.Now()
		report, err := r.Run(ctx, steps[:2])
		require.NoError(t, err)
		require.Len(t, report.Steps, 2)
		// The background process keeps the pipe for 8s.
		assert.Less(t, time.Since(start), 6*time.Second)
		assert.Equal(t, "ran download\nran validate\n", stdout.String())
	})

	t.Run("should report a binary that cannot start", func(t *testing.T) {
		r := &Runner{Executable: "/nonexistent/telemetry-sync", Logger: zaptest.NewLogger(t)}

		_, err := r.Run(ctx, steps)
		var stepErr *StepError
		require.True(t, errors.As(err, &stepErr))
		assert.Equal(t, -1, stepErr.Code)
		assert.Equal(t, "download", stepErr.Step)
	})

	t.Run("should not start steps after cancellation", func(t *testing.T) {
		r, stdout, _ := newRunner(t, "")
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := r.Run(cctx, steps)
		assert.Error(t, err)
		assert.Empty(t, stdout.String())
	})
}
