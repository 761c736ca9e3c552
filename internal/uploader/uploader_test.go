package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/mocks"
	"github.com/xkilldash9x/telemetry-sync/internal/sessionstore"
)

const helperEnv = "TSYNC_TEST_HELPER"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestHelperProcess stands in for the file-picker helper. It only does
// something when started by helperConfig.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}
	file := os.Args[len(os.Args)-1]
	switch mode {
	case "ok":
		fmt.Println("dialog found")
		fmt.Println("selected " + file)
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "dialog not found")
		os.Exit(3)
	case "hang":
		fmt.Println("waiting for dialog")
		time.Sleep(time.Minute)
		os.Exit(0)
	case "launch":
		// Like py.exe: start the real worker on the same pipes and exit.
		worker := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$", "--", file)
		worker.Env = append(os.Environ(), helperEnv+"=linger")
		worker.Stdout = os.Stdout
		worker.Stderr = os.Stderr
		if err := worker.Start(); err != nil {
			os.Exit(4)
		}
		fmt.Println("launched")
		os.Exit(0)
	case "linger":
		time.Sleep(8 * time.Second)
		os.Exit(0)
	}
}

func helperConfig(t *testing.T, mode string) config.HelperConfig {
	t.Helper()
	t.Setenv(helperEnv, mode)
	return config.HelperConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=^TestHelperProcess$", "--"},
	}
}

func TestResolveSource(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	tracked := filepath.Join(dir, "Copy_of_TECH_20261017.xlsx")
	configured := filepath.Join(dir, "manual.xlsx")
	require.NoError(t, os.WriteFile(tracked, []byte("PK"), 0o644))
	require.NoError(t, os.WriteFile(configured, []byte("PK"), 0o644))

	trackingFile := filepath.Join(dir, "last_downloaded_file.txt")
	paths := config.PathsConfig{TrackingFile: trackingFile}

	t.Run("should prefer the tracked file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(trackingFile, []byte(tracked+"\n"), 0o644))
		got, err := ResolveSource(paths, config.SharePointConfig{FilePath: configured}, logger)
		require.NoError(t, err)
		assert.Equal(t, tracked, got)
	})

	t.Run("should fall back to FILE_PATH when the tracked file is gone", func(t *testing.T) {
		require.NoError(t, os.WriteFile(trackingFile, []byte(filepath.Join(dir, "deleted.xlsx")), 0o644))
		got, err := ResolveSource(paths, config.SharePointConfig{FilePath: configured}, logger)
		require.NoError(t, err)
		assert.Equal(t, configured, got)
	})

	t.Run("should report no file", func(t *testing.T) {
		require.NoError(t, os.Remove(trackingFile))
		_, err := ResolveSource(paths, config.SharePointConfig{FilePath: filepath.Join(dir, "absent.xlsx")}, logger)
		assert.ErrorIs(t, err, ErrNoFile)

		_, err = ResolveSource(paths, config.SharePointConfig{}, logger)
		assert.ErrorIs(t, err, ErrNoFile)
	})
}

func TestStartHelper(t *testing.T) {
	ctx := context.Background()

	t.Run("should relay output and report success", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		h, err := StartHelper(ctx, helperConfig(t, "ok"), "/tmp/report.xlsx", zap.New(core))
		require.NoError(t, err)

		require.NoError(t, h.Stop(10*time.Second))
		assert.Equal(t, 1, logs.FilterMessage("selected /tmp/report.xlsx").Len())
		assert.Equal(t, 1, logs.FilterMessage("Helper finished.").Len())
	})

	t.Run("should relay stderr and surface the exit code", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		h, err := StartHelper(ctx, helperConfig(t, "fail"), "/tmp/report.xlsx", zap.New(core))
		require.NoError(t, err)

		err = h.Stop(10 * time.Second)
		var exitErr *exec.ExitError
		require.True(t, errors.As(err, &exitErr), "got %v", err)
		assert.Equal(t, 3, exitErr.ExitCode())
		relayed := logs.FilterMessage("dialog not found").All()
		require.Len(t, relayed, 1)
		assert.Equal(t, zap.WarnLevel, relayed[0].Level)
	})

	t.Run("should kill a helper that outlives the grace period", func(t *testing.T) {
		h, err := StartHelper(ctx, helperConfig(t, "hang"), "/tmp/report.xlsx", zaptest.NewLogger(t))
		require.NoError(t, err)

		start := time.Now()
		assert.Error(t, h.Stop(100*time.Millisecond))
		assert.Less(t, time.Since(start), 30*time.Second)
		select {
		case <-h.Done():
		default:
			t.Fatal("helper should have exited")
		}
	})

	t.Run("should not wait on output held open by a child of the helper", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		h, err := StartHelper(ctx, helperConfig(t, "launch"), "/tmp/report.xlsx", zap.New(core))
		require.NoError(t, err)

		// The worker keeps the pipes for 8s; the helper itself exits at once.
		start := time.Now()
		require.NoError(t, h.Stop(6*time.Second))
		assert.Less(t, time.Since(start), 4*time.Second)
		assert.Equal(t, 1, logs.FilterMessage("launched").Len())
		assert.Equal(t, 1, logs.FilterMessage("Helper finished.").Len())
		assert.Zero(t, logs.FilterMessage("Helper exited with an error.").Len())
	})

	t.Run("should reject an empty command", func(t *testing.T) {
		_, err := StartHelper(ctx, config.HelperConfig{}, "/tmp/report.xlsx", zaptest.NewLogger(t))
		assert.Error(t, err)
	})
}

func TestLogWriter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := &logWriter{logger: zap.New(core), level: zap.WarnLevel}

	_, _ = w.Write([]byte("first li"))
	_, _ = w.Write([]byte("ne\r\n\nsecond\nthi"))
	w.flush()

	var got []string
	for _, e := range logs.All() {
		assert.Equal(t, zap.WarnLevel, e.Level)
		got = append(got, e.Message)
	}
	assert.Equal(t, []string{"first line", "second", "thi"}, got)
}

const (
	libraryHTML = `<body><div role="toolbar">
		<button data-automationid="newCommand">Nuevo</button>
		<button data-automationid="uploadCommand">Cargar</button>
	</div></body>`
	uploadMenuHTML = `<body><div role="menu">
		<button data-automationid="uploadFileCommand">Archivos</button>
		<button data-automationid="uploadFolderCommand">Carpeta</button>
	</div></body>`
)

func testTiming() config.TimingConfig {
	return config.TimingConfig{
		Short:        10 * time.Second,
		UploadSettle: time.Millisecond,
		HelperWait:   time.Millisecond,
		MenuAppear:   60 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}
}

func newUploader(t *testing.T, page *mocks.FakePage, helper config.HelperConfig) (*Uploader, *sessionstore.Store) {
	t.Helper()
	root := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.TimingCfg = testTiming()
	cfg.PathsCfg.SessionDir = filepath.Join(root, "session-data")
	cfg.PathsCfg.ProfileRoot = root
	cfg.SharePointCfg = config.SharePointConfig{URL: "https://portal.example.com/sites/telemetria", Helper: helper}

	store := sessionstore.New(cfg.Paths(), zaptest.NewLogger(t))
	return &Uploader{Page: page, Store: store, Config: cfg, Logger: zaptest.NewLogger(t)}, store
}

func TestUploaderRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should click through the upload menu with the helper running", func(t *testing.T) {
		page := mocks.NewFakePage(`<body></body>`)
		page.OnNavigate = func(p *mocks.FakePage, url string) { p.SetHTML(libraryHTML) }
		page.OnClick = func(p *mocks.FakePage, n *dom.Node) {
			if n.Attr("data-automationid") == "uploadCommand" {
				p.SetHTML(uploadMenuHTML)
			}
		}
		u, store := newUploader(t, page, helperConfig(t, "ok"))

		require.NoError(t, u.Run(ctx, "/tmp/Copy_of_TECH_20261017.xlsx"))
		assert.Equal(t, []string{"Cargar", "Archivos"}, page.Clicked())
		navs := page.ActionsOf("navigate")
		require.Len(t, navs, 1)
		assert.Equal(t, "https://portal.example.com/sites/telemetria", navs[0].Value)
		assert.FileExists(t, store.Paths(sessionstore.SharePoint).Cookies)
	})

	t.Run("should fail when the upload control is missing", func(t *testing.T) {
		page := mocks.NewFakePage(`<body></body>`)
		page.OnNavigate = func(p *mocks.FakePage, url string) { p.SetHTML(`<body><p>Acceso denegado</p></body>`) }
		u, _ := newUploader(t, page, helperConfig(t, "ok"))

		err := u.Run(ctx, "/tmp/Copy_of_TECH_20261017.xlsx")
		assert.ErrorIs(t, err, ErrControlNotFound)
		assert.Empty(t, page.Clicked())
	})

	t.Run("should not click when the helper cannot start", func(t *testing.T) {
		page := mocks.NewFakePage(libraryHTML)
		u, _ := newUploader(t, page, config.HelperConfig{})
		u.StartHelper = func(context.Context, string) (*Helper, error) {
			return nil, errors.New("py not found")
		}

		assert.Error(t, u.Run(ctx, "/tmp/Copy_of_TECH_20261017.xlsx"))
		assert.Empty(t, page.Clicked())
	})
}
