// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/files"
	"github.com/xkilldash9x/telemetry-sync/internal/observability"
	"github.com/xkilldash9x/telemetry-sync/internal/uploader"
	"github.com/xkilldash9x/telemetry-sync/internal/validate"
)

// testEnv is a scratch workspace with its own config file.
type testEnv struct {
	dir       string
	downloads string
	sessions  string
	profiles  string
	tracking  string
	cfgFile   string
}

// newTestEnv writes a config file rooted in a temp dir, clears the legacy
// environment and silences the global logger.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	for _, name := range config.LegacyEnvNames() {
		t.Setenv(name, "")
	}

	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "error", Format: "console"}, zapcore.AddSync(io.Discard), observability.Run{})
	t.Cleanup(observability.ResetForTest)

	dir := t.TempDir()
	e := &testEnv{
		dir:       dir,
		downloads: filepath.Join(dir, "downloads"),
		sessions:  filepath.Join(dir, "session-data"),
		profiles:  filepath.Join(dir, "profiles"),
		tracking:  filepath.Join(dir, "last_downloaded_file.txt"),
		cfgFile:   filepath.Join(dir, "config.yaml"),
	}
	require.NoError(t, os.MkdirAll(e.downloads, 0o755))

	content := fmt.Sprintf(`
logger:
  log_file: ""
paths:
  session_dir: %q
  profile_root: %q
  downloads_dir: %q
  tracking_file: %q
`, e.sessions, e.profiles, e.downloads, e.tracking)
	require.NoError(t, os.WriteFile(e.cfgFile, []byte(content), 0o644))
	return e
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.cfgFile}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	e := newTestEnv(t)

	out, err := e.run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "telemetry-sync version dev\n", out)

	out, err = e.run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "telemetry-sync version dev")
}

func TestCheckConfig(t *testing.T) {
	t.Run("missing required keys", func(t *testing.T) {
		e := newTestEnv(t)
		out, err := e.run(t, "check-config")

		var missing *config.MissingKeysError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"SALESFORCE_URL", "SF_USER", "SHAREPOINT_URL"}, missing.Keys)
		assert.Contains(t, out, "X   SALESFORCE_URL")
		assert.Contains(t, out, "(not set)")
	})

	t.Run("complete with masked secrets", func(t *testing.T) {
		e := newTestEnv(t)
		t.Setenv("SALESFORCE_URL", "https://analytics.example.com")
		t.Setenv("SF_USER", "ops@example.com")
		t.Setenv("SF_PASSWORD", "hunter2")
		t.Setenv("SHAREPOINT_URL", "https://files.example.com")

		out, err := e.run(t, "check-config")
		require.NoError(t, err)
		assert.Contains(t, out, "OK  SF_USER")
		assert.Contains(t, out, "ops@example.com")
		assert.NotContains(t, out, "hunter2")
		assert.Contains(t, out, "********")
		// The workspace inherits the analytics identity.
		assert.Contains(t, out, "WORKSPACE_PASSWORD")
		assert.Contains(t, out, "(created on first run)")
	})
}

func TestRequiredKeysGateCommands(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{args: []string{"download"}, want: []string{"SALESFORCE_URL", "SF_USER"}},
		{args: []string{"upload"}, want: []string{"SHAREPOINT_URL"}},
		{args: []string{"refresh"}, want: []string{"WORKSPACE_URL"}},
		{args: []string{"refresh", "--workspace", "KPIS"}, want: []string{"KPIS_URL"}},
		{args: []string{"pipeline"}, want: []string{"SALESFORCE_URL", "SF_USER", "SHAREPOINT_URL"}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			e := newTestEnv(t)
			_, err := e.run(t, tt.args...)
			var missing *config.MissingKeysError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, tt.want, missing.Keys)
		})
	}
}

func TestUploadWithoutFile(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv("SHAREPOINT_URL", "https://files.example.com")
	t.Setenv("FILE_PATH", filepath.Join(e.dir, "missing.xlsx"))

	_, err := e.run(t, "upload")
	require.ErrorIs(t, err, uploader.ErrNoFile)
	// No browser was started, so no profile exists.
	assert.NoDirExists(t, e.profiles)
}

func TestPrepare(t *testing.T) {
	t.Run("renames and tracks the newest export", func(t *testing.T) {
		e := newTestEnv(t)
		src := filepath.Join(e.downloads, "Copy_of_TECH Report.xlsx")
		require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

		out, err := e.run(t, "prepare")
		require.NoError(t, err)

		path := strings.TrimSpace(out)
		assert.FileExists(t, path)
		assert.NoFileExists(t, src)
		tracked, err := files.LoadTracking(e.tracking)
		require.NoError(t, err)
		assert.Equal(t, path, tracked)
	})

	t.Run("nothing downloaded", func(t *testing.T) {
		e := newTestEnv(t)
		_, err := e.run(t, "prepare")
		require.ErrorIs(t, err, files.ErrNoArtifact)
	})
}

func TestValidateCmd(t *testing.T) {
	t.Run("no tracked file", func(t *testing.T) {
		e := newTestEnv(t)
		_, err := e.run(t, "validate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no tracked file")
	})

	t.Run("not a workbook", func(t *testing.T) {
		e := newTestEnv(t)
		bad := filepath.Join(e.dir, "bad.xlsx")
		require.NoError(t, os.WriteFile(bad, []byte("plain text"), 0o644))

		_, err := e.run(t, "validate", "--file", bad)
		require.ErrorIs(t, err, validate.ErrInvalid)
	})
}

func TestClearCredentials(t *testing.T) {
	seed := func(t *testing.T, e *testEnv, site string) {
		t.Helper()
		dir := filepath.Join(e.sessions, site)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cookies_"+site+".json"), []byte("[]"), 0o600))
		require.NoError(t, os.MkdirAll(filepath.Join(e.profiles, "user-data-"+site, "Default"), 0o755))
	}

	t.Run("all sites", func(t *testing.T) {
		e := newTestEnv(t)
		seed(t, e, "salesforce")
		seed(t, e, "workspace")

		out, err := e.run(t, "clear-credentials")
		require.NoError(t, err)
		assert.Contains(t, out, "Cleared: salesforce, sharepoint, workspace")
		assert.NoFileExists(t, filepath.Join(e.sessions, "salesforce", "cookies_salesforce.json"))
		assert.NoDirExists(t, filepath.Join(e.profiles, "user-data-workspace"))
	})

	t.Run("one site", func(t *testing.T) {
		e := newTestEnv(t)
		seed(t, e, "salesforce")
		seed(t, e, "workspace")

		_, err := e.run(t, "clear-credentials", "--site", "Workspace")
		require.NoError(t, err)
		assert.NoDirExists(t, filepath.Join(e.profiles, "user-data-workspace"))
		assert.FileExists(t, filepath.Join(e.sessions, "salesforce", "cookies_salesforce.json"))
	})

	t.Run("unknown site", func(t *testing.T) {
		e := newTestEnv(t)
		_, err := e.run(t, "clear-credentials", "--site", "jira")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown site "jira"`)
	})
}

func TestStatus(t *testing.T) {
	e := newTestEnv(t)
	dir := filepath.Join(e.sessions, "sharepoint")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	cookies := `[{"name":"FedAuth","value":"x","domain":".example.com","path":"/","expires":-1}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cookies_sharepoint.json"), []byte(cookies), 0o600))

	out, err := e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "salesforce  no stored session (profile: no)")
	assert.Contains(t, out, "sharepoint  1 cookie(s), earliest expiry never")
}
