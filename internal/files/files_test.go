// internal/files/files_test.go
package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/poll"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestLatest(t *testing.T) {
	t.Run("should return the newest matching file", func(t *testing.T) {
		dir := t.TempDir()
		now := time.Now()
		touch(t, filepath.Join(dir, "Copy_of_TECH_a.xlsx"), now.Add(-time.Hour))
		touch(t, filepath.Join(dir, "Copy_of_TECH_b.xlsx"), now)
		touch(t, filepath.Join(dir, "Copy_of_TECH_c.csv"), now.Add(time.Hour))
		touch(t, filepath.Join(dir, "Other.xlsx"), now.Add(time.Hour))
		require.NoError(t, os.Mkdir(filepath.Join(dir, "Copy_of_TECH_dir.xlsx"), 0o755))

		a, err := Latest(dir, "Copy_of_TECH", ".xlsx")
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, "Copy_of_TECH_b.xlsx", a.Name)
		assert.Equal(t, filepath.Join(dir, "Copy_of_TECH_b.xlsx"), a.Path)
	})

	t.Run("should return nil when nothing matches", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, filepath.Join(dir, "report.xlsx"), time.Now())

		a, err := Latest(dir, "Copy_of_TECH", ".xlsx")
		require.NoError(t, err)
		assert.Nil(t, a)
	})

	t.Run("should fail on a missing directory", func(t *testing.T) {
		_, err := Latest(filepath.Join(t.TempDir(), "nope"), "Copy_of_TECH", ".xlsx")
		assert.Error(t, err)
	})
}

func TestCanonicalName(t *testing.T) {
	day := time.Date(2026, time.March, 7, 15, 0, 0, 0, time.Local)
	cases := map[string]string{
		"Copy_of_TECH.xlsx":                   "Copy_of_TECH_20260307.xlsx",
		"Copy_of_TECH_20250101.xlsx":          "Copy_of_TECH_20260307.xlsx",
		"Copy_of_TECH_20260307.xlsx":          "Copy_of_TECH_20260307.xlsx",
		"Copy_of_TECH_1234.xlsx":              "Copy_of_TECH_1234_20260307.xlsx",
		"Copy_of_TECH_20250101_20250102.xlsx": "Copy_of_TECH_20250101_20260307.xlsx",
		"noext":                               "noext_20260307",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalName(in, day), in)
	}
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, time.March, 7, 9, 0, 0, 0, time.Local)
	orig := filepath.Join(dir, "Copy_of_TECH (1).xlsx")
	touch(t, orig, time.Now())

	first, err := Rename(orig, day)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Copy_of_TECH (1)_20260307.xlsx"), first)
	assert.NoFileExists(t, orig)

	second, err := Rename(first, day.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.FileExists(t, second)
}

func FuzzCanonicalNameIdempotent(f *testing.F) {
	f.Add([]byte("Copy_of_TECH_20250101.xlsx"))
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		name, err := c.GetString()
		if err != nil || strings.ContainsAny(name, `/\`) {
			return
		}
		day := time.Date(2026, time.October, 17, 0, 0, 0, 0, time.UTC)
		once := CanonicalName(name, day)
		assert.Equal(t, once, CanonicalName(once, day))
	})
}

func TestTracking(t *testing.T) {
	dir := t.TempDir()
	tracking := filepath.Join(dir, "last_downloaded_file.txt")

	got, err := LoadTracking(tracking)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, SaveTracking(tracking, filepath.Join(dir, "a.xlsx")))
	require.NoError(t, SaveTracking(tracking, filepath.Join(dir, "b.xlsx")))

	got, err = LoadTracking(tracking)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.xlsx"), got)

	// No temp files are left next to the target.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPrepare(t *testing.T) {
	dir := t.TempDir()
	paths := config.PathsConfig{
		DownloadsDir:   dir,
		TrackingFile:   filepath.Join(dir, "last_downloaded_file.txt"),
		ArtifactPrefix: "Copy_of_TECH",
		ArtifactSuffix: ".xlsx",
	}
	day := time.Date(2026, time.October, 17, 9, 0, 0, 0, time.Local)

	_, err := Prepare(paths, day)
	assert.True(t, errors.Is(err, ErrNoArtifact))

	touch(t, filepath.Join(dir, "Copy_of_TECH_Telemetria_20261016.xlsx"), day.Add(-time.Minute))
	a, err := Prepare(paths, day)
	require.NoError(t, err)
	assert.Equal(t, "Copy_of_TECH_Telemetria_20261017.xlsx", a.Name)
	assert.FileExists(t, a.Path)

	tracked, err := LoadTracking(paths.TrackingFile)
	require.NoError(t, err)
	assert.Equal(t, a.Path, tracked)

	// Running again the same day changes nothing.
	again, err := Prepare(paths, day)
	require.NoError(t, err)
	assert.Equal(t, a.Path, again.Path)
}

func TestExpandPath(t *testing.T) {
	home, err := homedir.Dir()
	require.NoError(t, err)

	p, err := ExpandPath(`%USERPROFILE%/Documents/report.xlsx`)
	require.NoError(t, err)
	assert.Equal(t, home+"/Documents/report.xlsx", p)

	p, err = ExpandPath("~/report.xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "report.xlsx"), p)

	p, err = ExpandPath("/abs/report.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "/abs/report.xlsx", p)
}

func TestWaitForArtifact(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("should see a file renamed into place", func(t *testing.T) {
		dir := t.TempDir()
		since := time.Now().Add(-time.Second)

		go func() {
			time.Sleep(100 * time.Millisecond)
			partial := filepath.Join(dir, "Copy_of_TECH.xlsx.crdownload")
			_ = os.WriteFile(partial, []byte("data"), 0o644)
			_ = os.Rename(partial, filepath.Join(dir, "Copy_of_TECH.xlsx"))
		}()

		a, err := WaitForArtifact(context.Background(), logger, dir, "Copy_of_TECH", ".xlsx", since, 5*time.Second)
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, "Copy_of_TECH.xlsx", a.Name)
	})

	t.Run("should return an existing fresh file immediately", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, filepath.Join(dir, "Copy_of_TECH.xlsx"), time.Now())

		a, err := WaitForArtifact(context.Background(), logger, dir, "Copy_of_TECH", ".xlsx", time.Now().Add(-time.Minute), time.Second)
		require.NoError(t, err)
		require.NotNil(t, a)
	})

	t.Run("should ignore stale files and time out", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, filepath.Join(dir, "Copy_of_TECH.xlsx"), time.Now().Add(-time.Hour))

		_, err := WaitForArtifact(context.Background(), logger, dir, "Copy_of_TECH", ".xlsx", time.Now().Add(-time.Minute), 200*time.Millisecond)
		assert.True(t, errors.Is(err, poll.ErrTimeout))
	})
}
