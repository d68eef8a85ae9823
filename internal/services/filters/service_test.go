package filters

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fgeck/makebackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPacmanService struct {
	ownedFunc    func(ctx context.Context) ([]string, error)
	modifiedFunc func(ctx context.Context) ([]string, error)
	explicitFunc func(ctx context.Context, foreign bool) ([]byte, error)
}

func (m *mockPacmanService) OwnedFiles(ctx context.Context) ([]string, error) {
	if m.ownedFunc != nil {
		return m.ownedFunc(ctx)
	}
	return nil, nil
}

func (m *mockPacmanService) ModifiedFiles(ctx context.Context) ([]string, error) {
	if m.modifiedFunc != nil {
		return m.modifiedFunc(ctx)
	}
	return nil, nil
}

func (m *mockPacmanService) ExplicitPackages(ctx context.Context, foreign bool) ([]byte, error) {
	if m.explicitFunc != nil {
		return m.explicitFunc(ctx, foreign)
	}
	return nil, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testSettings(t *testing.T) models.FilterSettings {
	t.Helper()
	dir := t.TempDir()
	settings := models.FilterSettings{
		RepoDir:    dir,
		GlobalFile: filepath.Join(dir, "makebackup_global.excludes"),
		LocalFile:  filepath.Join(dir, "makebackup_local.excludes"),
		WorkDir:    t.TempDir(),
	}
	require.NoError(t, os.WriteFile(settings.GlobalFile, []byte("-var/tmp/*\n"), 0o600))
	require.NoError(t, os.WriteFile(settings.LocalFile, []byte("-srv/scratch/*\n"), 0o600))
	return settings
}

func fixedPacman() *mockPacmanService {
	return &mockPacmanService{
		ownedFunc: func(context.Context) ([]string, error) {
			return []string{"/usr/bin/bash", "/etc/bash.bashrc", "/usr/lib/libc.so.6"}, nil
		},
		modifiedFunc: func(context.Context) ([]string, error) {
			return []string{"/etc/bash.bashrc"}, nil
		},
	}
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, TempPrefix+"*"))
	require.NoError(t, err)
	return matches
}

func TestBuild_WritesBlacklist(t *testing.T) {
	settings := testSettings(t)
	svc := NewWithPacman(testLogger(), fixedPacman())

	result, err := svc.Build(context.Background(), settings)

	require.NoError(t, err)
	assert.Equal(t, 3, result.OwnedFiles)
	assert.Equal(t, 1, result.ModifiedFiles)
	assert.Equal(t, 2, result.ExcludedFiles)
	assert.Equal(t, 1, result.GlobalPatterns)
	assert.Equal(t, 1, result.LocalPatterns)
	assert.True(t, strings.HasPrefix(filepath.Base(result.Path), TempPrefix+"blacklist-"))

	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t,
		"-usr/bin/bash\n-usr/lib/libc.so.6\n-var/tmp/*\n-srv/scratch/*\n-home/*/.duplicacy/cache\n-root/.duplicacy/cache\n",
		string(data))
}

func TestBuild_MissingLocalListIsSkipped(t *testing.T) {
	settings := testSettings(t)
	require.NoError(t, os.Remove(settings.LocalFile))
	svc := NewWithPacman(testLogger(), fixedPacman())

	result, err := svc.Build(context.Background(), settings)

	require.NoError(t, err)
	assert.Equal(t, 0, result.LocalPatterns)
}

func TestBuild_MissingGlobalListFails(t *testing.T) {
	settings := testSettings(t)
	require.NoError(t, os.Remove(settings.GlobalFile))
	svc := NewWithPacman(testLogger(), fixedPacman())

	_, err := svc.Build(context.Background(), settings)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "global excludes")
	assert.Empty(t, tempFiles(t, settings.WorkDir))
}

func TestBuild_PacmanFailure(t *testing.T) {
	settings := testSettings(t)
	svc := NewWithPacman(testLogger(), &mockPacmanService{
		ownedFunc: func(context.Context) ([]string, error) {
			return nil, errors.New("database locked")
		},
	})

	_, err := svc.Build(context.Background(), settings)

	require.Error(t, err)
	assert.Empty(t, tempFiles(t, settings.WorkDir))
}

func TestBuild_CheckFailureSkipsTempFile(t *testing.T) {
	settings := testSettings(t)
	mock := fixedPacman()
	mock.modifiedFunc = func(context.Context) ([]string, error) {
		return nil, errors.New("paccheck crashed")
	}
	svc := NewWithPacman(testLogger(), mock)

	_, err := svc.Build(context.Background(), settings)

	require.Error(t, err)
	assert.Empty(t, tempFiles(t, settings.WorkDir))
}

func TestBuild_ConcurrentRunsGetDistinctFiles(t *testing.T) {
	settings := testSettings(t)
	svc := NewWithPacman(testLogger(), fixedPacman())

	first, err := svc.Build(context.Background(), settings)
	require.NoError(t, err)
	second, err := svc.Build(context.Background(), settings)
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
}

func TestInstall_MovesBlacklistAndCleansUp(t *testing.T) {
	settings := testSettings(t)
	svc := NewWithPacman(testLogger(), fixedPacman())
	result, err := svc.Build(context.Background(), settings)
	require.NoError(t, err)
	built, err := os.ReadFile(result.Path)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), ".duplicacy", "filters")
	require.NoError(t, svc.Install(result, dest))

	installed, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, built, installed)
	assert.Empty(t, tempFiles(t, settings.WorkDir), "temp files must not survive a successful install")
}

func TestInstall_NothingBuilt(t *testing.T) {
	svc := NewWithPacman(testLogger(), fixedPacman())

	assert.Error(t, svc.Install(nil, filepath.Join(t.TempDir(), "filters")))
}
