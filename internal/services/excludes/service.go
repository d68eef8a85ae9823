// Package excludes keeps the shared global exclude list up to date.
package excludes

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/makebackup/internal/cmdexec"
	"github.com/fgeck/makebackup/internal/fileutil"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/rs/zerolog"
)

// DefaultGlobalURL is where the shared global exclude list is published.
const DefaultGlobalURL = "https://raw.githubusercontent.com/RubenKelevra/duplicacy-backup/master/makebackup_global.excludes"

// Source says how the global exclude list was refreshed.
type Source string

// Refresh sources.
const (
	SourceGit     Source = "git"
	SourceHTTP    Source = "http"
	SourceSkipped Source = "skipped"
)

// Service defines the interface for refreshing the global excludes.
type Service interface {
	Refresh(ctx context.Context, settings models.FilterSettings) (Source, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the excludes Service interface.
type Impl struct {
	executor   cmdexec.CommandExecutor
	httpClient HTTPClient
	logger     zerolog.Logger
}

// New creates a new excludes service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &cmdexec.DefaultExecutor{},
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// NewWithClients creates a new excludes service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, executor cmdexec.CommandExecutor, httpClient HTTPClient) *Impl {
	return &Impl{
		executor:   executor,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Refresh updates the global exclude list. A git checkout in RepoDir is
// pulled; otherwise the list is downloaded from GlobalURL.
func (s *Impl) Refresh(ctx context.Context, settings models.FilterSettings) (Source, error) {
	if !settings.FetchGlobal {
		s.logger.Info().Str("file", settings.GlobalFile).Msg("global exclude refresh disabled")
		return SourceSkipped, nil
	}

	if isGitCheckout(settings.RepoDir) {
		s.logger.Info().Str("dir", settings.RepoDir).Msg("updating global excludes via git pull")
		if _, err := s.executor.ExecuteIn(ctx, settings.RepoDir, "git", "pull", "-q"); err != nil {
			return SourceGit, errors.Wrap(err, "git pull failed")
		}
		return SourceGit, nil
	}

	s.logger.Info().Str("url", settings.GlobalURL).Msg("fetching latest global excludes")
	if err := s.download(ctx, settings.GlobalURL, settings.GlobalFile); err != nil {
		return SourceHTTP, err
	}
	return SourceHTTP, nil
}

func (s *Impl) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "fetching %s", url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := fileutil.AtomicWrite(dest, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, resp.Body)
		return err
	}); err != nil {
		return errors.Wrap(err, "saving global excludes")
	}

	s.logger.Debug().Str("file", dest).Msg("global excludes saved")
	return nil
}

func isGitCheckout(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}
