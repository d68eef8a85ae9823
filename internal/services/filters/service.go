// Package filters builds the duplicacy filters file that keeps unmodified
// package-owned files out of the backup.
package filters

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/makebackup/internal/fileutil"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/fgeck/makebackup/internal/services/pacman"
	"github.com/rs/zerolog"
)

// TempPrefix names the per-run temp files.
const TempPrefix = "duplicacy-backup."

// Service defines the interface for building and installing the blacklist.
type Service interface {
	// Build writes the blacklist to a temp file and reports its path.
	Build(ctx context.Context, settings models.FilterSettings) (*models.FilterResult, error)
	// Install moves a built blacklist to dest.
	Install(result *models.FilterResult, dest string) error
}

// Impl implements the filters Service interface.
type Impl struct {
	pacmanSvc pacman.Service
	logger    zerolog.Logger
}

// New creates a new filters service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		pacmanSvc: pacman.New(logger),
		logger:    logger,
	}
}

// NewWithPacman creates a new filters service with a custom pacman service (for testing).
func NewWithPacman(logger zerolog.Logger, pacmanSvc pacman.Service) *Impl {
	return &Impl{
		pacmanSvc: pacmanSvc,
		logger:    logger,
	}
}

// Build scans the package database, subtracts the files paccheck reports as
// modified and renders the blacklist into a temp file under settings.WorkDir.
// The caller owns the returned file; it is removed here on failure.
func (s *Impl) Build(ctx context.Context, settings models.FilterSettings) (*models.FilterResult, error) {
	start := time.Now()

	s.logger.Info().Msg("checking all files from pacman's packages for existence on the local system")
	owned, err := s.pacmanSvc.OwnedFiles(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("files", len(owned)).Str("took", since(start)).Msg("package files scanned")

	checkStart := time.Now()
	s.logger.Info().Msg("checking files managed by pacman for changes")
	modified, err := s.pacmanSvc.ModifiedFiles(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("files", len(modified)).Str("took", since(checkStart)).Msg("package files checked")

	global, err := os.Open(settings.GlobalFile)
	if err != nil {
		return nil, errors.Wrap(err, "opening global excludes")
	}
	defer func() { _ = global.Close() }()

	var local io.Reader
	localFile, err := os.Open(settings.LocalFile)
	switch {
	case err == nil:
		defer func() { _ = localFile.Close() }()
		local = localFile
	case os.IsNotExist(err):
		s.logger.Warn().Str("file", settings.LocalFile).Msg("local exclude list not found, skipping")
	default:
		return nil, errors.Wrap(err, "opening local excludes")
	}

	tmp, err := os.CreateTemp(settings.WorkDir, TempPrefix+"blacklist-*")
	if err != nil {
		return nil, errors.Wrap(err, "creating blacklist temp file")
	}
	tmpName := tmp.Name()

	counts, err := Render(tmp, owned, modified, global, local)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = errors.Wrap(closeErr, "closing blacklist temp file")
	}
	if err != nil {
		_ = fileutil.RemoveIfExists(tmpName)
		return nil, err
	}

	result := &models.FilterResult{
		Path:           tmpName,
		OwnedFiles:     len(owned),
		ModifiedFiles:  len(modified),
		ExcludedFiles:  counts.Excluded,
		GlobalPatterns: counts.GlobalPatterns,
		LocalPatterns:  counts.LocalPatterns,
		Duration:       time.Since(start),
	}

	s.logger.Info().
		Int("excluded", result.ExcludedFiles).
		Int("global_patterns", result.GlobalPatterns).
		Int("local_patterns", result.LocalPatterns).
		Str("took", since(start)).
		Msg("blacklist generated")

	return result, nil
}

// Install atomically copies the built blacklist to dest, creating its parent
// directory if needed, and removes the temp file.
func (s *Impl) Install(result *models.FilterResult, dest string) error {
	if result == nil || result.Path == "" {
		return errors.New("no blacklist to install")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(dest))
	}

	src, err := os.Open(result.Path)
	if err != nil {
		return errors.Wrap(err, "opening blacklist")
	}
	err = fileutil.AtomicWrite(dest, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
	_ = src.Close()
	if err != nil {
		return errors.Wrap(err, "installing filters")
	}

	s.logger.Info().Str("dest", dest).Msg("filters installed")
	return fileutil.RemoveIfExists(result.Path)
}

func since(t time.Time) string {
	return time.Since(t).Round(time.Millisecond).String()
}
