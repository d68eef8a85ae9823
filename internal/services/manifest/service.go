// Package manifest exports the explicitly installed package lists so the
// system can be reinstalled from a mirror.
package manifest

import (
	"bytes"
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/makebackup/internal/fileutil"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/fgeck/makebackup/internal/services/pacman"
	"github.com/rs/zerolog"
)

// Service defines the interface for package manifest export.
type Service interface {
	Export(ctx context.Context, settings models.PackageSettings) (*models.ManifestResult, error)
}

// Impl implements the manifest Service interface.
type Impl struct {
	pacmanSvc pacman.Service
	logger    zerolog.Logger
}

// New creates a new manifest service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		pacmanSvc: pacman.New(logger),
		logger:    logger,
	}
}

// NewWithPacman creates a new manifest service with a custom pacman service (for testing).
func NewWithPacman(logger zerolog.Logger, pacmanSvc pacman.Service) *Impl {
	return &Impl{
		pacmanSvc: pacmanSvc,
		logger:    logger,
	}
}

// Export writes the native and foreign explicit package lists. The default
// locations sit in /, so a list owned by the invoking user is rewritten in
// place when the directory itself is not writable.
func (s *Impl) Export(ctx context.Context, settings models.PackageSettings) (*models.ManifestResult, error) {
	start := time.Now()
	s.logger.Info().Msg("generating list of installed packages and their versions")

	native, err := s.pacmanSvc.ExplicitPackages(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := fileutil.ReplaceFile(settings.ExplicitList, native, 0o644); err != nil {
		return nil, errors.Wrap(err, "writing explicit package list")
	}

	foreign, err := s.pacmanSvc.ExplicitPackages(ctx, true)
	if err != nil {
		return nil, err
	}
	if err := fileutil.ReplaceFile(settings.ForeignList, foreign, 0o644); err != nil {
		return nil, errors.Wrap(err, "writing foreign package list")
	}

	result := &models.ManifestResult{
		ExplicitPackages: countLines(native),
		ForeignPackages:  countLines(foreign),
		Duration:         time.Since(start),
	}

	s.logger.Info().
		Int("explicit", result.ExplicitPackages).
		Int("foreign", result.ForeignPackages).
		Str("took", result.Duration.Round(time.Millisecond).String()).
		Msg("package lists exported")

	return result, nil
}

func countLines(data []byte) int {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0
	}
	return bytes.Count(data, []byte{'\n'}) + 1
}
