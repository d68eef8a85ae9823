// Package capability grants and revokes the file-read capability that lets
// duplicacy and paccheck read every file without running as root.
package capability

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/makebackup/internal/cmdexec"
	"github.com/rs/zerolog"
)

// Capability is the file capability toggled on the binaries.
const Capability = "cap_dac_read_search"

// Install locations of the packaged binaries.
const (
	DuplicacyPath = "/usr/bin/duplicacy"
	PaccheckPath  = "/usr/bin/paccheck"
)

// DefaultBinaries are the binaries that need to read all files.
var DefaultBinaries = []string{DuplicacyPath, PaccheckPath}

// Service defines the interface for capability management.
type Service interface {
	Grant(ctx context.Context, binaries []string) error
	Revoke(ctx context.Context, binaries []string) error
}

// Impl implements the capability Service interface.
type Impl struct {
	executor cmdexec.CommandExecutor
	logger   zerolog.Logger
}

// New creates a new capability service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &cmdexec.DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new capability service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor cmdexec.CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Grant sets the capability on every binary, stopping at the first failure.
func (s *Impl) Grant(ctx context.Context, binaries []string) error {
	for _, bin := range binaries {
		s.logger.Debug().Str("binary", bin).Msg("granting capability")
		if _, err := s.executor.Execute(ctx, "sudo", "setcap", Capability+"=+ep", bin); err != nil {
			return errors.Wrapf(err, "granting %s on %s", Capability, bin)
		}
	}
	s.logger.Info().Strs("binaries", binaries).Msg("capability granted")
	return nil
}

// Revoke clears the capability on every binary. All binaries are attempted
// even if one fails.
func (s *Impl) Revoke(ctx context.Context, binaries []string) error {
	var errs []error
	for _, bin := range binaries {
		s.logger.Debug().Str("binary", bin).Msg("revoking capability")
		if _, err := s.executor.Execute(ctx, "sudo", "setcap", Capability+"=-ep", bin); err != nil {
			errs = append(errs, errors.Wrapf(err, "revoking %s on %s", Capability, bin))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info().Strs("binaries", binaries).Msg("capability revoked")
	return nil
}
