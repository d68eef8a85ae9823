// Package environment resolves the identifiers a backup run depends on.
package environment

import (
	"context"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/makebackup/internal/cmdexec"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/rs/zerolog"
)

var (
	// ErrHomeUnset is returned when $HOME is empty.
	ErrHomeUnset = errors.New("HOME variable was empty")

	// ErrNoStorage is returned when no storage name could be determined.
	ErrNoStorage = errors.New("no backup storage configured")
)

// Service defines the interface for environment resolution.
type Service interface {
	Resolve(ctx context.Context, cfg models.DuplicacyConfig) (*models.Environment, error)
}

// Impl implements the environment Service interface.
type Impl struct {
	executor cmdexec.CommandExecutor
	getenv   func(string) string
	logger   zerolog.Logger
}

// New creates a new environment service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &cmdexec.DefaultExecutor{},
		getenv:   os.Getenv,
		logger:   logger,
	}
}

// NewWithExecutor creates a new environment service with a custom executor
// and environment lookup (for testing).
func NewWithExecutor(logger zerolog.Logger, executor cmdexec.CommandExecutor, getenv func(string) string) *Impl {
	return &Impl{
		executor: executor,
		getenv:   getenv,
		logger:   logger,
	}
}

// Resolve determines the backup ID, storage name and home directory.
// It fails with ErrHomeUnset before anything else runs.
func (s *Impl) Resolve(ctx context.Context, cfg models.DuplicacyConfig) (*models.Environment, error) {
	home := s.getenv("HOME")
	if home == "" {
		return nil, ErrHomeUnset
	}

	backupID := cfg.BackupID
	if backupID == "" {
		out, err := s.executor.Execute(ctx, "hostname")
		if err != nil {
			return nil, errors.Wrap(err, "reading hostname")
		}
		backupID = strings.TrimSpace(string(out))
		if backupID == "" {
			return nil, errors.New("hostname returned an empty name")
		}
	}

	storage := cfg.Storage
	if storage == "" {
		if cfg.StorageFile == "" {
			return nil, ErrNoStorage
		}
		data, err := os.ReadFile(cfg.StorageFile)
		if err != nil {
			return nil, errors.Wrapf(err, "reading storage file %s", cfg.StorageFile)
		}
		storage = strings.TrimSpace(string(data))
		if storage == "" {
			return nil, errors.Wrapf(ErrNoStorage, "storage file %s is empty", cfg.StorageFile)
		}
	}

	s.logger.Debug().
		Str("backup_id", backupID).
		Str("storage", storage).
		Str("home", home).
		Msg("environment resolved")

	return &models.Environment{
		BackupID: backupID,
		Storage:  storage,
		Home:     home,
	}, nil
}
