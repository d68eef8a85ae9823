// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/makebackup/internal/fileutil"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/fgeck/makebackup/internal/services/capability"
	"github.com/fgeck/makebackup/internal/services/duplicacy"
	"github.com/fgeck/makebackup/internal/services/environment"
	"github.com/fgeck/makebackup/internal/services/excludes"
	"github.com/fgeck/makebackup/internal/services/filters"
	"github.com/fgeck/makebackup/internal/services/manifest"
	"github.com/fgeck/makebackup/internal/services/storagehost"
	"github.com/fgeck/makebackup/internal/services/telegram"
	"github.com/rs/zerolog"
)

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig) error
	Filters(ctx context.Context, cfg models.BackupConfig, out io.Writer) (*models.FilterResult, error)
}

// Services bundles the collaborators of the runner.
type Services struct {
	Environment environment.Service
	Capability  capability.Service
	Excludes    excludes.Service
	Filters     filters.Service
	Manifest    manifest.Service
	Duplicacy   duplicacy.Service
	StorageHost storagehost.Service
	Telegram    telegram.Service
}

// Impl implements the runner Service interface.
type Impl struct {
	svc    Services
	logger zerolog.Logger
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		svc: Services{
			Environment: environment.New(logger),
			Capability:  capability.New(logger),
			Excludes:    excludes.New(logger),
			Filters:     filters.New(logger),
			Manifest:    manifest.New(logger),
			Duplicacy:   duplicacy.New(logger),
			StorageHost: storagehost.New(logger),
			Telegram:    telegram.New(logger),
		},
		logger: logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(logger zerolog.Logger, svc Services) *Impl {
	return &Impl{
		svc:    svc,
		logger: logger,
	}
}

// runStats collects what the notification reports.
type runStats struct {
	env     *models.Environment
	filters *models.FilterResult
	backup  *models.BackupResult
	prune   *models.PruneResult
}

// Run executes the complete backup workflow. The file-read capability is
// revoked on every exit path once granting was attempted.
//
//nolint:gocognit,gocyclo // backup workflow has multiple steps
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig) (runErr error) {
	startTime := time.Now()
	var failedStep string
	stats := &runStats{}

	defer func() {
		if cfg.Telegram != nil {
			s.sendNotification(context.WithoutCancel(ctx), cfg, stats, startTime, failedStep, runErr)
		}
	}()

	// Step 1: Resolve identity, storage and HOME
	failedStep = "environment"
	env, err := s.svc.Environment.Resolve(ctx, cfg.Duplicacy)
	if err != nil {
		return errors.Wrap(err, "resolving environment")
	}
	stats.env = env

	s.logger.Info().
		Str("backup_id", env.BackupID).
		Str("storage", env.Storage).
		Msg("starting backup run")

	// Step 2: Wake the storage host (if configured)
	if cfg.Wake != nil {
		failedStep = "wake"
		if err := s.runWake(ctx, cfg.Wake); err != nil {
			return err
		}
	}

	// Step 3: Grant the read capability, revoked at the very end
	if cfg.Capabilities.Enabled {
		defer func() {
			if err := s.revoke(ctx, cfg.Capabilities.Binaries); err != nil {
				if runErr == nil {
					failedStep = "revoke"
					runErr = err
				} else {
					runErr = errors.Join(runErr, err)
				}
			}
		}()

		failedStep = "grant"
		if err := s.svc.Capability.Grant(ctx, cfg.Capabilities.Binaries); err != nil {
			return errors.Wrap(err, "grant failed")
		}
	}

	// Step 4: Refresh the global exclude list
	failedStep = "excludes"
	if _, err := s.svc.Excludes.Refresh(ctx, cfg.Filters); err != nil {
		return errors.Wrap(err, "refreshing global excludes")
	}

	// Step 5: Build the blacklist
	failedStep = "filters"
	filterResult, err := s.svc.Filters.Build(ctx, cfg.Filters)
	if err != nil {
		return errors.Wrap(err, "building blacklist")
	}
	stats.filters = filterResult
	defer func() { _ = fileutil.RemoveIfExists(filterResult.Path) }()

	// Step 6: Export package manifests
	failedStep = "packages"
	if _, err := s.svc.Manifest.Export(ctx, cfg.Packages); err != nil {
		return errors.Wrap(err, "exporting package lists")
	}

	// Step 7: Install the blacklist as duplicacy's filters file
	failedStep = "install"
	dest := cfg.Filters.Output
	if dest == "" {
		dest = filepath.Join(env.Home, ".duplicacy", "filters")
	}
	if err := s.svc.Filters.Install(filterResult, dest); err != nil {
		return errors.Wrap(err, "installing filters")
	}

	// Step 8: Backup
	failedStep = "backup"
	backupResult, err := s.svc.Duplicacy.Backup(ctx, cfg.Duplicacy, *env)
	if err != nil {
		return errors.Wrap(err, "backup failed")
	}
	if backupResult.Error != nil {
		return backupResult.Error
	}
	stats.backup = backupResult

	// Step 9: Check storage
	failedStep = "check"
	checkResult, err := s.svc.Duplicacy.Check(ctx, cfg.Duplicacy, *env)
	if err != nil {
		return errors.Wrap(err, "check failed")
	}
	if checkResult.Error != nil {
		return checkResult.Error
	}
	if !checkResult.Passed {
		return errors.New("storage check failed")
	}

	// Step 10: Prune
	failedStep = "prune"
	pruneResult, err := s.svc.Duplicacy.Prune(ctx, cfg.Duplicacy, *env, cfg.Retention)
	if err != nil {
		return errors.Wrap(err, "prune failed")
	}
	if pruneResult.Error != nil {
		return pruneResult.Error
	}
	stats.prune = pruneResult

	// Step 11: Power off the storage host (if configured)
	if cfg.Shutdown != nil {
		failedStep = "shutdown"
		if err := s.runShutdown(ctx, cfg.Shutdown); err != nil {
			return err
		}
	}

	failedStep = ""
	s.logger.Info().
		Dur("duration", time.Since(startTime)).
		Msg("backup run completed successfully")

	return nil
}

// Filters builds the blacklist without installing it or running a backup,
// and copies it to out.
func (s *Impl) Filters(ctx context.Context, cfg models.BackupConfig, out io.Writer) (result *models.FilterResult, runErr error) {
	if cfg.Capabilities.Enabled {
		defer func() {
			if err := s.revoke(ctx, cfg.Capabilities.Binaries); err != nil {
				runErr = errors.Join(runErr, err)
			}
		}()
		if err := s.svc.Capability.Grant(ctx, cfg.Capabilities.Binaries); err != nil {
			return nil, errors.Wrap(err, "grant failed")
		}
	}

	if _, err := s.svc.Excludes.Refresh(ctx, cfg.Filters); err != nil {
		return nil, errors.Wrap(err, "refreshing global excludes")
	}

	result, err := s.svc.Filters.Build(ctx, cfg.Filters)
	if err != nil {
		return nil, errors.Wrap(err, "building blacklist")
	}
	defer func() { _ = fileutil.RemoveIfExists(result.Path) }()

	f, err := os.Open(result.Path)
	if err != nil {
		return nil, errors.Wrap(err, "opening blacklist")
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(out, f); err != nil {
		return nil, errors.Wrap(err, "writing blacklist")
	}
	return result, nil
}

// revoke runs even when ctx was cancelled by a signal.
func (s *Impl) revoke(ctx context.Context, binaries []string) error {
	if err := s.svc.Capability.Revoke(context.WithoutCancel(ctx), binaries); err != nil {
		s.logger.Error().Err(err).Msg("failed to revoke capability")
		return errors.Wrap(err, "revoke failed")
	}
	return nil
}

func (s *Impl) runWake(ctx context.Context, cfg *models.WakeConfig) error {
	result, err := s.svc.StorageHost.Wake(ctx, *cfg)
	if err != nil {
		return errors.Wrap(err, "waking storage host")
	}
	if result.Error != nil {
		return errors.Wrap(result.Error, "waking storage host")
	}
	if !result.HostReady {
		return errors.New("storage host did not become ready")
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Dur("wait_duration", result.WaitDuration).
		Msg("storage host awake")
	return nil
}

func (s *Impl) runShutdown(ctx context.Context, cfg *models.ShutdownConfig) error {
	result, err := s.svc.StorageHost.PowerOff(ctx, *cfg)
	if err != nil {
		return errors.Wrap(err, "powering off storage host")
	}
	if result.Error != nil {
		return errors.Wrap(result.Error, "powering off storage host")
	}

	s.logger.Info().
		Str("host", cfg.Host).
		Str("output", result.Output).
		Msg("storage host shutdown scheduled")
	return nil
}

func (s *Impl) sendNotification(
	ctx context.Context,
	cfg models.BackupConfig,
	stats *runStats,
	startTime time.Time,
	failedStep string,
	runErr error,
) {
	msg := models.TelegramMessage{
		Success:   runErr == nil,
		StartTime: startTime,
		Duration:  time.Since(startTime),
	}
	if stats.env != nil {
		msg.BackupID = stats.env.BackupID
		msg.Storage = stats.env.Storage
	}
	if stats.filters != nil {
		msg.Excluded = stats.filters.ExcludedFiles
	}
	if stats.backup != nil {
		msg.Revision = stats.backup.Revision
		msg.FilesTotal = stats.backup.FilesTotal
		msg.FilesNew = stats.backup.FilesNew
		msg.BytesUploaded = stats.backup.BytesUploaded
	}
	if stats.prune != nil {
		msg.RevisionsRemoved = stats.prune.RevisionsRemoved
	}
	if runErr != nil {
		msg.FailedStep = failedStep
		msg.ErrorMessage = runErr.Error()
	}

	result, err := s.svc.Telegram.SendNotification(ctx, *cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}
