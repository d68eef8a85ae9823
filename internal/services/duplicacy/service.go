// Package duplicacy drives the duplicacy CLI: backup, storage check and prune.
package duplicacy

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/makebackup/internal/cmdexec"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for duplicacy operations.
type Service interface {
	Backup(ctx context.Context, cfg models.DuplicacyConfig, env models.Environment) (*models.BackupResult, error)
	Check(ctx context.Context, cfg models.DuplicacyConfig, env models.Environment) (*models.CheckResult, error)
	Prune(ctx context.Context, cfg models.DuplicacyConfig, env models.Environment, policy models.RetentionPolicy) (*models.PruneResult, error)
}

// Impl implements the duplicacy Service interface.
type Impl struct {
	executor cmdexec.CommandExecutor
	output   io.Writer
	logger   zerolog.Logger
}

// New creates a new duplicacy service streaming tool output to stdout.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &cmdexec.DefaultExecutor{},
		output:   os.Stdout,
		logger:   logger,
	}
}

// NewWithExecutor creates a new duplicacy service with a custom executor and
// output sink (for testing).
func NewWithExecutor(logger zerolog.Logger, executor cmdexec.CommandExecutor, output io.Writer) *Impl {
	return &Impl{
		executor: executor,
		output:   output,
		logger:   logger,
	}
}

func binary(cfg models.DuplicacyConfig) string {
	if cfg.Binary != "" {
		return cfg.Binary
	}
	return "duplicacy"
}

func workDir(cfg models.DuplicacyConfig, env models.Environment) string {
	if cfg.RepositoryDir != "" {
		return cfg.RepositoryDir
	}
	return env.Home
}

// BackupArgs returns the arguments of the backup invocation.
func BackupArgs(cfg models.DuplicacyConfig, env models.Environment) []string {
	return []string{"backup", "-stats", "-storage", env.Storage, "-threads", strconv.Itoa(cfg.BackupThreads)}
}

// CheckArgs returns the arguments of the check invocation.
func CheckArgs(cfg models.DuplicacyConfig, env models.Environment) []string {
	return []string{
		"check", "-storage", env.Storage, "-id", env.BackupID,
		"-fossils", "-resurrect", "-threads", strconv.Itoa(cfg.CheckThreads),
	}
}

// PruneArgs returns the arguments of the prune invocation. Keep rules are
// ordered by age, oldest first.
func PruneArgs(cfg models.DuplicacyConfig, env models.Environment, policy models.RetentionPolicy) []string {
	args := []string{"prune", "-storage", env.Storage, "-id", env.BackupID}
	for _, rule := range policy.Sorted() {
		args = append(args, "-keep", rule.String())
	}
	return append(args, "-threads", strconv.Itoa(cfg.PruneThreads))
}

var (
	revisionLine = regexp.MustCompile(`Backup for .* at revision (\d+) completed`)
	filesLine    = regexp.MustCompile(`Files: ([\d,]+) total, [^;]*; ([\d,]+) new, ([\d,.]+\w*) bytes`)
	deletingLine = regexp.MustCompile(`Deleting snapshot .* at revision \d+`)
)

// Backup runs a snapshot of the repository directory.
func (s *Impl) Backup(ctx context.Context, cfg models.DuplicacyConfig, env models.Environment) (*models.BackupResult, error) {
	s.logger.Info().Str("storage", env.Storage).Msg("running duplicacy backup")

	start := time.Now()
	output, err := s.executor.Stream(ctx, workDir(cfg, env), s.output, binary(cfg), BackupArgs(cfg, env)...)
	if err != nil {
		return &models.BackupResult{
			Duration: time.Since(start),
			Error:    errors.Wrap(err, "backup failed"),
		}, nil
	}

	result := parseBackupStats(output)
	result.Duration = time.Since(start)

	s.logger.Info().
		Int("revision", result.Revision).
		Int("files_total", result.FilesTotal).
		Int("files_new", result.FilesNew).
		Str("uploaded", result.BytesUploaded).
		Str("took", result.Duration.Round(time.Second).String()).
		Msg("duplicacy completed its run")

	return result, nil
}

func parseBackupStats(output []byte) *models.BackupResult {
	result := &models.BackupResult{}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if m := revisionLine.FindStringSubmatch(line); m != nil {
			result.Revision, _ = strconv.Atoi(m[1])
			continue
		}
		if m := filesLine.FindStringSubmatch(line); m != nil {
			result.FilesTotal = atoiCommas(m[1])
			result.FilesNew = atoiCommas(m[2])
			result.BytesUploaded = m[3]
		}
	}
	return result
}

func atoiCommas(s string) int {
	n, _ := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	return n
}

// Check verifies that every chunk referenced by this backup ID exists,
// resurrecting fossils that are still referenced.
func (s *Impl) Check(ctx context.Context, cfg models.DuplicacyConfig, env models.Environment) (*models.CheckResult, error) {
	s.logger.Info().Str("storage", env.Storage).Str("id", env.BackupID).Msg("checking storage")

	start := time.Now()
	_, err := s.executor.Stream(ctx, workDir(cfg, env), s.output, binary(cfg), CheckArgs(cfg, env)...)
	duration := time.Since(start)
	if err != nil {
		return &models.CheckResult{
			Duration: duration,
			Error:    errors.Wrap(err, "check failed"),
		}, nil
	}

	s.logger.Info().Str("took", duration.Round(time.Millisecond).String()).Msg("storage check completed")

	return &models.CheckResult{
		Passed:   true,
		Duration: duration,
	}, nil
}

// Prune thins the snapshot history according to policy.
func (s *Impl) Prune(ctx context.Context, cfg models.DuplicacyConfig, env models.Environment, policy models.RetentionPolicy) (*models.PruneResult, error) {
	if len(policy.Keep) == 0 {
		return nil, errors.New("retention policy has no keep rules")
	}

	rules := make([]string, 0, len(policy.Keep))
	for _, r := range policy.Sorted() {
		rules = append(rules, r.String())
	}
	s.logger.Info().Strs("keep", rules).Msg("pruning storage")

	start := time.Now()
	output, err := s.executor.Stream(ctx, workDir(cfg, env), s.output, binary(cfg), PruneArgs(cfg, env, policy)...)
	if err != nil {
		return &models.PruneResult{
			Duration: time.Since(start),
			Error:    errors.Wrap(err, "prune failed"),
		}, nil
	}

	result := &models.PruneResult{
		RevisionsRemoved: len(deletingLine.FindAll(output, -1)),
		Duration:         time.Since(start),
	}

	s.logger.Info().
		Int("removed", result.RevisionsRemoved).
		Str("took", result.Duration.Round(time.Millisecond).String()).
		Msg("retention policy applied")

	return result, nil
}
