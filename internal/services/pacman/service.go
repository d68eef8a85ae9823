// Package pacman queries the package database for owned, modified and
// explicitly installed packages.
package pacman

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/makebackup/internal/cmdexec"
	"github.com/rs/zerolog"
)

// Service defines the interface for package database queries.
type Service interface {
	// OwnedFiles lists package-owned paths that exist as regular files.
	OwnedFiles(ctx context.Context) ([]string, error)
	// ModifiedFiles lists package-owned files whose checksum differs from the
	// package database.
	ModifiedFiles(ctx context.Context) ([]string, error)
	// ExplicitPackages returns the explicitly installed packages with their
	// versions, one per line. foreign selects packages not found in any
	// sync repository.
	ExplicitPackages(ctx context.Context, foreign bool) ([]byte, error)
}

// Impl implements the pacman Service interface.
type Impl struct {
	executor cmdexec.CommandExecutor
	logger   zerolog.Logger
}

// New creates a new pacman service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &cmdexec.DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new pacman service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor cmdexec.CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// OwnedFiles parses `pacman -Ql` and keeps paths that are regular files on
// this system. Directories and files removed since install are dropped.
func (s *Impl) OwnedFiles(ctx context.Context) ([]string, error) {
	out, err := s.executor.Execute(ctx, "pacman", "-Ql")
	if err != nil {
		return nil, errors.Wrap(err, "listing package files")
	}

	var files []string
	listed := 0
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		_, path, ok := strings.Cut(scanner.Text(), " ")
		if !ok || !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
			continue
		}
		listed++
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading package file list")
	}

	s.logger.Debug().Int("listed", listed).Int("present", len(files)).Msg("package files scanned")
	return files, nil
}

var quotedPath = regexp.MustCompile(`'(/[^']*)'`)

// ModifiedFiles runs paccheck with checksum verification and collects the
// reported paths. paccheck exits with status 1 when it found mismatches,
// which is not treated as a failure.
func (s *Impl) ModifiedFiles(ctx context.Context) ([]string, error) {
	out, err := s.executor.Execute(ctx, "paccheck", "--md5sum", "--quiet", "--db-files", "--noupgrade", "--backup")
	if err != nil && cmdexec.ExitCode(err) != 1 {
		return nil, errors.Wrap(err, "checking package files")
	}

	files := ParseCheckOutput(out)
	s.logger.Debug().Int("modified", len(files)).Msg("package files checked")
	return files, nil
}

// ParseCheckOutput extracts one absolute path per paccheck output line.
// It accepts quoted paths (`pkg: '/etc/x' md5sum mismatch`), `pkg /path`
// pairs and bare paths.
func ParseCheckOutput(out []byte) []string {
	var files []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		path := pathFromLine(strings.TrimRight(scanner.Text(), "\r"))
		if path == "" {
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}
	return files
}

func pathFromLine(line string) string {
	if m := quotedPath.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	if strings.HasPrefix(line, "/") {
		return line
	}
	if i := strings.Index(line, " /"); i >= 0 {
		return line[i+1:]
	}
	return ""
}

// ExplicitPackages runs `pacman -Qne` or `pacman -Qme`. pacman exits with
// status 1 when the query matches nothing, which yields an empty list.
func (s *Impl) ExplicitPackages(ctx context.Context, foreign bool) ([]byte, error) {
	flag := "-Qne"
	if foreign {
		flag = "-Qme"
	}

	out, err := s.executor.Execute(ctx, "pacman", flag)
	if err != nil {
		if cmdexec.ExitCode(err) == 1 && len(bytes.TrimSpace(out)) == 0 {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "listing packages (%s)", flag)
	}
	return out, nil
}
