// Package models contains the data structures used throughout makebackup.
package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// BackupConfig holds the complete configuration for a backup run.
type BackupConfig struct {
	Duplicacy    DuplicacyConfig
	Retention    RetentionPolicy
	Filters      FilterSettings
	Packages     PackageSettings
	Capabilities CapabilitySettings
	Wake         *WakeConfig     // nil if not configured
	Shutdown     *ShutdownConfig // nil if not configured
	Telegram     *TelegramConfig // nil if not configured
}

// DuplicacyConfig holds the duplicacy invocation settings.
type DuplicacyConfig struct {
	Binary        string
	Storage       string // overrides StorageFile when set
	StorageFile   string
	BackupID      string // defaults to the output of hostname
	RepositoryDir string // directory holding .duplicacy, defaults to $HOME
	BackupThreads int
	CheckThreads  int
	PruneThreads  int
}

// FilterSettings controls how the exclude filter is built.
type FilterSettings struct {
	RepoDir     string // checkout holding the global excludes
	FetchGlobal bool
	GlobalURL   string
	GlobalFile  string
	LocalFile   string
	WorkDir     string // where per-run temp files are created
	Output      string // installed filters path, defaults to $HOME/.duplicacy/filters
}

// PackageSettings names the package manifest output files.
type PackageSettings struct {
	ExplicitList string
	ForeignList  string
}

// CapabilitySettings controls the temporary file-read capability.
type CapabilitySettings struct {
	Enabled  bool
	Binaries []string
}

// KeepRule keeps one snapshot every Interval days for snapshots older than
// MinAge days. An Interval of 0 deletes them.
type KeepRule struct {
	Interval int
	MinAge   int
}

// String renders the rule in duplicacy's n:m form.
func (r KeepRule) String() string {
	return fmt.Sprintf("%d:%d", r.Interval, r.MinAge)
}

// ParseKeepRule parses a rule in n:m form.
func ParseKeepRule(s string) (KeepRule, error) {
	interval, age, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return KeepRule{}, errors.Newf("keep rule %q: expected n:m", s)
	}
	n, err := strconv.Atoi(interval)
	if err != nil || n < 0 {
		return KeepRule{}, errors.Newf("keep rule %q: invalid interval", s)
	}
	m, err := strconv.Atoi(age)
	if err != nil || m < 0 {
		return KeepRule{}, errors.Newf("keep rule %q: invalid age", s)
	}
	return KeepRule{Interval: n, MinAge: m}, nil
}

// RetentionPolicy thins snapshot history by age.
type RetentionPolicy struct {
	Keep []KeepRule
}

// DefaultRetention keeps everything for a week, dailies for two months,
// weeklies for two years, monthlies for four years and nothing past ten.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Keep: []KeepRule{
		{Interval: 0, MinAge: 3650},
		{Interval: 365, MinAge: 1460},
		{Interval: 30, MinAge: 720},
		{Interval: 7, MinAge: 62},
		{Interval: 1, MinAge: 7},
	}}
}

// Sorted returns the rules ordered by MinAge descending, the order duplicacy
// expects its -keep options in.
func (p RetentionPolicy) Sorted() []KeepRule {
	rules := make([]KeepRule, len(p.Keep))
	copy(rules, p.Keep)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].MinAge > rules[j].MinAge
	})
	return rules
}

// Environment holds the per-run identifiers.
type Environment struct {
	BackupID string
	Storage  string
	Home     string
}

// WakeConfig holds Wake-on-LAN settings for the storage host.
type WakeConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollURL       string        // polled until the storage host answers
	Timeout       time.Duration // max time to wait for the host
	PollInterval  time.Duration
	StabilizeWait time.Duration // wait after the host responds
}

// ShutdownConfig holds SSH settings for powering off the storage host.
type ShutdownConfig struct {
	Host       string
	Port       int
	Username   string
	KeyPath    string
	PrivateKey []byte // loaded from KeyPath when empty
	Delay      int    // minutes
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}
