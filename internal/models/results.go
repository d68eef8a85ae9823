package models

import "time"

// FilterResult describes a built blacklist.
type FilterResult struct {
	Path           string
	OwnedFiles     int
	ModifiedFiles  int
	ExcludedFiles  int
	GlobalPatterns int
	LocalPatterns  int
	Duration       time.Duration
}

// ManifestResult describes the exported package lists.
type ManifestResult struct {
	ExplicitPackages int
	ForeignPackages  int
	Duration         time.Duration
}

// BackupResult holds the result of a duplicacy backup.
type BackupResult struct {
	Revision      int
	FilesTotal    int
	FilesNew      int
	BytesUploaded string // as reported by duplicacy, e.g. "12,345K"
	Duration      time.Duration
	Error         error
}

// CheckResult holds the result of a storage check.
type CheckResult struct {
	Passed   bool
	Duration time.Duration
	Error    error
}

// PruneResult holds the result of a prune run.
type PruneResult struct {
	RevisionsRemoved int
	Duration         time.Duration
	Error            error
}

// WakeResult holds the result of waking the storage host.
type WakeResult struct {
	PacketSent   bool
	HostReady    bool
	WaitDuration time.Duration
	Error        error
}

// ShutdownResult holds the result of an SSH command on the storage host.
type ShutdownResult struct {
	CommandRun bool
	Output     string
	Error      error
}
