package models

import "time"

// TelegramMessage holds the data for a run notification.
type TelegramMessage struct {
	Success   bool
	BackupID  string
	Storage   string
	StartTime time.Time
	Duration  time.Duration

	// Backup stats (if successful).
	Revision      int
	FilesTotal    int
	FilesNew      int
	BytesUploaded string
	Excluded      int

	// Prune stats.
	RevisionsRemoved int

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
