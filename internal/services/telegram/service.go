// Package telegram sends run notifications through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendNotification posts the run summary to the configured chat.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      FormatMessage(msg),
		ParseMode: "HTML",
	})
	if err != nil {
		result.Error = errors.Wrap(err, "encoding request")
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		result.Error = errors.Wrap(err, "creating request")
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	s.logger.Debug().Str("chat_id", cfg.ChatID).Bool("success", msg.Success).Msg("sending Telegram notification")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// the token is part of the URL; keep it out of logs
		result.Error = errors.New("telegram request failed: " + redact(err.Error(), cfg.BotToken))
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = errors.Newf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	return result, nil
}

// FormatMessage renders msg as Telegram HTML.
func FormatMessage(msg models.TelegramMessage) string {
	var b bytes.Buffer

	if msg.Success {
		b.WriteString("✅ <b>Backup completed</b>\n\n")
	} else {
		b.WriteString("❌ <b>Backup failed</b>\n\n")
	}

	fmt.Fprintf(&b, "<b>Backup ID:</b> %s\n", html.EscapeString(msg.BackupID))
	fmt.Fprintf(&b, "<b>Storage:</b> %s\n", html.EscapeString(msg.Storage))
	fmt.Fprintf(&b, "<b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "<b>Duration:</b> %s\n", msg.Duration.Round(time.Second))

	if !msg.Success {
		fmt.Fprintf(&b, "\n<b>Failed step:</b> %s\n", html.EscapeString(msg.FailedStep))
		fmt.Fprintf(&b, "<b>Error:</b> <code>%s</code>\n", html.EscapeString(msg.ErrorMessage))
		return b.String()
	}

	b.WriteString("\n<b>Snapshot</b>\n")
	fmt.Fprintf(&b, "  • Revision: <code>%d</code>\n", msg.Revision)
	fmt.Fprintf(&b, "  • Files: %d total, %d new\n", msg.FilesTotal, msg.FilesNew)
	if msg.BytesUploaded != "" {
		fmt.Fprintf(&b, "  • New data: %s bytes\n", html.EscapeString(msg.BytesUploaded))
	}
	fmt.Fprintf(&b, "  • Package files excluded: %d\n", msg.Excluded)
	if msg.RevisionsRemoved > 0 {
		fmt.Fprintf(&b, "\n<b>Prune:</b> %d revision(s) removed\n", msg.RevisionsRemoved)
	}

	return b.String()
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<redacted>")
}
