// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/fgeck/makebackup/internal/services/capability"
	"github.com/fgeck/makebackup/internal/services/excludes"
	"github.com/spf13/viper"
)

// ErrInvalidConfig marks configuration errors.
var ErrInvalidConfig = errors.New("invalid configuration")

// SearchPath is the config file looked up below the XDG config directories.
const SearchPath = "makebackup/config.yaml"

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return &Parser{v: v}
}

// setDefaults reproduces the behavior of running without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("duplicacy.binary", "duplicacy")
	v.SetDefault("duplicacy.storage_file", "./backupstorage")
	v.SetDefault("duplicacy.backup_threads", 1)
	v.SetDefault("duplicacy.check_threads", 2)
	v.SetDefault("duplicacy.prune_threads", 2)

	keep := make([]string, 0, len(models.DefaultRetention().Keep))
	for _, rule := range models.DefaultRetention().Keep {
		keep = append(keep, rule.String())
	}
	v.SetDefault("retention.keep", keep)

	v.SetDefault("filters.repo_dir", ".")
	v.SetDefault("filters.fetch_global", true)
	v.SetDefault("filters.global_url", excludes.DefaultGlobalURL)
	v.SetDefault("filters.global_file", "./makebackup_global.excludes")
	v.SetDefault("filters.local_file", "./makebackup_local.excludes")
	v.SetDefault("filters.work_dir", os.TempDir())

	v.SetDefault("packages.explicit_list", "/.explicit_packages.list")
	v.SetDefault("packages.foreign_list", "/.explicit_foreign_packages.list")

	v.SetDefault("capabilities.enabled", true)
}

// Discover loads the first config found: the explicit path, then the XDG
// config directories. Without either it returns the defaults. The returned
// path is empty when no file was read.
func (p *Parser) Discover(explicit string) (*models.BackupConfig, string, error) {
	if explicit != "" {
		cfg, err := p.LoadFile(explicit)
		return cfg, explicit, err
	}

	path, err := xdg.SearchConfigFile(SearchPath)
	if err != nil {
		cfg, err := p.Defaults()
		return cfg, "", err
	}

	cfg, err := p.LoadFile(path)
	return cfg, path, err
}

// LoadFile loads configuration from a file path. The format follows the
// file extension.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		p.v.SetConfigType(ext)
	}

	if err := p.v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	return p.parse()
}

// Defaults returns the configuration used when no file is present.
func (p *Parser) Defaults() (*models.BackupConfig, error) {
	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{}

	cfg.Duplicacy = models.DuplicacyConfig{
		Binary:        p.expandEnv(p.v.GetString("duplicacy.binary")),
		Storage:       p.expandEnv(p.v.GetString("duplicacy.storage")),
		StorageFile:   p.expandEnv(p.v.GetString("duplicacy.storage_file")),
		BackupID:      p.expandEnv(p.v.GetString("duplicacy.backup_id")),
		RepositoryDir: p.expandEnv(p.v.GetString("duplicacy.repository_dir")),
		BackupThreads: p.v.GetInt("duplicacy.backup_threads"),
		CheckThreads:  p.v.GetInt("duplicacy.check_threads"),
		PruneThreads:  p.v.GetInt("duplicacy.prune_threads"),
	}

	for _, raw := range p.v.GetStringSlice("retention.keep") {
		rule, err := models.ParseKeepRule(raw)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidConfig, err.Error())
		}
		cfg.Retention.Keep = append(cfg.Retention.Keep, rule)
	}

	cfg.Filters = models.FilterSettings{
		RepoDir:     p.expandEnv(p.v.GetString("filters.repo_dir")),
		FetchGlobal: p.v.GetBool("filters.fetch_global"),
		GlobalURL:   p.v.GetString("filters.global_url"),
		GlobalFile:  p.expandEnv(p.v.GetString("filters.global_file")),
		LocalFile:   p.expandEnv(p.v.GetString("filters.local_file")),
		WorkDir:     p.expandEnv(p.v.GetString("filters.work_dir")),
		Output:      p.expandEnv(p.v.GetString("filters.output")),
	}

	cfg.Packages = models.PackageSettings{
		ExplicitList: p.expandEnv(p.v.GetString("packages.explicit_list")),
		ForeignList:  p.expandEnv(p.v.GetString("packages.foreign_list")),
	}

	cfg.Capabilities = models.CapabilitySettings{
		Enabled:  p.v.GetBool("capabilities.enabled"),
		Binaries: p.v.GetStringSlice("capabilities.binaries"),
	}
	if !p.v.IsSet("capabilities.binaries") {
		cfg.Capabilities.Binaries = []string{capabilityTarget(cfg.Duplicacy.Binary), capability.PaccheckPath}
	}

	// Parse optional Wake-on-LAN config.
	if p.v.IsSet("wake") { //nolint:nestif // config parsing with defaults
		cfg.Wake = &models.WakeConfig{
			MACAddress:    p.v.GetString("wake.mac_address"),
			BroadcastIP:   p.v.GetString("wake.broadcast_ip"),
			PollURL:       p.v.GetString("wake.poll_url"),
			Timeout:       p.v.GetDuration("wake.timeout"),
			PollInterval:  p.v.GetDuration("wake.poll_interval"),
			StabilizeWait: p.v.GetDuration("wake.stabilize_wait"),
		}

		if cfg.Wake.MACAddress == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "wake.mac_address is required when wake is configured")
		}
		if cfg.Wake.BroadcastIP == "" {
			cfg.Wake.BroadcastIP = "255.255.255.255"
		}
		if cfg.Wake.Timeout == 0 {
			cfg.Wake.Timeout = 5 * time.Minute
		}
		if cfg.Wake.PollInterval == 0 {
			cfg.Wake.PollInterval = 10 * time.Second
		}
		if cfg.Wake.StabilizeWait == 0 {
			cfg.Wake.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional storage host shutdown config.
	if p.v.IsSet("shutdown") { //nolint:nestif // config parsing with defaults
		cfg.Shutdown = &models.ShutdownConfig{
			Host:     p.v.GetString("shutdown.host"),
			Port:     p.v.GetInt("shutdown.port"),
			Username: p.v.GetString("shutdown.username"),
			KeyPath:  p.expandEnv(p.v.GetString("shutdown.key_path")),
			Delay:    p.v.GetInt("shutdown.delay"),
		}

		if cfg.Shutdown.Host == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "shutdown.host is required when shutdown is configured")
		}
		if cfg.Shutdown.Port == 0 {
			cfg.Shutdown.Port = 22
		}
		if cfg.Shutdown.Username == "" {
			cfg.Shutdown.Username = "root"
		}
		if cfg.Shutdown.KeyPath == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "shutdown.key_path is required when shutdown is configured")
		}
		if !p.v.IsSet("shutdown.delay") {
			cfg.Shutdown.Delay = 1
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "telegram.chat_id is required when telegram is configured")
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// capabilityTarget is the file the read capability must be set on for the
// configured duplicacy binary. Bare command names map to the packaged path.
func capabilityTarget(binary string) string {
	if filepath.IsAbs(binary) {
		return binary
	}
	return capability.DuplicacyPath
}

// Warnings reports settings that are valid but leave duplicacy unable to
// read every file.
func Warnings(cfg *models.BackupConfig) []string {
	if cfg == nil || !cfg.Capabilities.Enabled {
		return nil
	}

	var warnings []string
	target := capabilityTarget(cfg.Duplicacy.Binary)
	if !slices.Contains(cfg.Capabilities.Binaries, target) {
		warnings = append(warnings, fmt.Sprintf(
			"duplicacy binary %s is not listed in capabilities.binaries and will not get %s",
			target, capability.Capability))
	}
	if !filepath.IsAbs(cfg.Duplicacy.Binary) && cfg.Duplicacy.Binary != filepath.Base(capability.DuplicacyPath) {
		warnings = append(warnings, fmt.Sprintf(
			"duplicacy.binary %q is not an absolute path, capabilities are set on %s",
			cfg.Duplicacy.Binary, capability.DuplicacyPath))
	}
	return warnings
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return errors.Wrap(ErrInvalidConfig, "configuration is nil")
	}

	if cfg.Duplicacy.Binary == "" {
		return errors.Wrap(ErrInvalidConfig, "duplicacy.binary is required")
	}

	if cfg.Duplicacy.Storage == "" && cfg.Duplicacy.StorageFile == "" {
		return errors.Wrap(ErrInvalidConfig, "duplicacy.storage or duplicacy.storage_file is required")
	}

	for name, threads := range map[string]int{
		"duplicacy.backup_threads": cfg.Duplicacy.BackupThreads,
		"duplicacy.check_threads":  cfg.Duplicacy.CheckThreads,
		"duplicacy.prune_threads":  cfg.Duplicacy.PruneThreads,
	} {
		if threads < 1 {
			return errors.Wrapf(ErrInvalidConfig, "%s must be at least 1", name)
		}
	}

	if len(cfg.Retention.Keep) == 0 {
		return errors.Wrap(ErrInvalidConfig, "retention.keep needs at least one rule")
	}

	if cfg.Filters.GlobalFile == "" {
		return errors.Wrap(ErrInvalidConfig, "filters.global_file is required")
	}
	if cfg.Filters.FetchGlobal && cfg.Filters.GlobalURL == "" {
		return errors.Wrap(ErrInvalidConfig, "filters.global_url is required when fetch_global is set")
	}

	if cfg.Packages.ExplicitList == "" || cfg.Packages.ForeignList == "" {
		return errors.Wrap(ErrInvalidConfig, "packages.explicit_list and packages.foreign_list are required")
	}

	if cfg.Capabilities.Enabled && len(cfg.Capabilities.Binaries) == 0 {
		return errors.Wrap(ErrInvalidConfig, "capabilities.binaries is required when capabilities are enabled")
	}

	return nil
}
