package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/fgeck/makebackup/internal/config"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/fgeck/makebackup/internal/services/environment"
	"github.com/fgeck/makebackup/internal/services/storagehost"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var checkRemote bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the configuration without executing any backup operations.
With --check-remote the backup ID and storage are resolved and the SSH
connection to the storage host is tested.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&checkRemote, "check-remote", false, "resolve the environment and test the storage host connection")
}

var (
	heading  = color.New(color.Bold, color.FgCyan).SprintFunc()
	okText   = color.New(color.FgGreen).SprintFunc()
	badText  = color.New(color.FgRed).SprintFunc()
	warnText = color.New(color.FgYellow).SprintFunc()
)

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return errors.Newf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), badText("Configuration is invalid: ")+err.Error())
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, okText("Configuration is valid!"))
	for _, warning := range config.Warnings(cfg) {
		fmt.Fprintln(out, warnText("Warning: ")+warning)
	}
	printSummary(out, cfg)

	if !checkRemote {
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()
	return checkRemotes(ctx, out, cfg)
}

func printSummary(out io.Writer, cfg *models.BackupConfig) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, heading("Duplicacy:"))
	fmt.Fprintf(out, "  Binary: %s\n", cfg.Duplicacy.Binary)
	if cfg.Duplicacy.Storage != "" {
		fmt.Fprintf(out, "  Storage: %s\n", cfg.Duplicacy.Storage)
	} else {
		fmt.Fprintf(out, "  Storage file: %s\n", cfg.Duplicacy.StorageFile)
	}
	if cfg.Duplicacy.BackupID != "" {
		fmt.Fprintf(out, "  Backup ID: %s\n", cfg.Duplicacy.BackupID)
	}
	if cfg.Duplicacy.RepositoryDir != "" {
		fmt.Fprintf(out, "  Repository: %s\n", cfg.Duplicacy.RepositoryDir)
	}
	fmt.Fprintf(out, "  Threads: backup %d, check %d, prune %d\n",
		cfg.Duplicacy.BackupThreads, cfg.Duplicacy.CheckThreads, cfg.Duplicacy.PruneThreads)

	fmt.Fprintln(out)
	fmt.Fprintln(out, heading("Retention Policy:"))
	rules := make([]string, 0, len(cfg.Retention.Keep))
	for _, rule := range cfg.Retention.Sorted() {
		rules = append(rules, "-keep "+rule.String())
	}
	fmt.Fprintf(out, "  %s\n", strings.Join(rules, " "))

	fmt.Fprintln(out)
	fmt.Fprintln(out, heading("Filters:"))
	if cfg.Filters.FetchGlobal {
		fmt.Fprintf(out, "  Global source: %s (or git pull in %s)\n", cfg.Filters.GlobalURL, cfg.Filters.RepoDir)
	}
	fmt.Fprintf(out, "  Global file: %s\n", cfg.Filters.GlobalFile)
	fmt.Fprintf(out, "  Local file: %s\n", cfg.Filters.LocalFile)
	if cfg.Filters.Output != "" {
		fmt.Fprintf(out, "  Output: %s\n", cfg.Filters.Output)
	} else {
		fmt.Fprintln(out, "  Output: $HOME/.duplicacy/filters")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, heading("Package Lists:"))
	fmt.Fprintf(out, "  Explicit: %s\n", cfg.Packages.ExplicitList)
	fmt.Fprintf(out, "  Foreign: %s\n", cfg.Packages.ForeignList)

	fmt.Fprintln(out)
	fmt.Fprintln(out, heading("Optional Features:"))
	fmt.Fprintf(out, "  Capabilities: %v\n", cfg.Capabilities.Enabled)
	fmt.Fprintf(out, "  Wake-on-LAN: %v\n", cfg.Wake != nil)
	fmt.Fprintf(out, "  SSH Shutdown: %v\n", cfg.Shutdown != nil)
	fmt.Fprintf(out, "  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.Capabilities.Enabled {
		fmt.Fprintln(out)
		fmt.Fprintln(out, heading("Capability Binaries:"))
		for _, bin := range cfg.Capabilities.Binaries {
			fmt.Fprintf(out, "  %s\n", bin)
		}
	}

	if cfg.Wake != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, heading("Wake-on-LAN Configuration:"))
		fmt.Fprintf(out, "  MAC Address: %s\n", cfg.Wake.MACAddress)
		fmt.Fprintf(out, "  Broadcast IP: %s\n", cfg.Wake.BroadcastIP)
		if cfg.Wake.PollURL != "" {
			fmt.Fprintf(out, "  Poll URL: %s\n", cfg.Wake.PollURL)
		}
	}

	if cfg.Shutdown != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, heading("SSH Shutdown Configuration:"))
		fmt.Fprintf(out, "  Host: %s\n", cfg.Shutdown.Host)
		fmt.Fprintf(out, "  Port: %d\n", cfg.Shutdown.Port)
		fmt.Fprintf(out, "  Username: %s\n", cfg.Shutdown.Username)
		fmt.Fprintf(out, "  Command: %s\n", storagehost.ShutdownCommand(cfg.Shutdown.Delay))
	}

	if cfg.Telegram != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, heading("Telegram Configuration:"))
		fmt.Fprintf(out, "  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Fprintf(out, "  Bot Token: (configured)\n")
	}
}

func checkRemotes(ctx context.Context, out io.Writer, cfg *models.BackupConfig) error {
	fmt.Fprintln(out)
	fmt.Fprintln(out, heading("Remote Checks:"))

	env, err := environment.New(log.Logger).Resolve(ctx, cfg.Duplicacy)
	if err != nil {
		fmt.Fprintf(out, "  Environment: %s\n", badText(err.Error()))
		return err
	}
	fmt.Fprintf(out, "  Environment: %s (backup ID %s, storage %s)\n", okText("OK"), env.BackupID, env.Storage)

	if cfg.Shutdown == nil {
		return nil
	}

	result, err := storagehost.New(log.Logger).TestConnection(ctx, *cfg.Shutdown)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		fmt.Fprintf(out, "  SSH: %s\n", badText(err.Error()))
		return err
	}
	fmt.Fprintf(out, "  SSH: %s\n", okText("OK"))
	return nil
}
