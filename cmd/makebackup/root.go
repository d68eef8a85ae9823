package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fgeck/makebackup/internal/config"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "makebackup",
	Short: "A duplicacy backup runner for Arch Linux hosts",
	Long: `makebackup backs up an Arch Linux host with duplicacy:
  - excludes every package-owned file that still matches the package database
  - merges global and local exclude lists into duplicacy's filters file
  - exports the explicitly installed package lists
  - runs duplicacy backup, check and prune
  - optionally wakes and powers off the storage host
  - optionally reports the result to Telegram

Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(logOutput(cmd))
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file (default $XDG_CONFIG_HOME/"+config.SearchPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(filtersCmd)
	rootCmd.AddCommand(validateCmd)
}

// logOutput keeps stdout clean when the filters command prints the blacklist.
func logOutput(cmd *cobra.Command) io.Writer {
	if cmd == filtersCmd && filtersOutput == "" {
		return os.Stderr
	}
	return os.Stdout
}

func setupLogging(out io.Writer) {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig reads --config, the XDG config file or the defaults.
func loadConfig() (*models.BackupConfig, error) {
	cfg, path, err := config.NewParser().Discover(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("failed to load config")
		return nil, err
	}

	if path == "" {
		log.Debug().Msg("no config file found, using defaults")
	} else {
		log.Debug().Str("file", path).Msg("configuration loaded")
	}
	for _, warning := range config.Warnings(cfg) {
		log.Warn().Msg(warning)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
