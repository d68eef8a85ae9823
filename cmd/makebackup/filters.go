package main

import (
	"io"
	"os"

	"github.com/fgeck/makebackup/internal/fileutil"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/fgeck/makebackup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var filtersOutput string

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "Build the exclude filter without backing up",
	Long: `Build the blacklist exactly as "run" would and print it, so it can be
reviewed before it is installed. Capabilities are granted for the package
scan and revoked afterwards. Nothing is installed and no backup is made.`,
	RunE: buildFilters,
}

func init() {
	filtersCmd.Flags().StringVarP(&filtersOutput, "output", "o", "", "write the filter to this file instead of stdout")
}

func buildFilters(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger)

	var result *models.FilterResult
	write := func(w io.Writer) error {
		var err error
		result, err = runnerSvc.Filters(ctx, *cfg, w)
		return err
	}

	if filtersOutput == "" {
		err = write(os.Stdout)
	} else {
		err = fileutil.AtomicWrite(filtersOutput, 0o644, write)
	}
	if err != nil {
		log.Error().Err(err).Msg("building filters failed")
		return err
	}

	log.Info().
		Int("excluded", result.ExcludedFiles).
		Int("global_patterns", result.GlobalPatterns).
		Int("local_patterns", result.LocalPatterns).
		Str("output", filtersOutput).
		Msg("filters built")
	return nil
}
