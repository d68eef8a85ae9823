package main

import (
	"github.com/fgeck/makebackup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the backup workflow",
	Long: `Execute the complete backup workflow:
1. Check HOME and resolve backup ID and storage
2. Wake the storage host (if configured)
3. Grant cap_dac_read_search to duplicacy and paccheck
4. Refresh the global exclude list
5. Build the blacklist from unmodified package files
6. Export the explicit package lists
7. Install the blacklist as duplicacy's filters file
8. duplicacy backup, check and prune
9. Power off the storage host (if configured)
10. Revoke cap_dac_read_search (also on failure)
11. Send Telegram notification (if configured)`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Run backup
	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Run(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	log.Info().Msg("backup completed successfully")
	return nil
}
