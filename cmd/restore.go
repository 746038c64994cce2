package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dbrewind/internal/restore"
	"dbrewind/internal/source"
)

var (
	restoreDSN     string
	restoreTarget  string
	restorePolicy  string
	restoreWorkers int
	restoreDryRun  bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <archive-id>",
	Short: "Restore an archive into a database",
	Long: `Materializes the archive (following its base chain for differential
archives), transforms every row into the target schema version and writes
the result in a single transaction. Nothing is written unless every
required target field has a mapping; on any commit failure the target is
left untouched.

The row policy decides what happens when a single row cannot be converted:
"skip" drops the row and records a finding, "strict" aborts the restore.

Examples:
  dbrewind restore 1f0c2e --dsn "user:pass@tcp(localhost:3306)/app"
  dbrewind restore 1f0c2e --dsn "..." --target-version 2 --policy strict
  dbrewind restore 1f0c2e --target-version 2 --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if restorePolicy != string(restore.RowPolicySkip) && restorePolicy != string(restore.RowPolicyStrict) {
			return fmt.Errorf("invalid row policy %q (valid: skip, strict)", restorePolicy)
		}

		if restoreDSN == "" && !restoreDryRun {
			return fmt.Errorf("--dsn is required unless --dry-run is set")
		}

		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		if restoreDryRun {
			result, validateErr := app.pipeline.Validate(ctx, args[0], restore.Options{
				TargetVersion: restoreTarget,
				Policy:        restore.RowPolicy(restorePolicy),
			})
			if result != nil {
				app.renderer.RenderRestoreResult(result)
			}
			return validateErr
		}

		sink, err := source.Open(ctx, restoreDSN)
		if err != nil {
			return fmt.Errorf("connecting to target database: %w", err)
		}
		defer sink.Close()

		workers := restoreWorkers
		if workers == 0 {
			workers = viper.GetInt("restore.workers")
		}

		result, restoreErr := app.pipeline.Restore(ctx, args[0], sink, restore.Options{
			TargetVersion: restoreTarget,
			Policy:        restore.RowPolicy(restorePolicy),
			Workers:       workers,
		})
		if result != nil {
			app.renderer.RenderRestoreResult(result)
		}
		return restoreErr
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreDSN, "dsn", "", "target database DSN (required)")
	restoreCmd.Flags().StringVar(&restoreTarget, "target-version", "", "schema version to restore into (default: the archive's version)")
	restoreCmd.Flags().StringVar(&restorePolicy, "policy", "skip", "row conversion failure policy (skip, strict)")
	restoreCmd.Flags().IntVar(&restoreWorkers, "workers", 0, "row transform workers (0 = number of CPUs)")
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "validate the restore without writing anything")
	restoreCmd.Flags().BoolVar(&promptPassphrase, "prompt-passphrase", false, "read the archive passphrase from the terminal")

	rootCmd.AddCommand(restoreCmd)
}
