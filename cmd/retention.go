package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dbrewind/internal/backup"
)

var (
	retentionMaxArchives int
	retentionMaxAge      time.Duration
	retentionMinKeep     int
	retentionDryRun      bool
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Apply the retention policy to stored archives",
	Long: `Deletes archives that exceed the retention limits, counted per schema
version. An archive is never deleted while a kept differential archive
still depends on it.

Examples:
  dbrewind retention --max-archives 10 --min-keep 3
  dbrewind retention --max-age 720h --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		policy := backup.RetentionPolicy{
			MaxArchives: retentionMaxArchives,
			MaxAge:      retentionMaxAge,
			MinKeep:     retentionMinKeep,
		}
		if !cmd.Flags().Changed("max-archives") {
			policy.MaxArchives = viper.GetInt("retention.max_archives")
		}
		if !cmd.Flags().Changed("max-age") {
			policy.MaxAge = viper.GetDuration("retention.max_age")
		}
		if !cmd.Flags().Changed("min-keep") {
			policy.MinKeep = viper.GetInt("retention.min_keep")
		}

		retention := backup.NewRetention(app.store, policy, app.logger)
		result, err := retention.Apply(cmd.Context(), retentionDryRun)
		if err != nil {
			return err
		}

		verb := "deleted"
		if result.DryRun {
			verb = "would delete"
		}
		app.renderer.Printf("%s %d of %d archives (%d kept) in %s\n",
			verb, len(result.Deleted), result.Processed, result.Kept, result.Duration)
		return nil
	},
}

func init() {
	retentionCmd.Flags().IntVar(&retentionMaxArchives, "max-archives", 0, "keep at most this many archives per schema version (0 = unlimited)")
	retentionCmd.Flags().DurationVar(&retentionMaxAge, "max-age", 0, "delete archives older than this (0 = unlimited)")
	retentionCmd.Flags().IntVar(&retentionMinKeep, "min-keep", 0, "always keep at least this many archives per schema version")
	retentionCmd.Flags().BoolVar(&retentionDryRun, "dry-run", false, "report what would be deleted without deleting")

	rootCmd.AddCommand(retentionCmd)
}
