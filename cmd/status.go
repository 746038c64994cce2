package cmd

import (
	"github.com/spf13/cobra"

	"dbrewind/internal/backup"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check storage health and show archive usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		if err := app.store.HealthCheck(cmd.Context()); err != nil {
			return err
		}
		app.renderer.Printf("storage: ok\n")

		report, err := backup.Usage(cmd.Context(), app.store)
		if err != nil {
			return err
		}
		app.renderer.RenderUsage(report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
