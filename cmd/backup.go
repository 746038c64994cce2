package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dbrewind/internal/backup"
	"dbrewind/internal/source"
)

var (
	backupDSN  string
	backupBase string
)

var backupCmd = &cobra.Command{
	Use:   "backup <schema-version>",
	Short: "Capture a backup of a database under a registered schema version",
	Long: `Scans every table of the source database and writes an archive to the
configured storage backend. With --base the archive only records rows that
changed since the base archive, plus tombstones for rows that disappeared.

Examples:
  dbrewind backup 3 --dsn "user:pass@tcp(localhost:3306)/app"
  dbrewind backup 3 --dsn "..." --base 1f0c2e`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		src, err := source.Open(ctx, backupDSN)
		if err != nil {
			return fmt.Errorf("connecting to source database: %w", err)
		}
		defer src.Close()

		meta, err := app.engine.Backup(ctx, args[0], src, backupBase)
		if err != nil {
			return err
		}
		app.renderer.RenderArchiveDetail(meta)
		return nil
	},
}

var listSchemaVersion string
var listMax int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored archives, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		items, err := app.store.List(cmd.Context(), backup.Filter{
			SchemaVersion: listSchemaVersion,
			MaxItems:      listMax,
		})
		if err != nil {
			return err
		}
		app.renderer.RenderArchives(items)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <archive-id>",
	Short: "Show the metadata of a single archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		meta, err := app.store.Metadata(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		app.renderer.RenderArchiveDetail(meta)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <archive-id>",
	Short: "Delete an archive from storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		if err := app.store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		app.renderer.Printf("deleted %s\n", args[0])
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <archive-id>",
	Short: "Verify the integrity of a stored archive",
	Long: `Fetches and fully decodes the archive, which checks the frame checksum
and, for encrypted archives, the authentication tag. Corruption or a wrong
passphrase fails the command.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		arch, err := app.engine.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		app.renderer.Printf("%s ok: %d tables, %d rows, %d tombstones\n",
			arch.ID, len(arch.TableNames()), arch.RowCount(), arch.TombstoneCount())
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupDSN, "dsn", "", "source database DSN (required)")
	backupCmd.Flags().StringVar(&backupBase, "base", "", "base archive ID for a differential backup")
	backupCmd.Flags().BoolVar(&promptPassphrase, "prompt-passphrase", false, "read the archive passphrase from the terminal")
	backupCmd.MarkFlagRequired("dsn")

	listCmd.Flags().StringVar(&listSchemaVersion, "schema-version", "", "only list archives of this schema version")
	listCmd.Flags().IntVar(&listMax, "max", 0, "limit the number of archives listed (0 = all)")

	verifyCmd.Flags().BoolVar(&promptPassphrase, "prompt-passphrase", false, "read the archive passphrase from the terminal")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(verifyCmd)
}
