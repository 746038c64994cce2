package cmd

import (
	"github.com/spf13/cobra"

	"dbrewind/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect registered schema versions",
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered schema versions in registration order",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		versions := make([]*schema.Version, 0)
		for _, id := range app.registry.Versions() {
			v, err := app.registry.Version(id)
			if err != nil {
				return err
			}
			versions = append(versions, v)
		}
		app.renderer.RenderVersions(versions)
		return nil
	},
}

var schemaDiffCmd = &cobra.Command{
	Use:   "diff <source-version> <target-version>",
	Short: "Show the structural differences between two schema versions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		diff, err := app.registry.Diff(args[0], args[1])
		if err != nil {
			return err
		}
		app.renderer.RenderDiff(diff)
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules <source-version> <target-version>",
	Short: "Show the inferred field mappings between two schema versions",
	Long: `Infers the field mapping rules that a restore from source-version into
target-version would apply, without touching any data. Fields that cannot
be mapped are flagged; a restore would refuse to run if any of them is
required.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		sets, err := app.rules.Chain(args[0], args[1])
		if err != nil {
			return err
		}
		app.renderer.RenderRuleSets(sets)
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaListCmd)
	schemaCmd.AddCommand(schemaDiffCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(rulesCmd)
}
