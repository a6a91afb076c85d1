package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/promptflow/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .promptflow/config.yaml",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := config.ProjectConfigPath
		if cfgFile != "" {
			path = cfgFile
		}
		wrote, err := config.WriteDefaultConfig(path, initForce)
		if err != nil {
			return err
		}
		if !wrote {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists (use --force to overwrite)\n", path)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config")
}
