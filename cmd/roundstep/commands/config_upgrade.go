package commands

import (
	"github.com/spf13/cobra"

	"github.com/roundstep/roundstep/config"
)

// MakeConfigUpgradeCommand constructs a command that rewrites a config file
// from an older grammar to the current one.
func MakeConfigUpgradeCommand(conf *config.Config) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "config-upgrade",
		Short: "Upgrade a config file to the current grammar",
		Long: `Reads the node's config file, rewrites legacy keys to the current
grammar and fills in any missing settings with their defaults. The file is
replaced in place unless --output names a different destination.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := conf.ConfigFile()
			out := outputPath
			if out == "" {
				out = configPath
			}
			return config.Upgrade(cmd.Context(), configPath, out)
		},
	}

	cmd.Flags().StringVar(&outputPath, "output", "", "destination path (defaults to rewriting in place)")

	return cmd
}
