package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	// Registers the builtin bundle with the plugin registry.
	_ "github.com/pulumi/compliance-policies-sub001/pkg/bundles/builtin"
	"github.com/pulumi/compliance-policies-sub001/pkg/version"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, ver, commit, buildDate string) error {
	return newRootCommand(ver, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(ver, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "policyctl",
		Short: "Browse, select and run compliance policies",
		Long: `policyctl manages a catalog of compliance policies contributed by
policy bundles.

It can:
  - preview which policies match vendor, service, framework, topic and severity filters
  - assemble packs in which every policy appears at most once
  - load bundles declared in the project's go.mod, gated on engine version
  - run a pack's checks against resource descriptions`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s, engine: %s)",
			ver, commit, buildDate, version.PolicyManager),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (YAML or CUE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newPluginsCommand())
	rootCmd.AddCommand(newPackCommand())
	rootCmd.AddCommand(newCheckCommand())

	return rootCmd
}
