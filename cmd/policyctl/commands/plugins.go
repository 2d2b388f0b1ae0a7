package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pulumi/compliance-policies-sub001/pkg/plugins"
	"github.com/pulumi/compliance-policies-sub001/pkg/version"
)

func newPluginsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins [patterns...]",
		Short: "Load policy bundles and show what was installed",
		Long: `Load every configured bundle plus the go.mod requirements matching the
given glob patterns (or the configured ones when none are given). A bundle
built against a different engine version is rejected.`,
		Example: `  # Use the configured patterns
  policyctl plugins

  # Only bundles published by acme
  policyctl plugins 'github.com/acme/**'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var patterns []string
			if len(args) > 0 {
				patterns = args
			}

			a, ctx, err := newApp(cmd.Context(), patterns)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			loaded := a.loader.Loaded()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), struct {
					EngineVersion string                 `json:"engineVersion"`
					Available     []string               `json:"available"`
					Loaded        []plugins.LoadedBundle `json:"loaded"`
				}{engineVersion(a.cfg.Plugins.EngineVersion), plugins.Registered(), loaded})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Engine version: %s\n\n", engineVersion(a.cfg.Plugins.EngineVersion))

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BUNDLE\tVERSION\tENGINE\tSOURCE")
			for _, b := range loaded {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Name, b.Version, b.PolicyManagerVersion, b.Source)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d bundles loaded, %d policies registered\n", len(loaded), a.manager.Catalog().Len())
			return nil
		},
	}
	return cmd
}

func engineVersion(override string) string {
	if override != "" {
		return override
	}
	return version.PolicyManager
}
