package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pulumi/compliance-policies-sub001/pkg/pack"
)

func newPackCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "pack <definition>",
		Short: "Assemble a policy pack from a YAML or CUE definition",
		Long: `Assemble a pack by applying the definition's selections in order. Each
policy is added at most once, even when several selections match it.

The pack is printed with its digest, which only changes when the selected
policies, their enforcement levels or their configuration change.`,
		Example: `  # Build a pack
  policyctl pack packs/storage.yaml

  # Rebuild whenever the definition is saved
  policyctl pack packs/storage.cue --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(context.Background()) }()

			out := cmd.OutOrStdout()
			builder := a.builder()

			p, err := buildPack(ctx, a, builder, args[0])
			if err != nil {
				return err
			}
			if err := printPack(out, p); err != nil {
				return err
			}

			if !watch {
				return nil
			}

			if err := a.tel.StartMetricsServer(); err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}

			watcher := pack.NewWatcher(builder, a.logger)
			err = watcher.Watch(ctx, args[0], func(p *pack.Pack, err error) {
				if err != nil {
					return
				}
				_ = printPack(out, p)
			})
			if err != nil {
				return err
			}
			defer func() { _ = watcher.Stop() }()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "rebuild the pack when the definition changes")
	return cmd
}

func buildPack(ctx context.Context, a *app, builder *pack.Builder, path string) (*pack.Pack, error) {
	def, err := pack.LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	a.applyDefaults(def)
	return builder.Build(ctx, def)
}

func printPack(out io.Writer, p *pack.Pack) error {
	if jsonOutput {
		return printJSON(out, p)
	}

	fmt.Fprintf(out, "Pack:   %s\n", p.Name)
	fmt.Fprintf(out, "ID:     %s\n", p.ID)
	fmt.Fprintf(out, "Digest: %s\n\n", p.Digest)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POLICY\tLEVEL\tCONFIG")
	for _, pp := range p.Policies {
		configured := "-"
		if len(pp.Config) > 0 {
			configured = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", pp.Name, pp.EnforcementLevel, configured)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d policies\n", len(p.Policies))
	return nil
}
