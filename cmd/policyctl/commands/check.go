package commands

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pulumi/compliance-policies-sub001/pkg/pack"
)

// errBlocked is returned when a mandatory policy reported a violation.
var errBlocked = errors.New("mandatory policy violations found")

func newCheckCommand() *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "check <definition> <resources>",
		Short: "Assemble a pack and run it against resources",
		Long: `Assemble a pack from the definition and run every enabled policy in it
against each resource in the YAML resource file. Disabled policies are
skipped. The command fails when a mandatory policy reports a violation.`,
		Example: `  policyctl check packs/storage.yaml resources.yaml`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			p, err := buildPack(ctx, a, a.builder(), args[0])
			if err != nil {
				return err
			}
			resources, err := pack.LoadResources(args[1])
			if err != nil {
				return err
			}

			runner := pack.NewRunner(a.logger, a.tel.Metrics, a.tel.Tracer, pack.WithParallelism(parallel))
			report, err := runner.Run(ctx, p, resources)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else if err := printReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}

			if report.Blocking() {
				return errBlocked
			}
			return report.Err()
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", pack.DefaultParallelism, "number of checks to run at once")
	return cmd
}

func printReport(out io.Writer, r *pack.Report) error {
	fmt.Fprintf(out, "Pack %s (%s)\n", r.PackName, r.Digest)
	fmt.Fprintf(out, "%d checks over %d resources, %d skipped policies\n\n", r.Checks, r.Resources, len(r.Skipped))

	if len(r.Violations) == 0 {
		fmt.Fprintln(out, "No violations.")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LEVEL\tPOLICY\tRESOURCE\tMESSAGE")
		for _, v := range r.Violations {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.EnforcementLevel, v.Policy, v.ResourceName, v.Message)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	for _, e := range r.Errors {
		fmt.Fprintf(out, "error: %s\n", e.Error())
	}
	return nil
}
