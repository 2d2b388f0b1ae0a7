package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

type listedPolicy struct {
	policy.Policy
	Classification policy.Classification `json:"classification"`
}

func newListCommand() *cobra.Command {
	var criteria policy.Criteria

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Preview the policies matching a filter",
		Long: `List the registered policies that match the given filters without
dispensing them. Values within one filter are alternatives; different
filters must all match.`,
		Example: `  # Every AWS or Azure storage policy
  policyctl list --vendor aws --vendor azure --service s3 --service storage

  # High severity PCI DSS policies as JSON
  policyctl list --framework pcidss --severity high --severity critical --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			catalog := a.manager.Catalog()
			found := catalog.Find(criteria)

			listed := make([]listedPolicy, len(found))
			for i, p := range found {
				class, _ := catalog.Classification(p.Name)
				listed[i] = listedPolicy{Policy: p, Classification: class}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), listed)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLEVEL\tSEVERITY\tVENDORS\tSERVICES\tFRAMEWORKS")
			for _, l := range listed {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					l.Name,
					l.EnforcementLevel,
					dash(l.Classification.Severity),
					dash(strings.Join(l.Classification.Vendors, ",")),
					dash(strings.Join(l.Classification.Services, ",")),
					dash(strings.Join(l.Classification.Frameworks, ",")),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d policies matched\n", len(listed), catalog.Len())
			return nil
		},
	}

	addCriteriaFlags(cmd, &criteria)
	return cmd
}

func addCriteriaFlags(cmd *cobra.Command, c *policy.Criteria) {
	cmd.Flags().StringSliceVar(&c.Vendors, "vendor", nil, "vendor to match (repeatable)")
	cmd.Flags().StringSliceVar(&c.Services, "service", nil, "service to match (repeatable)")
	cmd.Flags().StringSliceVar(&c.Frameworks, "framework", nil, "compliance framework to match (repeatable)")
	cmd.Flags().StringSliceVar(&c.Topics, "topic", nil, "topic to match (repeatable)")
	cmd.Flags().StringSliceVar(&c.Severities, "severity", nil, "severity to match (repeatable)")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
