package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

type catalogStats struct {
	policy.SelectionStats
	ByLevel  map[policy.EnforcementLevel]int `json:"byLevel"`
	ByVendor map[string]int                  `json:"byVendor"`
}

// computeStats counts policies per enforcement level and per vendor. Vendors
// are keyed by their normalized value, so "AWS" and "aws" count as one, and a
// policy is counted at most once per vendor.
func computeStats(mgr *policy.Manager) catalogStats {
	catalog := mgr.Catalog()
	stats := catalogStats{
		SelectionStats: mgr.GetSelectionStats(),
		ByLevel:        make(map[policy.EnforcementLevel]int),
		ByVendor:       make(map[string]int),
	}
	for _, name := range catalog.Names() {
		p, _ := catalog.GetByName(name)
		stats.ByLevel[p.EnforcementLevel]++
		class, _ := catalog.Classification(name)
		seen := make(map[string]bool, len(class.Vendors))
		for _, v := range class.Vendors {
			key := policy.NormalizeValue(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			stats.ByVendor[key]++
		}
	}
	return stats
}

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			stats := computeStats(a.manager)

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), stats)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Policies registered: %d\n", stats.PolicyCount)
			fmt.Fprintf(out, "Policies remaining:  %d\n", stats.RemainingPolicyCount)
			fmt.Fprintf(out, "Policies selected:   %d\n", stats.SelectedPoliciesCount)

			fmt.Fprintln(out, "\nBy enforcement level:")
			for _, level := range policy.EnforcementLevels {
				if n := stats.ByLevel[level]; n > 0 {
					fmt.Fprintf(out, "  %-10s %d\n", level, n)
				}
			}

			vendors := make([]string, 0, len(stats.ByVendor))
			for v := range stats.ByVendor {
				vendors = append(vendors, v)
			}
			sort.Strings(vendors)
			fmt.Fprintln(out, "\nBy vendor:")
			for _, v := range vendors {
				fmt.Fprintf(out, "  %-10s %d\n", v, stats.ByVendor[v])
			}
			return nil
		},
	}
	return cmd
}
