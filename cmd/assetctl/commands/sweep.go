package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stored assets no entity references",
	Long: `Lists every stored asset and deletes those older than the grace period
that no active or trashed entity references. Use --dry-run to only list them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		grace := viper.GetDuration("sweep.grace")
		if cmd.Flags().Changed("grace") {
			var err error
			if grace, err = cmd.Flags().GetDuration("grace"); err != nil {
				return err
			}
		}
		if err := contentasset.CheckSweepGrace(grace); err != nil {
			return err
		}
		dryRun, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return err
		}

		report, err := rt.Sweeper.SweepUnreferenced(cmd.Context(), grace, dryRun)
		if err != nil {
			return err
		}
		if asJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		printSweep(cmd.OutOrStdout(), report, grace)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry-leaks",
	Short: "Retry deleting assets whose reclamation failed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		report, err := rt.Sweeper.RetryLeaks(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if asJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "attempted %d, deleted %d, still referenced %d, failed %d\n",
			report.Attempted, len(report.Deleted), len(report.StillReferenced), len(report.Failed))
		for _, w := range report.Failed {
			fmt.Fprintf(out, "  failed: %s\n", w)
		}
		return nil
	},
}

var leaksCmd = &cobra.Command{
	Use:   "leaks",
	Short: "List recorded leaks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		leaks, err := rt.Ledger.Pending(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if asJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), leaks)
		}
		if len(leaks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No leaks recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "REFERENCE\tENTITY\tATTEMPTS\tLAST SEEN\tREASON")
		for _, l := range leaks {
			fmt.Fprintf(tw, "%s\t%s/%s\t%d\t%s\t%s\n",
				l.Reference, l.EntityType, l.EntityID, l.Attempts, l.LastSeen.Format(time.RFC3339), l.Reason)
		}
		return tw.Flush()
	},
}

func init() {
	sweepCmd.Flags().Duration("grace", contentasset.DefaultSweepGrace, "only delete assets older than this (at least 1h)")
	sweepCmd.Flags().Bool("dry-run", false, "list candidates without deleting")
	retryCmd.Flags().Int("limit", 0, "maximum leaks to retry (0 for all)")
	leaksCmd.Flags().Int("limit", 0, "maximum leaks to list (0 for all)")
	for _, c := range []*cobra.Command{sweepCmd, retryCmd, leaksCmd, verifyCmd} {
		c.Flags().Bool("json", false, "print JSON")
	}
}

func printSweep(out io.Writer, r *contentasset.SweepReport, grace time.Duration) {
	verb := "deleted"
	if r.DryRun {
		verb = "would delete"
	}
	fmt.Fprintf(out, "scanned %d, referenced %d, newer than %s %d, %s %d\n",
		r.Scanned, r.Referenced, grace, r.TooRecent, verb, len(r.Candidates))
	list := r.Deleted
	if r.DryRun {
		list = r.Candidates
	}
	for _, ref := range list {
		fmt.Fprintf(out, "  %s\n", ref)
	}
	for _, w := range r.Failed {
		fmt.Fprintf(out, "  failed: %s\n", w)
	}
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
