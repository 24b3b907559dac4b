package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// VerifyReport lists references that point at missing assets
type VerifyReport struct {
	Checked int      `json:"checked"`
	Missing []string `json:"missing,omitempty"`
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every referenced asset exists",
	Long: `Reads the reference set of every active and trashed entity and checks
each reference against the asset store. Exits non-zero when any is missing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := verify(cmd.Context(), rt.Repository, rt.Store)
		if err != nil {
			return err
		}
		if asJSON(cmd) {
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d references, %d missing\n", report.Checked, len(report.Missing))
			for _, ref := range report.Missing {
				fmt.Fprintf(cmd.OutOrStdout(), "  missing: %s\n", ref)
			}
		}
		if len(report.Missing) > 0 {
			return fmt.Errorf("%d references point at missing assets", len(report.Missing))
		}
		return nil
	},
}

func verify(ctx context.Context, repo contentasset.Repository, store contentasset.AssetStore) (*VerifyReport, error) {
	refs := contentasset.NewReferenceSet()
	if err := repo.ForEachReference(ctx, func(ref string) error {
		refs.Add(ref)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load references: %w", err)
	}

	report := &VerifyReport{}
	for _, ref := range refs.Sorted() {
		report.Checked++
		ok, err := store.Exists(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", ref, err)
		}
		if !ok {
			report.Missing = append(report.Missing, ref)
		}
	}
	return report, nil
}
