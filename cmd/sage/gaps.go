package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/sage/internal/gaps"
)

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Knowledge-gap maintenance",
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge open gaps whose questions are near-duplicates",
	Long: `Finds open gaps of one tenant whose question embeddings are at least
--threshold similar and folds each cluster into its most frequent member.
Without --execute the merge plan is printed and nothing is changed.`,
	RunE: runConsolidate,
}

var (
	consolidateTenant    string
	consolidateThreshold float64
	consolidateExecute   bool
)

func init() {
	consolidateCmd.Flags().StringVar(&consolidateTenant, "tenant", "", "tenant id (required)")
	consolidateCmd.Flags().Float64Var(&consolidateThreshold, "threshold", 0.92, "minimum cosine similarity")
	consolidateCmd.Flags().BoolVar(&consolidateExecute, "execute", false, "apply the merges")
	_ = consolidateCmd.MarkFlagRequired("tenant")

	gapsCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(gapsCmd)
}

func runConsolidate(cmd *cobra.Command, _ []string) error {
	tenantID, err := parseUUIDArg("tenant", consolidateTenant)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{requireDB: true})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := gaps.NewConsolidator(a.store, a.logger).Consolidate(cmd.Context(), tenantID, consolidateThreshold, consolidateExecute)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
