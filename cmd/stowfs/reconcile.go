package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/config"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare the cache with the backend",
	Long: `List backend objects with no cache entry (orphans) and file entries
whose object is missing (dangling). Nothing is changed. The backend must
support listing.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

var (
	reconcileOutput string
	reconcileStrict bool
)

func init() {
	reconcileCmd.Flags().StringVarP(&reconcileOutput, "output", "o", "yaml", "output format: yaml, json")
	reconcileCmd.Flags().BoolVar(&reconcileStrict, "strict", false, "exit non-zero when differences are found")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}

	return withStorage(cmd.Context(), func(s *stowfs.Storage) error {
		report, err := stowfs.Reconcile(cmd.Context(), s, cfg.Storage.ObjectPrefix)
		if err != nil {
			return err
		}
		if err := writeOutput(cmd.OutOrStdout(), reconcileOutput, report); err != nil {
			return err
		}

		if reconcileStrict && len(report.Orphans)+len(report.Dangling) > 0 {
			return fmt.Errorf("%d orphans, %d dangling entries: %w", len(report.Orphans), len(report.Dangling), stowfs.ErrConsistency)
		}
		return nil
	})
}
