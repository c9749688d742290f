package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowfs/config"
	"github.com/sagarc03/stowfs/objectstore/backends"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration",
	Long: `Validate the configuration file and the object store definitions, then
open the database, migrating its schema if needed. With --connect the configured storage is mounted as well,
which authenticates against the backend.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

var checkConnect bool

func init() {
	checkCmd.Flags().BoolVar(&checkConnect, "connect", false, "mount the storage to verify backend access")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	stores, err := cfg.ObjectStores(backends.Default())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if stores == nil {
		_, _ = fmt.Fprintln(out, "objectstore: none configured")
	} else {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "STORE\tKIND\tBUCKET\tMULTIBUCKET")
		for _, name := range stores.Names() {
			sc, err := stores.Get(name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", name, sc.Kind, sc.Bucket(), sc.Multibucket)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	_, _ = fmt.Fprintf(out, "database: %s ok\n", cfg.Database.Type)

	if !checkConnect {
		return nil
	}

	s, err := a.storage(ctx)
	if err != nil {
		return err
	}
	if _, err := s.Store().ObjectExists(ctx, s.URN(0)); err != nil {
		return fmt.Errorf("probe %s: %w", s.ID(), err)
	}
	_, _ = fmt.Fprintf(out, "storage: %s ok\n", s.ID())
	return nil
}
