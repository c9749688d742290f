package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [uid]",
	Short: "Show the object store backing a user",
	Long: `Print the object store configuration a user resolves to, assigning a
store and bucket on first resolution. Without a uid the root storage is
shown. Credential arguments are redacted.

Examples:
  stowfs resolve alice
  stowfs resolve alice --assign archive
  stowfs resolve -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResolve,
}

var (
	resolveOutput string
	resolveAssign string
)

func init() {
	resolveCmd.Flags().StringVarP(&resolveOutput, "output", "o", "yaml", "output format: yaml, json")
	resolveCmd.Flags().StringVar(&resolveAssign, "assign", "", "pin the user to this store first")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if len(args) == 1 {
		a.cfg.Storage.User = args[0]
	}

	if resolveAssign != "" {
		if a.cfg.Storage.User == "" {
			return fmt.Errorf("--assign needs a uid")
		}
		if err := a.resolver.Assign(ctx, a.cfg.Storage.User, resolveAssign); err != nil {
			return err
		}
	}

	oc, err := a.resolve(ctx)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), resolveOutput, redact(oc))
}
