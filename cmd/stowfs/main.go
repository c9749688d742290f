package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowfs/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "stowfs",
	Short:   "Filesystem view over object storage",
	Long: `stowfs presents an object store (S3, legacy S3, Swift, Azure Blob or a
local directory) as a hierarchical filesystem. Paths, directories and sizes
live in a SQL metadata cache; the backend only holds id derived objects.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFiles, err := cmd.Flags().GetStringSlice("config")
		if err != nil {
			return err
		}

		cfg, err := config.Load(configFiles, cmd.Flags())
		if err != nil {
			return err
		}

		setupLogging(cfg)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSlice("config", nil, "config file paths, later files override earlier ones (default: ./stowfs.yaml)")
	rootCmd.PersistentFlags().String("db-type", "", "database type: sqlite, postgres (default: sqlite, env: STOWFS_DATABASE_TYPE)")
	rootCmd.PersistentFlags().String("db-dsn", "", "database connection string (default: stowfs.db, env: STOWFS_DATABASE_DSN)")
	rootCmd.PersistentFlags().String("temp-dir", "", "directory for open write handles (env: STOWFS_STORAGE_TEMP_DIR)")
	rootCmd.PersistentFlags().String("user", "", "operate on this user's home storage instead of the root storage (env: STOWFS_STORAGE_USER)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (env: STOWFS_LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
