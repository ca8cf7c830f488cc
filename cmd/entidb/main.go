// Command entidb operates on an EntiDB store directory from the shell:
// take a backup, restore one, fold the log into a checkpoint, or
// inspect a backup file without loading it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/entidb"
	"github.com/cuemby/entidb/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "entidb",
	Short: "EntiDB - embedded entity-oriented storage engine",
	Long: `entidb operates on a store directory's log.bin/snapshot.bin/meta
from the command line: backups, restores, checkpoints, and read-only
inspection.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"entidb version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("dir", "", "store directory")
	rootCmd.PersistentFlags().String("config", "", "optional entidb.yaml of process-wide defaults (KDF iterations, checkpoint threshold, FTS token bounds)")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(inspectCmd)
}

// openFromFlags loads --config (if set, else config.Defaults()) and
// opens the store under --dir with the result threaded into
// entidb.Options, so every subcommand honors the same process-wide
// KDF/FTS defaults.
func openFromFlags(cmd *cobra.Command, dir string) (*entidb.Database, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Defaults()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	return entidb.Open("entidb-cli", entidb.Options{
		Dir:               dir,
		KDFIterations:     cfg.KDFIterations,
		FTSMinTokenLength: cfg.FTSMinTokenLength,
		FTSMaxTokenLength: cfg.FTSMaxTokenLength,
	})
}
