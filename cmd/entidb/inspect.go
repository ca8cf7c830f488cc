package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/entidb/backup"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <backup-file>",
	Short: "Validate a backup file and print its header summary",
	Long: `Parse a backup file's header and footer and verify its checksum
without loading any record beyond what's needed to count the body, then
print what it found. Does not require --dir or an open store.

Examples:
  entidb inspect store.bak`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read backup file: %v", err)
	}

	info, err := backup.ValidateBackup(data)
	if err != nil {
		return fmt.Errorf("invalid backup: %v", err)
	}

	fmt.Printf("valid: %v\nrecords: %d\nsize: %d bytes\ncreated (unix): %d\n",
		info.Valid, info.RecordCount, info.Size, info.Timestamp)
	return nil
}
