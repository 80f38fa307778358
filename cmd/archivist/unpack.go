package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scidata-tools/archivist/pkg/archivist"
)

func newUnpackCommand() *cobra.Command {
	var (
		outDir     string
		skipVerify bool
		readWrite  bool
	)

	cmd := &cobra.Command{
		Use:   "unpack [archive]",
		Short: "Restore an archive to a directory tree",
		Long: `Extract every subarchive of an archive directory, verify the
restored files against the recorded checksums, re-create symlinks,
and restore file and directory attributes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := outDir
			if dest == "" {
				dest = "."
			}
			restored, kind, err := archivist.Unpack(args[0], dest, !skipVerify, readWrite, cliLogger())
			if err != nil {
				return err
			}
			fmt.Printf("Restored: %s (%s)\n", restored, kind)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "Directory to restore into (default: current directory)")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Skip checksum verification of the restored files")
	cmd.Flags().BoolVar(&readWrite, "read-write", false, "Force owner read/write on everything restored")

	return cmd
}
