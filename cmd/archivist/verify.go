package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scidata-tools/archivist/pkg/archivist"
	"github.com/scidata-tools/archivist/pkg/archivist/copier"
)

func newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [archive]",
		Short: "Verify an archive against its checksums",
		Long:  "Check every file of an archive directory against its recorded MD5 checksums",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := archivist.VerifyArchive(args[0], cliLogger())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("verification failed: %s", args[0])
			}
			fmt.Printf("✓ Archive verified: %s\n", args[0])
			return nil
		},
	}

	return cmd
}

func newCompareCommand() *cobra.Command {
	var (
		followSymlinks bool
		placeholders   bool
		ignore         []string
	)

	cmd := &cobra.Command{
		Use:   "compare [source] [copy]",
		Short: "Compare a copy against its source directory",
		Long: `Check that every entry of the source exists in the copy with
matching type and content, and that the copy holds nothing extra.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := archivist.VerifyCopy(args[0], args[1], copier.CompareOptions{
				FollowSymlinks:    followSymlinks,
				AllowPlaceholders: placeholders,
				IgnorePaths:       ignore,
				Logger:            cliLogger(),
			})
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("copy does not match source")
			}
			fmt.Printf("✓ Copy matches source\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&followSymlinks, "follow-symlinks", false, "Compare symlink targets by content instead of link text")
	cmd.Flags().BoolVar(&placeholders, "placeholders", false, "Accept placeholder files in place of broken symlinks")
	cmd.Flags().StringArrayVar(&ignore, "ignore", nil, "Relative path pattern to skip (repeatable)")

	return cmd
}
