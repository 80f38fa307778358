package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scidata-tools/archivist/pkg/archivist"
	"github.com/scidata-tools/archivist/pkg/archivist/copier"
)

func newCopyCommand() *cobra.Command {
	var (
		replaceSymlinks bool
		transformBroken bool
		followDirlinks  bool
	)

	cmd := &cobra.Command{
		Use:   "copy [source] [dest]",
		Short: "Make a verified copy of a directory",
		Long: `Copy a directory tree to a new location, record checksums and a
symlink inventory alongside it, and verify the copy against the
source before publishing it. Symlinks can optionally be replaced by
their targets for filesystems that cannot hold them.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := archivist.Copy(args[0], args[1], copier.Options{
				ReplaceSymlinks:         replaceSymlinks,
				TransformBrokenSymlinks: transformBroken,
				FollowDirlinks:          followDirlinks,
				Logger:                  cliLogger(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created copy: %s\n", d.Path())
			return nil
		},
	}

	cmd.Flags().BoolVar(&replaceSymlinks, "replace-symlinks", false, "Replace file symlinks with copies of their targets")
	cmd.Flags().BoolVar(&transformBroken, "transform-broken-symlinks", false, "Replace broken symlinks with placeholder files holding the link text")
	cmd.Flags().BoolVar(&followDirlinks, "follow-dirlinks", false, "Copy the contents of directory symlinks as real directories")

	return cmd
}
