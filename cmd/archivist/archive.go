package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scidata-tools/archivist/pkg/archivist"
)

func newArchiveCommand() *cobra.Command {
	var (
		outDir     string
		volumeSize string
		level      int
		group      string
	)

	cmd := &cobra.Command{
		Use:   "archive [directory]",
		Short: "Pack a directory into a compressed archive",
		Long: `Pack a directory tree into a checksummed .archive directory of
tar.gz subarchives. The subarchive layout follows the tree's
structure: one archive for a plain tree, one per top-level directory
for a tree of directories, and one per project for a tree carrying a
projects.info index.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := archivist.MakeOptions{
				OutDir:        outDir,
				CompressLevel: level,
				Group:         group,
				Logger:        cliLogger(),
			}
			if volumeSize != "" {
				size, err := archivist.ParseSize(volumeSize)
				if err != nil {
					return fmt.Errorf("invalid volume size %q: %w", volumeSize, err)
				}
				opts.VolumeSize = size
			}
			d, err := archivist.MakeArchive(args[0], opts)
			if err != nil {
				return err
			}
			fmt.Printf("Created archive: %s\n", d.Path())
			md := d.Metadata()
			fmt.Printf("Source size: %s\n", archivist.FormatSize(md.SourceSize))
			fmt.Printf("Subarchives: %d\n", len(md.Subarchives))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "Directory to create the archive in (default: current directory)")
	cmd.Flags().StringVarP(&volumeSize, "volume-size", "S", "", "Split subarchives into volumes of roughly this size (e.g. 250M, 4G)")
	cmd.Flags().IntVarP(&level, "compression-level", "l", 0, "gzip compression level 1-9 (default 6)")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Set this group on the finished archive")

	return cmd
}
