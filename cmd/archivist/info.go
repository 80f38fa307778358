package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scidata-tools/archivist/pkg/archivist"
	"github.com/scidata-tools/archivist/pkg/archivist/archive"
	"github.com/scidata-tools/archivist/pkg/archivist/inspect"
)

func newInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info [directory]",
		Short: "Report the structure and contents of a directory",
		Long: `Classify a directory and report the characteristics that matter
for archiving it: size, symlink variants, hard links, unreadable
entries and case-sensitive name collisions. For archive directories
the recorded metadata is reported instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := archivist.Classify(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Path: %s\n", args[0])
			fmt.Printf("Kind: %s\n", kind)
			if kind == archivist.Archive || kind == archivist.CopyArchive {
				return printArchiveInfo(args[0])
			}
			return printDirInfo(args[0], kind)
		},
	}

	return cmd
}

func printArchiveInfo(path string) error {
	d, err := archive.Open(path)
	if err != nil {
		return err
	}
	md := d.Metadata()
	fmt.Printf("Name: %s\n", md.Name)
	fmt.Printf("Source: %s\n", md.Source)
	if md.SourceSize > 0 {
		fmt.Printf("Source size: %s\n", archivist.FormatSize(md.SourceSize))
	}
	fmt.Printf("Created: %s by %s (version %s)\n", md.CreationDate, md.User, md.Version)
	if md.MultiVolume {
		fmt.Printf("Multi-volume: yes (%s per volume)\n", md.VolumeSize)
	}
	if len(md.Subarchives) > 0 {
		fmt.Printf("Subarchives:\n")
		for _, s := range md.Subarchives {
			fmt.Printf("  %s\n", s)
		}
	}
	if len(md.Files) > 0 {
		fmt.Printf("Top-level files:\n")
		for _, f := range md.Files {
			fmt.Printf("  %s\n", f)
		}
	}
	return nil
}

func printDirInfo(path string, kind archivist.Kind) error {
	d, err := inspect.NewDir(path)
	if err != nil {
		return err
	}
	fmt.Printf("Size: %s (%d files, %d directories)\n",
		archivist.FormatSize(d.Size()), d.TotalFiles(), d.TotalDirs())
	if largest, size := d.LargestFile(); largest != "" {
		fmt.Printf("Largest file: %s (%s)\n", largest, archivist.FormatSize(size))
	}
	if kind == archivist.MultiProject {
		projects, err := archivist.ProjectDirs(d.Path())
		if err != nil {
			return err
		}
		fmt.Printf("Projects:\n")
		for _, p := range projects {
			fmt.Printf("  %s\n", p)
		}
	}
	flags := d.Flags()
	report := func(label string, present bool, paths []string) {
		if !present {
			return
		}
		fmt.Printf("%s: %d\n", label, len(paths))
	}
	report("Symlinks", flags.HasSymlinks, d.Symlinks())
	report("Broken symlinks", flags.HasBrokenSymlinks, d.BrokenSymlinks())
	report("Unresolvable symlinks", flags.HasUnresolvableSymlinks, d.UnresolvableSymlinks())
	report("Directory symlinks", flags.HasDirlinks, d.Dirlinks())
	report("External symlinks", flags.HasExternalSymlinks, d.ExternalSymlinks())
	report("Hard-linked files", flags.HasHardLinkedFiles, d.HardLinkedFiles())
	report("Unreadable files", flags.HasUnreadableFiles, d.UnreadableFiles())
	if flags.HasCaseSensitiveFilenames {
		fmt.Printf("Case-sensitive name collisions:\n")
		for _, group := range d.CaseSensitiveNames() {
			fmt.Printf("  %v\n", group)
		}
	}
	return nil
}
