package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scidata-tools/archivist/pkg/archivist"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [archive]",
		Short: "List the members of an archive",
		Long:  "List every file an archive holds, with its subarchive and checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := archivist.List(args[0])
			if err != nil {
				return err
			}
			for _, m := range members {
				fmt.Printf("%s\t%s\t%s\n", m.MD5, m.Subarchive, m.Path)
			}
			return nil
		},
	}

	return cmd
}

func newSearchCommand() *cobra.Command {
	var (
		name            string
		pathPattern     string
		caseInsensitive bool
	)

	cmd := &cobra.Command{
		Use:   "search [archive]",
		Short: "Search an archive for matching members",
		Long: `Search archive members by shell-style glob, against the basename
(--name) and/or the full interior path (--path).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" && pathPattern == "" {
				return fmt.Errorf("at least one of --name or --path is required")
			}
			members, err := archivist.Search(args[0], name, pathPattern, caseInsensitive)
			if err != nil {
				return err
			}
			for _, m := range members {
				fmt.Printf("%s\t%s\t%s\n", m.MD5, m.Subarchive, m.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Glob matched against member basenames")
	cmd.Flags().StringVarP(&pathPattern, "path", "p", "", "Glob matched against full member paths")
	cmd.Flags().BoolVarP(&caseInsensitive, "ignore-case", "i", false, "Match case-insensitively")

	return cmd
}

func newExtractCommand() *cobra.Command {
	var (
		outDir   string
		keepPath bool
	)

	cmd := &cobra.Command{
		Use:   "extract [archive] [pattern]",
		Short: "Extract matching files from an archive",
		Long: `Pull the files matching a shell-style glob out of an archive,
verifying each against its recorded checksum. Existing files are
never overwritten.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := outDir
			if dest == "" {
				dest = "."
			}
			return archivist.ExtractFiles(args[0], args[1], dest, keepPath, cliLogger())
		},
	}

	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "Directory to extract into (default: current directory)")
	cmd.Flags().BoolVar(&keepPath, "keep-path", false, "Keep interior paths instead of flattening to basenames")

	return cmd
}
