package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scidata-tools/archivist/pkg/archivist"
)

var verbosity int

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "archivist",
	Short: "A directory archiving and verification tool",
	Long: `archivist packs directory trees into checksummed, optionally
multi-volume tar.gz archives, makes verified copies of trees that
cannot be compressed, and restores or inspects archives made earlier.
Every archive carries enough metadata to be verified and recovered
with standard tools.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"Increase log verbosity (repeatable)")

	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(newArchiveCommand())
	rootCmd.AddCommand(newCopyCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newCompareCommand())
	rootCmd.AddCommand(newUnpackCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newSearchCommand())
	rootCmd.AddCommand(newExtractCommand())
	rootCmd.AddCommand(newInfoCommand())
}

// cliLogger maps the repeatable -v flag onto a console logger.
func cliLogger() zerolog.Logger {
	return archivist.NewVerboseLogger(os.Stderr, verbosity)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Print the version number of archivist`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("archivist version %s (commit: %s, built: %s)\n", version, commit, date)
	},
}
