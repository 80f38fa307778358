package main

import (
	"testing"

	"github.com/spf13/cobra"
)

// TestRootCmdSetup checks the init()-time wiring of the root command
// and its subcommands.
func TestRootCmdSetup(t *testing.T) {
	var _ *cobra.Command = rootCmd

	if rootCmd == nil {
		t.Fatal("rootCmd is nil after init")
	}

	expectedUse := "archivist"
	if rootCmd.Use != expectedUse {
		t.Errorf("expected command Use %q, got %q", expectedUse, rootCmd.Use)
	}

	want := map[string]bool{
		"version":                     false,
		"archive [directory]":         false,
		"copy [source] [dest]":        false,
		"verify [archive]":            false,
		"compare [source] [copy]":     false,
		"unpack [archive]":            false,
		"list [archive]":              false,
		"search [archive]":            false,
		"extract [archive] [pattern]": false,
		"info [directory]":            false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Use]; ok {
			want[cmd.Use] = true
		}
	}
	for use, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", use)
		}
	}
}
