// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command onboardctl is the operator CLI for the onboarding server.
//
// Usage:
//
//	onboardctl run acme
//	onboardctl memory list
//	onboardctl memory reset
//	onboardctl --server http://localhost:9090 run globex
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// serverURL holds the --server flag value, shared by every subcommand.
var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "onboardctl",
		Short: "Operator CLI for the client onboarding server",
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the onboarding server")

	runCmd := &cobra.Command{
		Use:   "run <client>",
		Short: "Run the onboarding pipeline for a client",
		Args:  cobra.ExactArgs(1),
		Run:   runOnboardCommand,
	}

	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or reset the learned mapping memory",
	}
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every learned mapping",
		Args:  cobra.NoArgs,
		Run:   runMemoryListCommand,
	})
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Wipe the mapping memory",
		Args:  cobra.NoArgs,
		Run:   runMemoryResetCommand,
	})

	rootCmd.AddCommand(runCmd, memoryCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
