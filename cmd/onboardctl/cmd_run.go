// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// httpClient covers the longest allowed run: a full voice session plus
// deployment.
var httpClient = &http.Client{Timeout: 5 * time.Minute}

type runSummary struct {
	Client        string `json:"client"`
	TotalColumns  int    `json:"total_columns"`
	FromMemory    int    `json:"from_memory"`
	AutoMapped    int    `json:"auto_mapped"`
	HumanResolved int    `json:"human_resolved"`
	Unresolved    int    `json:"unresolved"`
	NewLearnings  int    `json:"new_learnings"`
	RecordsTotal  int    `json:"records_total"`
	Mappings      []struct {
		SourceColumn string `json:"source_column"`
		TargetField  string `json:"target_field"`
		Confidence   string `json:"confidence"`
		FromMemory   bool   `json:"from_memory"`
	} `json:"mappings"`
	Deployment *struct {
		Success         bool   `json:"success"`
		RecordsDeployed int    `json:"records_deployed"`
		Destination     string `json:"destination"`
		URL             string `json:"url"`
	} `json:"deployment"`
	DurationMillis int64 `json:"duration_millis"`
}

func runOnboardCommand(_ *cobra.Command, args []string) {
	client := args[0]
	fmt.Printf("Onboarding %s via %s\n", client, serverURL)
	fmt.Println("---")

	resp, err := httpClient.Post(fmt.Sprintf("%s/v1/onboard/%s", serverURL, client), "application/json", nil)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Server returned %d: %s", resp.StatusCode, string(body))
	}

	var summary runSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}

	fmt.Printf("Columns: %d total, %d from memory, %d auto, %d human, %d unresolved\n",
		summary.TotalColumns, summary.FromMemory, summary.AutoMapped-summary.HumanResolved,
		summary.HumanResolved, summary.Unresolved)
	fmt.Println("\nMappings:")
	for _, m := range summary.Mappings {
		origin := ""
		if m.FromMemory {
			origin = " (memory)"
		}
		fmt.Printf("  %-24s -> %-20s [%s]%s\n", m.SourceColumn, m.TargetField, m.Confidence, origin)
	}
	if summary.Deployment != nil {
		fmt.Printf("\nDeployed %d records to %s", summary.Deployment.RecordsDeployed, summary.Deployment.Destination)
		if summary.Deployment.URL != "" {
			fmt.Printf(" (%s)", summary.Deployment.URL)
		}
		fmt.Println()
	}
	fmt.Printf("Learned %d new mappings in %s\n", summary.NewLearnings,
		(time.Duration(summary.DurationMillis) * time.Millisecond).Round(time.Millisecond))
	fmt.Println(strings.Repeat("-", 3))
}
