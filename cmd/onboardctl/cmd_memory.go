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

	"github.com/spf13/cobra"
)

type memoryListing struct {
	Count    int `json:"count"`
	Mappings []struct {
		SourceColumn string `json:"source_column"`
		TargetField  string `json:"target_field"`
		OriginClient string `json:"origin_client"`
		UseCount     int    `json:"use_count"`
	} `json:"mappings"`
}

func runMemoryListCommand(_ *cobra.Command, _ []string) {
	resp, err := httpClient.Get(fmt.Sprintf("%s/v1/memory", serverURL))
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

	var listing memoryListing
	if err := json.Unmarshal(body, &listing); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}

	if listing.Count == 0 {
		fmt.Println("Memory is empty.")
		return
	}
	fmt.Printf("%d learned mappings:\n", listing.Count)
	for _, m := range listing.Mappings {
		fmt.Printf("  %-24s -> %-20s learned from %s, used %d times\n",
			m.SourceColumn, m.TargetField, m.OriginClient, m.UseCount)
	}
}

func runMemoryResetCommand(_ *cobra.Command, _ []string) {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/memory", serverURL), nil)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Fatalf("Server returned %d: %s", resp.StatusCode, string(body))
	}
	fmt.Println("Memory reset.")
}
