// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed fixtures/*.csv
var fixtureFS embed.FS

// LocalSource serves CSV exports bundled into the binary. It backs demos
// and is the last link in the portal fallback chain, so an onboarding run
// can complete with no network at all.
type LocalSource struct{}

// NewLocalSource returns a source over the bundled fixtures.
func NewLocalSource() *LocalSource {
	return &LocalSource{}
}

// Fetch parses the bundled export for the client.
func (l *LocalSource) Fetch(ctx context.Context, client string) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("local source: %w", err)
	}
	f, err := fixtureFS.Open(fmt.Sprintf("fixtures/%s.csv", client))
	if err != nil {
		return nil, fmt.Errorf("local source: no bundled export for %q", client)
	}
	defer f.Close()
	return Parse(f, client)
}

// Clients lists the clients with bundled exports, sorted.
func (l *LocalSource) Clients() []string {
	entries, err := fs.ReadDir(fixtureFS, "fixtures")
	if err != nil {
		return nil
	}
	clients := make([]string, 0, len(entries))
	for _, e := range entries {
		clients = append(clients, strings.TrimSuffix(e.Name(), ".csv"))
	}
	sort.Strings(clients)
	return clients
}
