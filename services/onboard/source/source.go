// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source acquires a client's raw CSV export and turns it into
// header columns, per-column sample values, and row records for the rest
// of the pipeline.
package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// maxSamplesPerColumn caps how many example values are surfaced per
// column for classification prompts.
const maxSamplesPerColumn = 3

// Dataset is a parsed client export.
type Dataset struct {
	// Client identifies whose data this is, e.g. "acme".
	Client string
	// Columns are the header names in file order.
	Columns []string
	// Samples holds up to maxSamplesPerColumn non-empty example values
	// per column, in row order.
	Samples map[string][]string
	// Records are all data rows as column name to raw value.
	Records []map[string]string
}

// DataSource fetches one client's export.
type DataSource interface {
	Fetch(ctx context.Context, client string) (*Dataset, error)
}

// Parse reads CSV from r into a Dataset. The first row is the header;
// rows with a different field count than the header are rejected by the
// reader. An export with a header but no data rows is valid.
func Parse(r io.Reader, client string) (*Dataset, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("source: export for %q is empty", client)
	}
	if err != nil {
		return nil, fmt.Errorf("source: reading header for %q: %w", client, err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	ds := &Dataset{
		Client:  client,
		Columns: columns,
		Samples: make(map[string][]string, len(columns)),
		Records: []map[string]string{},
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("source: reading row %d for %q: %w", len(ds.Records)+2, client, err)
		}
		record := make(map[string]string, len(columns))
		for i, col := range columns {
			value := strings.TrimSpace(row[i])
			record[col] = value
			if value != "" && len(ds.Samples[col]) < maxSamplesPerColumn {
				ds.Samples[col] = append(ds.Samples[col], value)
			}
		}
		ds.Records = append(ds.Records, record)
	}
	return ds, nil
}

// ===== Fallback chaining =====

// Chain tries each source in order and returns the first success. It is
// how the portal source degrades to bundled fixtures when a client portal
// is unreachable.
type Chain struct {
	sources []DataSource
}

// NewChain builds a fallback chain. At least one source is required.
func NewChain(sources ...DataSource) *Chain {
	return &Chain{sources: sources}
}

// Fetch walks the chain. The last error is wrapped with every prior
// failure so logs show the whole degradation path.
func (c *Chain) Fetch(ctx context.Context, client string) (*Dataset, error) {
	var errs []string
	for _, s := range c.sources {
		ds, err := s.Fetch(ctx, client)
		if err == nil {
			return ds, nil
		}
		errs = append(errs, err.Error())
	}
	return nil, fmt.Errorf("source: all sources failed for %q: %s", client, strings.Join(errs, "; "))
}
