// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deploy pushes transformed records into the destination CRM. The
// reference sink writes a Google Sheet; a logging sink stands in when no
// credentials are configured so the pipeline always completes.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Result reports one deployment.
type Result struct {
	Success         bool   `json:"success"`
	RecordsDeployed int    `json:"records_deployed"`
	Destination     string `json:"destination"`
	URL             string `json:"url,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Sink receives a batch of transformed records.
type Sink interface {
	Deploy(ctx context.Context, client string, records []map[string]any) (*Result, error)
}

// fieldOrder returns the union of record keys, sorted, so every sink
// renders columns deterministically.
func fieldOrder(records []map[string]any) []string {
	seen := map[string]bool{}
	for _, r := range records {
		for k := range r {
			seen[k] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// cellString renders one value for a sink that only takes strings.
func cellString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ===== Logging sink =====

// LogSink records the deployment in the service log instead of an
// external system. It is the zero-configuration default and the fallback
// when a real sink cannot authenticate.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink that logs deployments.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Deploy logs the batch and reports success.
func (s *LogSink) Deploy(ctx context.Context, client string, records []map[string]any) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("log sink: %w", err)
	}
	s.logger.Info("deploy: records accepted",
		slog.String("client", client),
		slog.Int("records", len(records)),
		slog.Int("fields", len(fieldOrder(records))),
	)
	return &Result{
		Success:         true,
		RecordsDeployed: len(records),
		Destination:     "log",
		Message:         fmt.Sprintf("logged %d records for %s", len(records), client),
	}, nil
}

// ===== Fallback chaining =====

// Chain tries each sink in order until one succeeds.
type Chain struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewChain builds a sink fallback chain.
func NewChain(logger *slog.Logger, sinks ...Sink) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{sinks: sinks, logger: logger}
}

// Deploy walks the chain; a sink error demotes to the next sink.
func (c *Chain) Deploy(ctx context.Context, client string, records []map[string]any) (*Result, error) {
	var lastErr error
	for _, sink := range c.sinks {
		res, err := sink.Deploy(ctx, client, records)
		if err == nil {
			return res, nil
		}
		lastErr = err
		c.logger.Warn("deploy: sink failed, trying next",
			slog.String("client", client),
			slog.String("error", err.Error()),
		)
	}
	return nil, fmt.Errorf("deploy: all sinks failed for %q: %w", client, lastErr)
}
