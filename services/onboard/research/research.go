// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package research retrieves free-text context about ambiguous column names
// from a web search API.
//
// This is an optional boundary: it never returns an error. Any failure
// (missing API key, transport error, bad status, unparseable body) yields
// an empty string, and the classifier simply works without context.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// snippetCap bounds how many result snippets are concatenated into context.
const snippetCap = 5

// searchResponse is the subset of the search API reply we consume.
type searchResponse struct {
	Results struct {
		Web []struct {
			Snippets []string `json:"snippets"`
		} `json:"web"`
	} `json:"results"`
}

// Engine caches search results by exact query string.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	cache  map[string]string
	apiKey string
	urlStr string
	client *http.Client
	logger *slog.Logger
}

// NewEngine creates a research engine from environment configuration.
//
// Reads YOU_API_KEY; an empty key disables live search and every query
// returns "" (after checking the cache, which tests may pre-seed).
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	urlStr := os.Getenv("YOU_SEARCH_URL")
	if urlStr == "" {
		urlStr = "https://api.ydc-index.io/v1/search"
	}
	return &Engine{
		cache:  make(map[string]string),
		apiKey: os.Getenv("YOU_API_KEY"),
		urlStr: urlStr,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// ColumnContext returns search context for a column name in a given domain,
// or "" when none is available. Never fails.
func (e *Engine) ColumnContext(ctx context.Context, columnName, domain string) string {
	if domain == "" {
		domain = "CRM"
	}
	query := fmt.Sprintf(
		"What does the column '%s' typically mean in %s data? Standard field name mapping.",
		columnName, domain,
	)
	return e.Search(ctx, query)
}

// Search returns concatenated snippet text for a query, or "".
func (e *Engine) Search(ctx context.Context, query string) string {
	e.mu.Lock()
	if cached, ok := e.cache[query]; ok {
		e.mu.Unlock()
		return cached
	}
	e.mu.Unlock()

	if e.apiKey == "" {
		return ""
	}

	result := e.fetch(ctx, query)

	e.mu.Lock()
	e.cache[query] = result
	e.mu.Unlock()
	return result
}

// Seed installs a canned answer for an exact query. Used by demo mode and
// tests; live results never overwrite a seeded entry.
func (e *Engine) Seed(query, context string) {
	e.mu.Lock()
	e.cache[query] = context
	e.mu.Unlock()
}

func (e *Engine) fetch(ctx context.Context, query string) string {
	reqURL := e.urlStr + "?" + url.Values{"query": {query}, "language": {"EN"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("X-API-Key", e.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("research: search failed", slog.String("error", err.Error()))
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("research: search returned non-200", slog.Int("status", resp.StatusCode))
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		e.logger.Warn("research: unparseable search response", slog.String("error", err.Error()))
		return ""
	}

	var snippets []string
	for _, r := range parsed.Results.Web {
		snippets = append(snippets, r.Snippets...)
	}
	if len(snippets) > snippetCap {
		snippets = snippets[:snippetCap]
	}
	return strings.Join(snippets, "\n")
}
