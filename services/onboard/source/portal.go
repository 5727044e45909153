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
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// PortalSource downloads a client's CSV export from their data portal.
//
// # Description
//
// The portal URL is a template with one %s for the client slug, e.g.
// "http://localhost:9000/portal/%s/export.csv". Transient failures are
// retried with a doubling backoff; a non-200 status is terminal for that
// attempt but still retried, since portals tend to 503 while exports
// regenerate.
type PortalSource struct {
	urlTemplate string
	httpClient  *http.Client
	maxAttempts int
	baseBackoff time.Duration
	logger      *slog.Logger
}

// NewPortalSource builds a portal source for the given URL template.
func NewPortalSource(urlTemplate string, logger *slog.Logger) *PortalSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortalSource{
		urlTemplate: urlTemplate,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		baseBackoff: 250 * time.Millisecond,
		logger:      logger,
	}
}

// Fetch downloads and parses the client's export.
func (p *PortalSource) Fetch(ctx context.Context, client string) (*Dataset, error) {
	endpoint := fmt.Sprintf(p.urlTemplate, client)

	var lastErr error
	backoff := p.baseBackoff
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("portal source: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		ds, err := p.fetchOnce(ctx, endpoint, client)
		if err == nil {
			p.logger.Info("source: portal export fetched",
				slog.String("client", client),
				slog.Int("columns", len(ds.Columns)),
				slog.Int("rows", len(ds.Records)),
			)
			return ds, nil
		}
		lastErr = err
		p.logger.Warn("source: portal fetch failed",
			slog.String("client", client),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return nil, fmt.Errorf("portal source: %d attempts for %q: %w", p.maxAttempts, client, lastErr)
}

func (p *PortalSource) fetchOnce(ctx context.Context, endpoint, client string) (*Dataset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("portal returned %d", resp.StatusCode)
	}
	return Parse(resp.Body, client)
}
