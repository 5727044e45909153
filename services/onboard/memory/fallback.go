// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"log/slog"
	"sync"
)

// FallbackEmbedder tries a primary embedding backend and drops to a
// secondary one permanently after the first failure.
//
// # Description
//
// Vectors from different backends are not comparable, so the switch is
// sticky: once a single primary call fails, every subsequent Embed (and
// Signature) uses the secondary for the lifetime of this value. A store
// sees one consistent vector space per process.
//
// # Thread Safety
//
// Safe for concurrent use.
type FallbackEmbedder struct {
	mu        sync.Mutex
	primary   Embedder
	secondary Embedder
	degraded  bool
	logger    *slog.Logger
}

// NewFallbackEmbedder wraps primary with a sticky degradation to secondary.
func NewFallbackEmbedder(primary, secondary Embedder, logger *slog.Logger) *FallbackEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackEmbedder{primary: primary, secondary: secondary, logger: logger}
}

// Embed implements Embedder.
func (f *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	degraded := f.degraded
	f.mu.Unlock()

	if !degraded {
		vec, err := f.primary.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		f.mu.Lock()
		if !f.degraded {
			f.degraded = true
			f.logger.Warn("embedder: primary backend failed, degrading permanently",
				slog.String("primary", f.primary.Signature()),
				slog.String("secondary", f.secondary.Signature()),
				slog.String("error", err.Error()),
			)
		}
		f.mu.Unlock()
	}
	return f.secondary.Embed(ctx, text)
}

// Signature implements Embedder. It reports the backend currently in use.
func (f *FallbackEmbedder) Signature() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.degraded {
		return f.secondary.Signature()
	}
	return f.primary.Signature()
}
