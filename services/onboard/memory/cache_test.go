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
	"testing"

	badgerstore "github.com/AleutianAI/onboard/services/onboard/storage/badger"
)

// countingEmbedder wraps the hash embedder and counts real embed calls.
type countingEmbedder struct {
	inner Embedder
	calls int
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return e.inner.Embed(ctx, text)
}

func (e *countingEmbedder) Signature() string { return e.inner.Signature() }

func TestCachedEmbedder_SecondEmbedSkipsBackend(t *testing.T) {
	db, err := badgerstore.Open("", nil)
	if err != nil {
		t.Fatalf("opening in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	counter := &countingEmbedder{inner: NewHashEmbedder()}
	cached := NewCachedEmbedder(db, counter, nil)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "cust_id maps to customer_id")
	if err != nil {
		t.Fatalf("first Embed failed: %v", err)
	}
	second, err := cached.Embed(ctx, "cust_id maps to customer_id")
	if err != nil {
		t.Fatalf("second Embed failed: %v", err)
	}

	if counter.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", counter.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("cached vector length changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d: %v vs %v", i, first[i], second[i])
		}
	}

	// Different text is a fresh backend call.
	if _, err := cached.Embed(ctx, "email_addr maps to email"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if counter.calls != 2 {
		t.Errorf("expected 2 backend calls, got %d", counter.calls)
	}
}

func TestCachedEmbedder_CacheSurvivesMemoryReset(t *testing.T) {
	db, err := badgerstore.Open("", nil)
	if err != nil {
		t.Fatalf("opening in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	counter := &countingEmbedder{inner: NewHashEmbedder()}
	cached := NewCachedEmbedder(db, counter, nil)
	store := NewStore(db, cached, DefaultConfig(), nil)
	ctx := context.Background()

	if err := store.Store(ctx, "cust_id", "customer_id", "acme"); err != nil {
		t.Fatalf("storing mapping: %v", err)
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("resetting memory: %v", err)
	}

	// Relearning the same mapping hits the vector cache: records are gone
	// but a vector is a pure function of its text.
	before := counter.calls
	if err := store.Store(ctx, "cust_id", "customer_id", "acme"); err != nil {
		t.Fatalf("restoring mapping: %v", err)
	}
	if counter.calls != before {
		t.Errorf("expected no new backend calls after reset, got %d more", counter.calls-before)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 record after relearn, got %d", count)
	}
}

func TestCachedEmbedder_SignaturePassesThrough(t *testing.T) {
	db, err := badgerstore.Open("", nil)
	if err != nil {
		t.Fatalf("opening in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cached := NewCachedEmbedder(db, NewHashEmbedder(), nil)
	if got, want := cached.Signature(), NewHashEmbedder().Signature(); got != want {
		t.Errorf("expected signature %q passed through, got %q", want, got)
	}
}
