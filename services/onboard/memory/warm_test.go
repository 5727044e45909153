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

func TestWarm_ReembedsOnSignatureChange(t *testing.T) {
	ctx := context.Background()
	db, err := badgerstore.Open("", nil)
	if err != nil {
		t.Fatalf("opening in-memory db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// First process: fixed embedder writes a record and its signature.
	fixed := &fixedEmbedder{vectors: map[string][]float32{
		mappingDoc("email_addr", "email"): {1, 0},
	}}
	first := NewStore(db, fixed, DefaultConfig(), nil)
	if err := first.Store(ctx, "email_addr", "email", "acme"); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := first.Warm(ctx); err != nil {
		t.Fatalf("first Warm failed: %v", err)
	}

	// Second process: hash embedder. Warm must rewrite the vector into
	// the new space.
	second := NewStore(db, NewHashEmbedder(), DefaultConfig(), nil)
	if err := second.Warm(ctx); err != nil {
		t.Fatalf("second Warm failed: %v", err)
	}

	records, err := second.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	want, _ := NewHashEmbedder().Embed(ctx, mappingDoc("email_addr", "email"))
	if d := cosineDistance(records[0].Vector, want); d > 1e-6 {
		t.Errorf("expected record re-embedded into the hash space, distance %g", d)
	}
}

func TestWarm_NoopWhenSignatureUnchanged(t *testing.T) {
	ctx := context.Background()
	db, err := badgerstore.Open("", nil)
	if err != nil {
		t.Fatalf("opening in-memory db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(db, NewHashEmbedder(), DefaultConfig(), nil)
	if err := store.Store(ctx, "ph_num", "phone", "acme"); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := store.Warm(ctx); err != nil {
		t.Fatalf("first Warm failed: %v", err)
	}

	before, _ := store.All(ctx)
	if err := store.Warm(ctx); err != nil {
		t.Fatalf("second Warm failed: %v", err)
	}
	after, _ := store.All(ctx)

	if len(before) != 1 || len(after) != 1 {
		t.Fatalf("expected 1 record before and after, got %d and %d", len(before), len(after))
	}
	if d := cosineDistance(before[0].Vector, after[0].Vector); d > 1e-9 {
		t.Errorf("expected vectors untouched by a no-op warm, distance %g", d)
	}
}
