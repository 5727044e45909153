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
	"errors"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/errgroup"
)

// warmConcurrency is the number of parallel embedding calls during re-embed.
// 10 concurrent requests saturates a local Ollama without overwhelming it.
const warmConcurrency = 10

// embedderMetaKey records which embedder signature produced the stored
// vectors. A mismatch at startup triggers a full re-embed.
const embedderMetaKey = "mapping/meta/embedder"

// Warm verifies that the stored vectors match the configured embedder and
// re-embeds every record when they do not.
//
// # Description
//
// Vectors are persisted inline with each record, so day-to-day startup does
// no embedding work at all. When the embedding backend or model changes
// (EMBEDDING_MODEL, or a degradation from Ollama to the hash embedder), the
// old vectors are not comparable with new query vectors; Warm detects this
// via a stored signature key and recomputes all vectors in parallel.
//
// Individual record failures are logged and skipped: the record keeps its
// stale vector and will simply score poorly until the next Warm. Only a
// completely unreachable backend returns an error.
//
// # Thread Safety
//
// Not safe to call concurrently with other store operations. Call once at
// service startup.
func (s *Store) Warm(ctx context.Context) error {
	current := s.embedder.Signature()

	stored, err := s.loadEmbedderSignature(ctx)
	if err != nil {
		return err
	}
	if stored == current {
		return nil
	}

	records, err := s.All(ctx)
	if err != nil {
		return err
	}

	if len(records) > 0 {
		s.logger.Info("memory: embedder changed, re-embedding records",
			slog.String("previous", stored),
			slog.String("current", current),
			slog.Int("record_count", len(records)),
		)

		g, gctx := errgroup.WithContext(ctx)
		sem := make(chan struct{}, warmConcurrency)
		vectors := make([][]float32, len(records))

		for i, rec := range records {
			g.Go(func() error {
				sem <- struct{}{}
				defer func() { <-sem }()

				vec, embErr := s.embedder.Embed(gctx, mappingDoc(rec.SourceText, rec.TargetField))
				if embErr != nil {
					s.logger.Warn("memory: re-embed failed for record",
						slog.String("source", rec.SourceText),
						slog.String("error", embErr.Error()),
					)
					return nil
				}
				vectors[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("memory: re-embedding records: %w", err)
		}

		for i, rec := range records {
			if vectors[i] == nil {
				continue
			}
			rec.Vector = vectors[i]
			if err := s.putRecord(ctx, rec); err != nil {
				return fmt.Errorf("memory: writing re-embedded record: %w", err)
			}
		}
	}

	return s.saveEmbedderSignature(ctx, current)
}

func (s *Store) loadEmbedderSignature(ctx context.Context) (string, error) {
	var sig string
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(embedderMetaKey))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		sig = string(raw)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("memory: loading embedder signature: %w", err)
	}
	return sig, nil
}

func (s *Store) saveEmbedderSignature(ctx context.Context, sig string) error {
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set([]byte(embedderMetaKey), []byte(sig))
	})
	if err != nil {
		return fmt.Errorf("memory: saving embedder signature: %w", err)
	}
	return nil
}
