// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory implements the persistent similarity memory of learned
// column mappings.
//
// Each confirmed mapping is stored with an embedding of the combined text
// "<source_column> maps to <target_field>" so the vector captures the
// directional semantics of the mapping, not just lexical similarity of
// source names. Recall is a nearest-neighbor scan over the stored vectors
// with a two-stage acceptance check: raw cosine distance plus a penalty for
// mappings that have not yet been reconfirmed across clients.
package memory

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/onboard/services/onboard/storage/badger"
)

// Storage layout:
//
//	mapping/v1/{origin_client}/{source_text}  →  gob-encoded record
//	                                             (vector stored inline)
const recordKeyPrefix = "mapping/v1/"

// DefaultDistanceThreshold is the maximum adjusted cosine distance for a
// memory match to be trusted without re-classification. 0.3 on a cosine
// scale where 0 means identical.
const DefaultDistanceThreshold = 0.3

// DefaultLowUsePenalty is added to the raw distance of a record recalled
// fewer than DefaultMinVerifiedUses times. A single incidental match from
// one client should weigh less than a mapping reconfirmed across several.
const DefaultLowUsePenalty = 0.01

// DefaultMinVerifiedUses is the use count at which a record stops paying
// the low-use penalty.
const DefaultMinVerifiedUses = 2

// ErrUnknownTarget is returned by Store when the caller tries to persist a
// mapping to the "unknown" sentinel. That is a caller bug, not a runtime
// condition: unresolved mappings are dropped upstream, never learned.
var ErrUnknownTarget = errors.New("memory: refusing to store mapping to \"unknown\"")

// Record is one persisted mapping: a source column as it appeared in a
// client's raw dataset, the canonical field it was confirmed to map to, and
// how often recall has reconfirmed it.
type Record struct {
	SourceText   string
	TargetField  string
	OriginClient string
	UseCount     int
	Vector       []float32
}

// Match is a lookup result.
type Match struct {
	SourceColumn string
	TargetField  string
	OriginClient string
	UseCount     int
	// Distance is the raw cosine distance, without the low-use penalty.
	Distance float64
	// IsConfident is true when the adjusted distance passed the threshold.
	IsConfident bool
}

// Config holds the acceptance-policy knobs for a Store.
type Config struct {
	// DistanceThreshold is the maximum adjusted distance accepted by
	// FindMatch. The comparison is closed-interval: equal passes.
	DistanceThreshold float64
	// LowUsePenalty is added to the distance of records with fewer than
	// MinVerifiedUses recalls.
	LowUsePenalty float64
	// MinVerifiedUses is the use count at which the penalty stops applying.
	MinVerifiedUses int
}

// DefaultConfig returns the production acceptance policy.
func DefaultConfig() Config {
	return Config{
		DistanceThreshold: DefaultDistanceThreshold,
		LowUsePenalty:     DefaultLowUsePenalty,
		MinVerifiedUses:   DefaultMinVerifiedUses,
	}
}

// Store is the persistent similarity memory.
//
// # Thread Safety
//
// Safe for concurrent use. All mutation goes through BadgerDB transactions;
// no additional application-level lock is held.
type Store struct {
	db       *badgerstore.DB
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
}

// NewStore creates a Store on top of an opened DB.
//
// # Inputs
//
//   - db: Opened store. Must not be nil. The caller owns the DB lifecycle.
//   - embedder: Embedding backend. Must not be nil.
//   - cfg: Acceptance policy. Zero values are replaced with defaults.
//   - logger: May be nil.
func NewStore(db *badgerstore.DB, embedder Embedder, cfg Config, logger *slog.Logger) *Store {
	if db == nil {
		panic("memory.NewStore: db must not be nil")
	}
	if embedder == nil {
		panic("memory.NewStore: embedder must not be nil")
	}
	if cfg.DistanceThreshold <= 0 {
		cfg.DistanceThreshold = DefaultDistanceThreshold
	}
	if cfg.LowUsePenalty <= 0 {
		cfg.LowUsePenalty = DefaultLowUsePenalty
	}
	if cfg.MinVerifiedUses <= 0 {
		cfg.MinVerifiedUses = DefaultMinVerifiedUses
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, embedder: embedder, cfg: cfg, logger: logger}
}

// Store upserts a learned mapping keyed by (originClient, sourceText).
//
// # Description
//
// Repeated calls with the same key replace the record, never duplicate it.
// The use count of an existing record is preserved across upserts; only the
// target field and vector are rewritten. Storing a mapping to "unknown"
// returns ErrUnknownTarget.
func (s *Store) Store(ctx context.Context, sourceText, targetField, originClient string) error {
	if targetField == "" || targetField == "unknown" {
		return ErrUnknownTarget
	}

	doc := mappingDoc(sourceText, targetField)
	vec, err := s.embedder.Embed(ctx, doc)
	if err != nil {
		return fmt.Errorf("memory: embedding %q: %w", doc, err)
	}

	key := recordKey(originClient, sourceText)
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		rec := Record{
			SourceText:   sourceText,
			TargetField:  targetField,
			OriginClient: originClient,
			Vector:       vec,
		}

		// Preserve the use count when re-learning an existing key.
		if item, getErr := txn.Get(key); getErr == nil {
			if raw, copyErr := item.ValueCopy(nil); copyErr == nil {
				if prev, decErr := decodeRecord(raw); decErr == nil {
					rec.UseCount = prev.UseCount
				}
			}
		}

		raw, encErr := encodeRecord(rec)
		if encErr != nil {
			return encErr
		}
		return txn.Set(key, raw)
	})
	if err != nil {
		return fmt.Errorf("memory: storing %q -> %q: %w", sourceText, targetField, err)
	}

	s.logger.Info("memory: stored mapping",
		slog.String("source", sourceText),
		slog.String("target", targetField),
		slog.String("client", originClient),
	)
	return nil
}

// Lookup returns the k nearest stored mappings to sourceText, ascending by
// cosine distance. An empty store yields an empty slice, never an error.
func (s *Store) Lookup(ctx context.Context, sourceText string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, queryDoc(sourceText))
	if err != nil {
		return nil, fmt.Errorf("memory: embedding query for %q: %w", sourceText, err)
	}

	records, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		d := cosineDistance(queryVec, rec.Vector)
		matches = append(matches, Match{
			SourceColumn: rec.SourceText,
			TargetField:  rec.TargetField,
			OriginClient: rec.OriginClient,
			UseCount:     rec.UseCount,
			Distance:     d,
			IsConfident:  d <= s.cfg.DistanceThreshold,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// FindMatch returns the best memory match for sourceText if it passes the
// acceptance check, or nil.
//
// # Description
//
// The best match's raw distance is adjusted by the low-use penalty when the
// record has fewer than MinVerifiedUses recalls, then compared against the
// threshold (closed interval: equal is accepted). On acceptance the
// record's use count is incremented, so the penalty decays as the mapping
// is reconfirmed across clients.
//
// Embedding failures are absorbed: the lookup degrades to a miss with a
// logged warning rather than failing the run.
func (s *Store) FindMatch(ctx context.Context, sourceText string) (*Match, error) {
	matches, err := s.Lookup(ctx, sourceText, 1)
	if err != nil {
		s.logger.Warn("memory: lookup degraded to miss",
			slog.String("source", sourceText),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if len(matches) == 0 {
		return nil, nil
	}

	best := matches[0]
	adjusted := best.Distance
	if best.UseCount < s.cfg.MinVerifiedUses {
		adjusted += s.cfg.LowUsePenalty
	}
	if adjusted > s.cfg.DistanceThreshold {
		return nil, nil
	}

	if err := s.incrementUseCount(ctx, best.OriginClient, best.SourceColumn); err != nil {
		// The match itself is still good; a failed counter bump only delays
		// penalty decay.
		s.logger.Warn("memory: use-count increment failed",
			slog.String("source", best.SourceColumn),
			slog.String("error", err.Error()),
		)
	} else {
		best.UseCount++
	}

	best.IsConfident = true
	s.logger.Info("memory: recall hit",
		slog.String("source", sourceText),
		slog.String("target", best.TargetField),
		slog.Float64("distance", best.Distance),
		slog.String("learned_from", best.OriginClient),
	)
	return &best, nil
}

// All returns every stored record, in key order.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy record value: %w", err)
			}
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: listing records: %w", err)
	}
	return records, nil
}

// Count returns the number of stored mappings.
func (s *Store) Count(ctx context.Context) (int, error) {
	records, err := s.All(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Reset deletes all stored mappings.
//
// The prefix drop is atomic; the store is never left half-emptied.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.db.DropPrefix(ctx, []byte(recordKeyPrefix)); err != nil {
		return fmt.Errorf("memory: reset: %w", err)
	}
	s.logger.Info("memory: cleared all mappings")
	return nil
}

// incrementUseCount bumps the use counter of one record inside a single
// read-modify-write transaction.
func (s *Store) incrementUseCount(ctx context.Context, originClient, sourceText string) error {
	key := recordKey(originClient, sourceText)
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy record value: %w", err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		rec.UseCount++
		updated, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, updated)
	})
}

// =============================================================================
// Helpers
// =============================================================================

// mappingDoc builds the text embedded for a stored mapping. Including the
// target gives the embedding directional context across naming conventions.
func mappingDoc(sourceText, targetField string) string {
	return sourceText + " maps to " + targetField
}

// queryDoc builds the lookup text for a source column. The trailing
// "maps to" keeps the query in the same phrase space as stored documents.
func queryDoc(sourceText string) string {
	return sourceText + " maps to"
}

// putRecord writes a record as-is, without touching the use count or the
// embedder.
func (s *Store) putRecord(ctx context.Context, rec Record) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	key := recordKey(rec.OriginClient, rec.SourceText)
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(key, raw)
	})
}

// recordKey builds the BadgerDB key for a mapping record.
func recordKey(originClient, sourceText string) []byte {
	return []byte(recordKeyPrefix + originClient + "/" + sourceText)
}

// encodeRecord serializes a Record using encoding/gob.
func encodeRecord(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("gob encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeRecord deserializes a Record from gob-encoded bytes.
func decodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("gob decode record: %w", err)
	}
	return rec, nil
}
