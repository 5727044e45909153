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
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/onboard/services/onboard/storage/badger"
)

// embCacheKeyPrefix scopes cached embedding vectors. Deliberately outside
// recordKeyPrefix: a memory reset drops learned mappings, but a cached
// vector is a pure function of its text and stays valid.
const embCacheKeyPrefix = "mapping/emb/v1/"

// CachedEmbedder wraps an Embedder with a persistent vector cache.
//
// # Description
//
// Vectors are cached under a SHA256 of the embedded text, scoped by the
// backend signature so a degraded or upgraded embedder never reads another
// backend's vectors. Repeated store/lookup of the same column text skips
// the embedding call entirely. Cache failures are soft: a read or write
// error logs a warning and falls through to the wrapped embedder.
//
// # Thread Safety
//
// Safe for concurrent use.
type CachedEmbedder struct {
	inner  Embedder
	db     *badgerstore.DB
	logger *slog.Logger
}

// NewCachedEmbedder wraps inner with a Badger-backed vector cache.
func NewCachedEmbedder(db *badgerstore.DB, inner Embedder, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{inner: inner, db: db, logger: logger}
}

// Embed returns the cached vector for text, embedding and caching on miss.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embCacheKey(c.inner.Signature(), text)

	if vec, err := c.load(ctx, key); err == nil {
		return vec, nil
	} else if !errors.Is(err, dgbadger.ErrKeyNotFound) {
		c.logger.Warn("memory: embedding cache read failed",
			slog.String("error", err.Error()))
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.save(ctx, key, vec); err != nil {
		c.logger.Warn("memory: embedding cache write failed",
			slog.String("error", err.Error()))
	}
	return vec, nil
}

// Signature reports the wrapped backend's signature; caching does not
// change vector space.
func (c *CachedEmbedder) Signature() string {
	return c.inner.Signature()
}

func (c *CachedEmbedder) load(ctx context.Context, key []byte) ([]float32, error) {
	var vec []float32
	err := c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			return gob.NewDecoder(bytes.NewReader(raw)).Decode(&vec)
		})
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (c *CachedEmbedder) save(ctx context.Context, key []byte, vec []float32) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vec); err != nil {
		return fmt.Errorf("encoding vector: %w", err)
	}
	return c.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(key, buf.Bytes())
	})
}

func embCacheKey(signature, text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte(fmt.Sprintf("%s%s/%x", embCacheKeyPrefix, signature, sum))
}
