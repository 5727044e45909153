// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps a BadgerDB instance behind small transaction helpers.
//
// The onboarding service keeps all persistent state (learned mapping records
// and cached embedding vectors) in a single directory-scoped embedded store.
// BadgerDB was chosen over an external vector database: the mapping corpus is
// a few hundred records per deployment, a prefix scan plus in-process cosine
// scoring completes in microseconds, and an embedded store means no network
// dependency at startup.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// DB wraps a BadgerDB handle with context-aware transaction helpers.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type DB struct {
	inner  *dgbadger.DB
	dir    string
	logger *slog.Logger
}

// Open opens (or creates) the BadgerDB at dir.
//
// # Description
//
// If the on-disk index is corrupt and cannot be opened, the directory is
// wiped and recreated from scratch. Losing learned mappings is accepted and
// logged; a half-open store is not. This is the recovery policy for every
// malformed-persisted-state failure in the service.
//
// # Inputs
//
//   - dir: Directory for the store. Created if absent. Empty string opens an
//     in-memory instance (used by tests).
//   - logger: Logger for recovery warnings. May be nil.
//
// # Outputs
//
//   - *DB: Opened store. Never nil on success.
//   - error: Non-nil only if the store cannot be opened even after recreation.
func Open(dir string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := dgbadger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	inner, err := dgbadger.Open(opts)
	if err != nil && dir != "" {
		logger.Warn("badger: open failed, wiping and recreating store",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return nil, fmt.Errorf("badger: removing corrupt store: %w", rmErr)
		}
		inner, err = dgbadger.Open(opts)
	}
	if err != nil {
		return nil, fmt.Errorf("badger: opening store at %q: %w", dir, err)
	}

	return &DB{inner: inner, dir: dir, logger: logger}, nil
}

// Close releases the underlying BadgerDB handle.
func (d *DB) Close() error {
	return d.inner.Close()
}

// WithTxn runs fn inside a read-write transaction.
//
// The transaction is committed if fn returns nil and discarded otherwise.
// Context cancellation is checked before the transaction starts; Badger
// itself does not interrupt a running transaction.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.inner.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.inner.View(fn)
}

// DropPrefix deletes every key under the given prefix.
//
// Used by the memory reset operation. Badger drops the prefix atomically;
// the store is never left with a partially deleted keyspace.
func (d *DB) DropPrefix(ctx context.Context, prefix []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.inner.DropPrefix(prefix); err != nil {
		return fmt.Errorf("badger: dropping prefix %q: %w", prefix, err)
	}
	return nil
}
