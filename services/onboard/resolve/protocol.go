// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Resolver runs the full protocol for a batch of uncertain mappings:
// start a session, place the call, watch for no-input windows, and wait
// out the session or its deadline.
type Resolver struct {
	manager *Manager
	dialer  Dialer

	toNumber string

	// questionWindow is how long a question may sit without any round
	// before the watchdog injects a no-input round.
	questionWindow time.Duration
	// sessionTimeout bounds the whole call.
	sessionTimeout time.Duration
	pollInterval   time.Duration

	logger *slog.Logger
}

// ResolverConfig holds the timing knobs.
type ResolverConfig struct {
	ToNumber       string
	QuestionWindow time.Duration // default 15s
	SessionTimeout time.Duration // default 60s
	PollInterval   time.Duration // default 1s
}

// NewResolver wires a Resolver over an existing Manager and Dialer.
func NewResolver(manager *Manager, dialer Dialer, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if cfg.QuestionWindow <= 0 {
		cfg.QuestionWindow = 15 * time.Second
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		manager:        manager,
		dialer:         dialer,
		toNumber:       cfg.ToNumber,
		questionWindow: cfg.QuestionWindow,
		sessionTimeout: cfg.SessionTimeout,
		pollInterval:   cfg.PollInterval,
		logger:         logger,
	}
}

// Manager exposes the session registry, which the voice webhook handlers
// share with the Resolver.
func (r *Resolver) Manager() *Manager { return r.manager }

// Resolve runs one session for the given questions and blocks until every
// question is resolved or the session deadline passes.
//
// # Description
//
// The wait is a bounded poll, not an unbounded block: each tick checks
// completion, and a watchdog injects a no-input round whenever the current
// question has been silent past the question window, so an abandoned call
// still drains through forced confirmations instead of hanging. On
// timeout the partial results are returned as-is; unresolved questions
// report OutcomeUnresolved and the caller decides what to do with them.
//
// # Outputs
//
//   - []Result: one entry per question, in question order. Never nil on a
//     nil error.
//   - error: dial failures only. Timeouts are not errors.
func (r *Resolver) Resolve(ctx context.Context, questions []Question, targetFields []string) ([]Result, error) {
	if len(questions) == 0 {
		return []Result{}, nil
	}

	session := r.manager.Begin(questions, targetFields)
	defer r.manager.End(session.ID)

	ctx, cancel := context.WithTimeout(ctx, r.sessionTimeout)
	defer cancel()

	if err := r.dialer.Place(ctx, Prompt{SessionID: session.ID, ToNumber: r.toNumber}); err != nil {
		return nil, fmt.Errorf("resolve: placing call for session %s: %w", session.ID, err)
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			results, _, err := r.manager.Snapshot(session.ID)
			if err != nil {
				return nil, fmt.Errorf("resolve: snapshotting timed-out session: %w", err)
			}
			r.logger.Warn("resolve: session timed out, returning partial results",
				slog.String("session_id", session.ID),
				slog.Int("resolved", countResolved(results)),
				slog.Int("total", len(results)),
			)
			return results, nil
		case <-ticker.C:
		}

		results, complete, err := r.manager.Snapshot(session.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve: snapshotting session: %w", err)
		}
		if complete {
			return results, nil
		}

		r.kickStalled(session.ID)
	}
}

// kickStalled injects a no-input round when the current question's window
// has expired.
func (r *Resolver) kickStalled(sessionID string) {
	last, index, live := r.manager.lastActivityOf(sessionID)
	if !live || time.Since(last) < r.questionWindow {
		return
	}
	r.logger.Info("resolve: no-input window expired",
		slog.String("session_id", sessionID),
		slog.Int("index", index),
	)
	if _, err := r.manager.HandleNoInput(sessionID, index); err != nil {
		r.logger.Warn("resolve: no-input round rejected",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

func countResolved(results []Result) int {
	n := 0
	for _, res := range results {
		if res.Outcome != OutcomeUnresolved {
			n++
		}
	}
	return n
}
