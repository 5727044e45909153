// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package arbiter merges memory recalls and classifier output into the sets
// that drive the rest of the onboarding run: mappings accepted as-is, and
// mappings that need a human.
package arbiter

import (
	"log/slog"

	"github.com/AleutianAI/onboard/services/onboard/classify"
)

// Arbiter applies the confidence policy to a run's full mapping list.
//
// Stateless. Safe for concurrent use.
type Arbiter struct {
	logger *slog.Logger
}

// New creates an Arbiter.
func New(logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{logger: logger}
}

// Arbitrate splits mappings into confident and uncertain sets.
//
// # Description
//
// A mapping is confident when it came from memory or carries a high or
// medium tier; everything else is uncertain. One extra rule applies on a
// fully novice run (zero memory contributions and an otherwise empty
// uncertain set): the most recently classified non-memory mapping is demoted
// to uncertain so at least one human-confirmation round happens. Trust the
// classifier, but verify on first contact with a client.
//
// Input order is preserved within each returned set.
func (a *Arbiter) Arbitrate(mappings []classify.ColumnMapping) (confident, uncertain []classify.ColumnMapping) {
	memoryHits := 0
	for _, m := range mappings {
		switch {
		case m.FromMemory:
			memoryHits++
			confident = append(confident, m)
		case m.Confidence == classify.ConfidenceHigh || m.Confidence == classify.ConfidenceMedium:
			confident = append(confident, m)
		default:
			uncertain = append(uncertain, m)
		}
	}

	if memoryHits == 0 && len(uncertain) == 0 && len(confident) > 0 {
		demoted := confident[len(confident)-1]
		confident = confident[:len(confident)-1]
		uncertain = append(uncertain, demoted)
		a.logger.Info("arbiter: novice run, demoting one mapping for verification",
			slog.String("source", demoted.SourceColumn),
			slog.String("target", demoted.TargetField),
		)
	}

	return confident, uncertain
}

// PlanEscalation bounds human interaction to a single question per run.
//
// # Description
//
// The first uncertain mapping, the most prominent one since the uncertain
// set preserves classification order, is escalated to an interactive
// round. The remainder are auto-accepted at the medium tier: a deliberate
// latency/cost tradeoff, not a correctness guarantee, and the reasoning on
// each auto-accepted mapping says so.
func (a *Arbiter) PlanEscalation(uncertain []classify.ColumnMapping) (escalate []classify.ColumnMapping, autoAccepted []classify.ColumnMapping) {
	if len(uncertain) == 0 {
		return nil, nil
	}

	escalate = uncertain[:1]
	for _, m := range uncertain[1:] {
		m.Confidence = classify.ConfidenceMedium
		m.Reasoning = "Auto-accepted at medium confidence (single-escalation cap): " + m.Reasoning
		autoAccepted = append(autoAccepted, m)
	}

	if len(autoAccepted) > 0 {
		a.logger.Info("arbiter: capping human rounds at one",
			slog.Int("escalated", len(escalate)),
			slog.Int("auto_accepted", len(autoAccepted)),
		)
	}
	return escalate, autoAccepted
}
