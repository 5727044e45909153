// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify maps unknown source columns to target schema fields with
// a discrete confidence tier.
//
// Two implementations of the Classifier interface exist: a deterministic
// rule table, and a Gemini-backed classifier that degrades to the rule
// table on any failure. Confidence tiers reflect a policy, not a raw model
// score: "high" means a competent engineer would bet on the mapping with no
// follow-up; "low" means the name is opaque, carries an ambiguous versioned
// suffix, or several target fields are equally plausible.
package classify

import (
	"context"

	"github.com/AleutianAI/onboard/services/onboard/schema"
)

// Confidence is a discrete classification-quality tier.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// UnknownTarget is the sentinel target for columns no classifier could map.
// Mappings to it are dropped by the transform layer and never learned.
const UnknownTarget = "unknown"

// ColumnMapping is one proposed source-column → target-field mapping.
type ColumnMapping struct {
	SourceColumn string     `json:"source_column"`
	TargetField  string     `json:"target_field"`
	Confidence   Confidence `json:"confidence"`
	Reasoning    string     `json:"reasoning"`
	FromMemory   bool       `json:"from_memory"`
}

// Request is one classification batch: the columns memory could not
// resolve, up to three sample values per column, the target schema, and
// optional research context.
type Request struct {
	Columns []string
	Samples map[string][]string
	Schema  *schema.Schema
	Context string
}

// Classifier proposes a mapping for every requested column.
//
// Implementations must return exactly one ColumnMapping per input column,
// in input order, with FromMemory false. Columns that cannot be mapped get
// TargetField UnknownTarget and ConfidenceLow, never an error.
type Classifier interface {
	Classify(ctx context.Context, req Request) ([]ColumnMapping, error)
}
