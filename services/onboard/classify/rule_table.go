// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Deterministic Rule-Table Classifier
// =============================================================================

// aliasEntry is one exact source-column alias.
type aliasEntry struct {
	target     string
	confidence Confidence
}

// aliasTable maps exact (lowercased) source column names to target fields.
// Entries marked low are names whose suffix makes the meaning genuinely
// ambiguous even though the stem suggests a target.
var aliasTable = map[string]aliasEntry{
	"cust_id":             {"customer_id", ConfidenceHigh},
	"customer_id":         {"customer_id", ConfidenceHigh},
	"cust_nm":             {"full_name", ConfidenceHigh},
	"full_name":           {"full_name", ConfidenceHigh},
	"cust_lvl_v2":         {"subscription_tier", ConfidenceLow},
	"customer_level_ver2": {"subscription_tier", ConfidenceHigh},
	"signup_dt":           {"signup_date", ConfidenceHigh},
	"registration_date":   {"signup_date", ConfidenceHigh},
	"email_addr":          {"email", ConfidenceHigh},
	"contact_email":       {"email", ConfidenceHigh},
	"phone_num":           {"phone", ConfidenceHigh},
	"mobile":              {"phone", ConfidenceHigh},
	"addr_line1":          {"address", ConfidenceHigh},
	"street_address":      {"address", ConfidenceHigh},
	"city_nm":             {"city", ConfidenceHigh},
	"city":                {"city", ConfidenceHigh},
	"st_cd":               {"state", ConfidenceHigh},
	"state_code":          {"state", ConfidenceHigh},
	"zip_cd":              {"zip_code", ConfidenceHigh},
	"postal_code":         {"zip_code", ConfidenceHigh},
	"dob":                 {"date_of_birth", ConfidenceHigh},
	"date_of_birth":       {"date_of_birth", ConfidenceHigh},
	"acct_bal":            {"account_balance", ConfidenceHigh},
	"balance_usd":         {"account_balance", ConfidenceHigh},
	"last_login_ts":       {"last_login", ConfidenceHigh},
	"last_activity":       {"last_login", ConfidenceHigh},
	"is_active_flg":       {"is_active", ConfidenceHigh},
	"status":              {"is_active", ConfidenceHigh},
}

// abbreviations expands well-known column-name shorthand before token
// matching. These are the patterns the classifier is configured to trust at
// high confidence.
var abbreviations = map[string]string{
	"cust": "customer",
	"nm":   "name",
	"dt":   "date",
	"addr": "address",
	"cd":   "code",
	"flg":  "flag",
	"bal":  "balance",
	"ts":   "timestamp",
	"num":  "number",
	"acct": "account",
	"lvl":  "level",
	"tel":  "phone",
	"st":   "state",
	"zip":  "zip",
	"reg":  "registration",
}

// versionSuffixRe matches trailing version markers ("_v2", "_ver3", "v10")
// that make a column's meaning version-dependent and therefore ambiguous.
var versionSuffixRe = regexp.MustCompile(`(?:_?v(?:er)?\d+)$`)

// RuleTable is the deterministic fallback classifier.
//
// # Description
//
// Three stages, first hit wins:
//  1. Exact alias lookup.
//  2. Abbreviation-expanded token match against schema field names:
//     an exact post-expansion match is high; a single-candidate token
//     overlap is medium.
//  3. No match, or a version suffix on an otherwise unmatched stem:
//     target "unknown" at low.
//
// Fully reproducible: the escalation protocol's tests depend on this
// classifier producing identical tiers on identical input.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
type RuleTable struct{}

// NewRuleTable creates the deterministic classifier.
func NewRuleTable() *RuleTable {
	return &RuleTable{}
}

// Classify implements Classifier. It never returns an error.
func (r *RuleTable) Classify(_ context.Context, req Request) ([]ColumnMapping, error) {
	out := make([]ColumnMapping, 0, len(req.Columns))
	for _, col := range req.Columns {
		out = append(out, r.classifyOne(col, req))
	}
	return out, nil
}

func (r *RuleTable) classifyOne(col string, req Request) ColumnMapping {
	lower := strings.ToLower(strings.TrimSpace(col))

	if entry, ok := aliasTable[lower]; ok {
		return ColumnMapping{
			SourceColumn: col,
			TargetField:  entry.target,
			Confidence:   entry.confidence,
			Reasoning:    fmt.Sprintf("Pattern match: '%s' -> '%s'", col, entry.target),
		}
	}

	versioned := versionSuffixRe.MatchString(lower)
	stem := versionSuffixRe.ReplaceAllString(lower, "")

	if req.Schema != nil {
		if target, conf, ok := r.tokenMatch(stem, req); ok {
			if versioned && conf == ConfidenceHigh {
				// A version suffix on a clean stem still changes meaning;
				// do not auto-accept without a human round.
				conf = ConfidenceLow
			}
			return ColumnMapping{
				SourceColumn: col,
				TargetField:  target,
				Confidence:   conf,
				Reasoning:    fmt.Sprintf("Token match: '%s' -> '%s'", col, target),
			}
		}
	}

	return ColumnMapping{
		SourceColumn: col,
		TargetField:  UnknownTarget,
		Confidence:   ConfidenceLow,
		Reasoning:    fmt.Sprintf("No known mapping for '%s'", col),
	}
}

// tokenMatch expands abbreviations in the column name and compares the
// resulting token set against each schema field's tokens. An exact set
// match is high confidence; a unique best-overlap candidate is medium.
// Two or more tied candidates are ambiguous and report no match.
func (r *RuleTable) tokenMatch(stem string, req Request) (string, Confidence, bool) {
	colTokens := expandTokens(stem)
	if len(colTokens) == 0 {
		return "", "", false
	}

	var (
		best      string
		bestScore int
		tied      bool
	)
	for _, field := range req.Schema.FieldNames() {
		fieldTokens := expandTokens(field)
		score := overlap(colTokens, fieldTokens)
		if score == 0 {
			continue
		}
		if score == len(colTokens) && score == len(fieldTokens) {
			return field, ConfidenceHigh, true
		}
		switch {
		case score > bestScore:
			best, bestScore, tied = field, score, false
		case score == bestScore:
			tied = true
		}
	}

	if best == "" || tied {
		return "", "", false
	}
	return best, ConfidenceMedium, true
}

func expandTokens(name string) []string {
	raw := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if full, ok := abbreviations[tok]; ok {
			tok = full
		}
		out = append(out, tok)
	}
	return out
}

func overlap(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	n := 0
	for _, t := range a {
		if set[t] {
			n++
		}
	}
	return n
}
