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

import "strings"

// Outcome is the classification of one response round.
type Outcome string

const (
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeRejected   Outcome = "rejected"
	OutcomeCorrected  Outcome = "corrected"
	OutcomeUnclear    Outcome = "unclear"
	OutcomeUnresolved Outcome = "unresolved"
)

// confirmWords and rejectWords are matched as whole tokens against the
// normalized transcript. A confirm token with no reject token present wins
// outright, so "yes, use email" still confirms the suggestion.
var confirmWords = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "yup": true,
	"correct": true, "right": true, "sure": true, "confirm": true,
	"confirmed": true, "affirmative": true, "ok": true, "okay": true,
}

var rejectWords = map[string]bool{
	"no": true, "nope": true, "nah": true, "wrong": true,
	"incorrect": true, "negative": true, "reject": true, "change": true,
}

// fillerWords are stripped before field extraction so "the email field"
// reduces to "email".
var fillerWords = map[string]bool{
	"the": true, "a": true, "an": true,
	"field": true, "column": true, "it": true, "its": true,
	"should": true, "be": true, "use": true, "map": true, "maps": true,
	"to": true, "that": true, "thats": true, "is": true, "actually": true,
	"please": true, "one": true,
}

// ClassifyInput turns one round of raw channel input into an Outcome.
//
// # Description
//
// Precedence, most reliable signal first:
//
//  1. DTMF digits. "1" confirms, "2" rejects, any other press is unclear.
//     A digit press always beats a co-arriving transcript.
//  2. Empty or whitespace-only speech is unclear.
//  3. Speech below the transcription-confidence floor is unclear,
//     whatever it says.
//  4. A confirm word with no reject word confirms.
//  5. A reject word rejects; if the utterance also names a valid target
//     field different from the suggestion, the round is a correction
//     instead.
//  6. Otherwise the utterance is scanned for a field name alone; a match
//     distinct from the suggestion corrects, anything else is unclear.
//
// A "correction" to the field already suggested is not a correction:
// rule 5 reports it as a plain rejection, rule 6 as unclear.
//
// # Outputs
//
//   - Outcome: the round classification.
//   - string: the corrected target field, non-empty only for
//     OutcomeCorrected.
func ClassifyInput(in Input, suggested string, targetFields map[string]bool, confidenceFloor float64) (Outcome, string) {
	if digits := strings.TrimSpace(in.Digits); digits != "" {
		switch digits {
		case "1":
			return OutcomeConfirmed, ""
		case "2":
			return OutcomeRejected, ""
		default:
			return OutcomeUnclear, ""
		}
	}

	speech := strings.TrimSpace(in.Speech)
	if speech == "" {
		return OutcomeUnclear, ""
	}
	if in.Confidence != nil && *in.Confidence < confidenceFloor {
		return OutcomeUnclear, ""
	}

	tokens := tokenize(speech)
	hasConfirm, hasReject := false, false
	for _, t := range tokens {
		if confirmWords[t] {
			hasConfirm = true
		}
		if rejectWords[t] {
			hasReject = true
		}
	}

	if hasConfirm && !hasReject {
		return OutcomeConfirmed, ""
	}

	field, found := extractField(tokens, suggested, targetFields)
	if hasReject {
		if found {
			return OutcomeCorrected, field
		}
		return OutcomeRejected, ""
	}
	if found {
		return OutcomeCorrected, field
	}
	return OutcomeUnclear, ""
}

// tokenize lowercases, strips punctuation, and splits on whitespace.
// Underscores become spaces so "customer_email" and "customer email" are
// the same utterance.
func tokenize(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

// extractField scans the utterance for a known target field other than the
// suggested one.
//
// Fields are matched on their space-normalized form against the filler-
// stripped utterance, longest field first, so "customer email" wins over a
// bare "email" when both are valid targets. Single-token fields also match
// as lone tokens.
func extractField(tokens []string, suggested string, targetFields map[string]bool) (string, bool) {
	meaningful := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !fillerWords[t] {
			meaningful = append(meaningful, t)
		}
	}
	if len(meaningful) == 0 {
		return "", false
	}
	utterance := " " + strings.Join(meaningful, " ") + " "

	best := ""
	for field := range targetFields {
		if field == suggested {
			continue
		}
		phrase := " " + strings.ReplaceAll(field, "_", " ") + " "
		if strings.Contains(utterance, phrase) && len(field) > len(best) {
			best = field
		}
	}
	if best != "" {
		return best, true
	}

	// Fallback: a field name spoken run-together, e.g. "zipcode" for
	// zip_code.
	joined := strings.Join(meaningful, "")
	for field := range targetFields {
		if field == suggested {
			continue
		}
		squashed := strings.ReplaceAll(field, "_", "")
		if squashed == joined && len(field) > len(best) {
			best = field
		}
	}
	return best, best != ""
}
