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

import "testing"

var testFields = map[string]bool{
	"customer_id":       true,
	"full_name":         true,
	"email":             true,
	"customer_email":    true,
	"phone":             true,
	"address":           true,
	"zip_code":          true,
	"subscription_tier": true,
	"signup_date":       true,
}

func conf(v float64) *float64 { return &v }

func TestClassifyInput_DTMF(t *testing.T) {
	cases := []struct {
		digits string
		want   Outcome
	}{
		{"1", OutcomeConfirmed},
		{"2", OutcomeRejected},
		{"9", OutcomeUnclear},
		{"12", OutcomeUnclear},
	}
	for _, tc := range cases {
		got, _ := ClassifyInput(Input{Digits: tc.digits}, "phone", testFields, DefaultConfidenceFloor)
		if got != tc.want {
			t.Errorf("digits %q: expected %s, got %s", tc.digits, tc.want, got)
		}
	}
}

func TestClassifyInput_DTMFBeatsSpeech(t *testing.T) {
	// A digit press wins even when a transcript arrives in the same round.
	got, _ := ClassifyInput(Input{
		Digits:     "2",
		Speech:     "yes that is right",
		Confidence: conf(0.99),
	}, "phone", testFields, DefaultConfidenceFloor)
	if got != OutcomeRejected {
		t.Errorf("expected DTMF to override speech, got %s", got)
	}
}

func TestClassifyInput_EmptySpeechUnclear(t *testing.T) {
	for _, speech := range []string{"", "   ", "\t"} {
		got, _ := ClassifyInput(Input{Speech: speech}, "phone", testFields, DefaultConfidenceFloor)
		if got != OutcomeUnclear {
			t.Errorf("speech %q: expected unclear, got %s", speech, got)
		}
	}
}

func TestClassifyInput_LowConfidenceIsUnclear(t *testing.T) {
	got, _ := ClassifyInput(Input{
		Speech:     "yes",
		Confidence: conf(0.39),
	}, "phone", testFields, DefaultConfidenceFloor)
	if got != OutcomeUnclear {
		t.Errorf("expected sub-floor transcript treated as unclear, got %s", got)
	}

	// At the floor, the transcript counts.
	got, _ = ClassifyInput(Input{
		Speech:     "yes",
		Confidence: conf(0.4),
	}, "phone", testFields, DefaultConfidenceFloor)
	if got != OutcomeConfirmed {
		t.Errorf("expected transcript at the floor accepted, got %s", got)
	}
}

func TestClassifyInput_ConfirmWords(t *testing.T) {
	for _, speech := range []string{"yes", "Yeah.", "yep", "that's correct", "sure"} {
		got, _ := ClassifyInput(Input{Speech: speech}, "phone", testFields, DefaultConfidenceFloor)
		if got != OutcomeConfirmed {
			t.Errorf("speech %q: expected confirmed, got %s", speech, got)
		}
	}
}

func TestClassifyInput_ConfirmBeatsEmbeddedFieldName(t *testing.T) {
	// A confirm word with no reject word confirms, even when a field name
	// appears in the same utterance.
	got, corrected := ClassifyInput(Input{Speech: "yes, use email"}, "phone", testFields, DefaultConfidenceFloor)
	if got != OutcomeConfirmed {
		t.Errorf("expected confirmed, got %s (corrected %q)", got, corrected)
	}
}

func TestClassifyInput_RejectWithoutCorrection(t *testing.T) {
	for _, speech := range []string{"no", "Nope.", "that's wrong"} {
		got, _ := ClassifyInput(Input{Speech: speech}, "phone", testFields, DefaultConfidenceFloor)
		if got != OutcomeRejected {
			t.Errorf("speech %q: expected rejected, got %s", speech, got)
		}
	}
}

func TestClassifyInput_RejectWithCorrection(t *testing.T) {
	got, corrected := ClassifyInput(Input{
		Speech: "No, it should be customer_email",
	}, "email", testFields, DefaultConfidenceFloor)
	if got != OutcomeCorrected {
		t.Fatalf("expected corrected, got %s", got)
	}
	if corrected != "customer_email" {
		t.Errorf("expected customer_email (longest field match), got %q", corrected)
	}
}

func TestClassifyInput_CorrectionToSuggestionIsRejection(t *testing.T) {
	// Naming the field already suggested is not a correction.
	got, corrected := ClassifyInput(Input{
		Speech: "no, it should be phone",
	}, "phone", testFields, DefaultConfidenceFloor)
	if got != OutcomeRejected {
		t.Errorf("expected rejected, got %s (corrected %q)", got, corrected)
	}
	if corrected != "" {
		t.Errorf("expected no corrected field, got %q", corrected)
	}
}

func TestClassifyInput_ImplicitCorrection(t *testing.T) {
	cases := []struct {
		speech string
		want   string
	}{
		{"the full name field", "full_name"},
		{"use signup date", "signup_date"},
		{"zip code", "zip_code"},
		{"zipcode", "zip_code"},
		{"subscription tier please", "subscription_tier"},
	}
	for _, tc := range cases {
		got, corrected := ClassifyInput(Input{Speech: tc.speech}, "phone", testFields, DefaultConfidenceFloor)
		if got != OutcomeCorrected {
			t.Errorf("speech %q: expected corrected, got %s", tc.speech, got)
			continue
		}
		if corrected != tc.want {
			t.Errorf("speech %q: expected field %q, got %q", tc.speech, tc.want, corrected)
		}
	}
}

func TestClassifyInput_UnderscoreAndSpaceInterchangeable(t *testing.T) {
	a, fieldA := ClassifyInput(Input{Speech: "customer_id"}, "phone", testFields, DefaultConfidenceFloor)
	b, fieldB := ClassifyInput(Input{Speech: "customer id"}, "phone", testFields, DefaultConfidenceFloor)
	if a != OutcomeCorrected || b != OutcomeCorrected || fieldA != fieldB || fieldA != "customer_id" {
		t.Errorf("expected both spellings to correct to customer_id, got %s/%q and %s/%q",
			a, fieldA, b, fieldB)
	}
}

func TestClassifyInput_GibberishIsUnclear(t *testing.T) {
	got, _ := ClassifyInput(Input{Speech: "banana stand revenue"}, "phone", testFields, DefaultConfidenceFloor)
	if got != OutcomeUnclear {
		t.Errorf("expected unclear for an unmatchable utterance, got %s", got)
	}
}
