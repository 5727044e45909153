// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"testing"

	"github.com/AleutianAI/onboard/services/onboard/classify"
	"github.com/AleutianAI/onboard/services/onboard/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Default()
	if err != nil {
		t.Fatalf("loading default schema: %v", err)
	}
	return s
}

func mappings(pairs ...string) []classify.ColumnMapping {
	out := make([]classify.ColumnMapping, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, classify.ColumnMapping{
			SourceColumn: pairs[i],
			TargetField:  pairs[i+1],
			Confidence:   classify.ConfidenceHigh,
		})
	}
	return out
}

func TestApply_RenamesAndDropsUnmapped(t *testing.T) {
	records := []map[string]string{
		{"cust_id": "A-1", "blob": "junk", "email_addr": "a@example.com"},
	}
	m := mappings(
		"cust_id", "customer_id",
		"email_addr", "email",
		"blob", classify.UnknownTarget,
	)

	out, warnings := Apply(records, m, testSchema(t))
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %+v", warnings)
	}
	if out[0]["customer_id"] != "A-1" {
		t.Errorf("expected customer_id A-1, got %v", out[0]["customer_id"])
	}
	if out[0]["email"] != "a@example.com" {
		t.Errorf("expected email carried over, got %v", out[0]["email"])
	}
	if _, present := out[0]["blob"]; present {
		t.Error("expected unknown-mapped column dropped")
	}
	if len(out[0]) != 2 {
		t.Errorf("expected exactly 2 fields, got %d", len(out[0]))
	}
}

func TestApply_BooleanCoercion(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"true", true}, {"Yes", true}, {"y", true}, {"1", true}, {"ACTIVE", true},
		{"false", false}, {"No", false}, {"n", false}, {"0", false}, {"inactive", false},
	}
	m := mappings("is_actv", "is_active")
	for _, tc := range cases {
		out, warnings := Apply([]map[string]string{{"is_actv": tc.raw}}, m, testSchema(t))
		if len(warnings) != 0 {
			t.Errorf("%q: unexpected warnings %+v", tc.raw, warnings)
			continue
		}
		if got, ok := out[0]["is_active"].(bool); !ok || got != tc.want {
			t.Errorf("%q: expected %v, got %v", tc.raw, tc.want, out[0]["is_active"])
		}
	}
}

func TestApply_NumberCoercion(t *testing.T) {
	m := mappings("acct_bal", "account_balance")
	out, warnings := Apply([]map[string]string{
		{"acct_bal": "$1,500.00"},
		{"acct_bal": "240.10"},
		{"acct_bal": "0"},
	}, m, testSchema(t))
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
	if got := out[0]["account_balance"].(float64); got != 1500.0 {
		t.Errorf("expected 1500.0 for $1,500.00, got %v", got)
	}
	if got := out[1]["account_balance"].(float64); got != 240.10 {
		t.Errorf("expected 240.10, got %v", got)
	}
}

func TestApply_DateCoercion(t *testing.T) {
	m := mappings("signup_dt", "signup_date")
	cases := []struct {
		raw, want string
	}{
		{"2023-01-15", "2023-01-15"},
		{"01/15/2023", "2023-01-15"},
		{"Mar 9, 2023", "2023-03-09"},
		{"11-Apr-2023", "2023-04-11"},
	}
	for _, tc := range cases {
		out, warnings := Apply([]map[string]string{{"signup_dt": tc.raw}}, m, testSchema(t))
		if len(warnings) != 0 {
			t.Errorf("%q: unexpected warnings %+v", tc.raw, warnings)
			continue
		}
		if got := out[0]["signup_date"]; got != tc.want {
			t.Errorf("%q: expected %q, got %v", tc.raw, tc.want, got)
		}
	}
}

func TestApply_DatetimeCoercion(t *testing.T) {
	m := mappings("last_login_ts", "last_login")
	out, warnings := Apply([]map[string]string{
		{"last_login_ts": "2023-06-01 09:14:22"},
		{"last_login_ts": "2023-06-01"},
	}, m, testSchema(t))
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
	if got := out[0]["last_login"]; got != "2023-06-01T09:14:22" {
		t.Errorf("expected T-separated datetime, got %v", got)
	}
	if got := out[1]["last_login"]; got != "2023-06-01T00:00:00" {
		t.Errorf("expected bare date promoted to midnight, got %v", got)
	}
}

func TestApply_CoercionFailureWarnsAndKeepsRaw(t *testing.T) {
	m := mappings("signup_dt", "signup_date", "acct_bal", "account_balance")
	out, warnings := Apply([]map[string]string{
		{"signup_dt": "2023-01-15", "acct_bal": "100"},
		{"signup_dt": "someday soon", "acct_bal": "lots"},
	}, m, testSchema(t))

	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d: %+v", len(warnings), warnings)
	}
	for _, w := range warnings {
		if w.Row != 1 {
			t.Errorf("expected warnings on source row 1, got row %d", w.Row)
		}
	}
	// Raw values survive in the output.
	if got := out[1]["signup_date"]; got != "someday soon" {
		t.Errorf("expected raw value kept on failed coercion, got %v", got)
	}
	if got := out[1]["account_balance"]; got != "lots" {
		t.Errorf("expected raw value kept on failed coercion, got %v", got)
	}
}

func TestApply_NilSchemaPassesThrough(t *testing.T) {
	m := mappings("acct_bal", "account_balance")
	out, warnings := Apply([]map[string]string{{"acct_bal": "$1,500.00"}}, m, nil)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
	if got := out[0]["account_balance"]; got != "$1,500.00" {
		t.Errorf("expected raw pass-through without a schema, got %v", got)
	}
}

func TestApply_EmptyRecords(t *testing.T) {
	out, warnings := Apply(nil, mappings("a", "email"), testSchema(t))
	if len(out) != 0 || len(warnings) != 0 {
		t.Fatalf("expected empty output, got %d records, %d warnings", len(out), len(warnings))
	}
}
