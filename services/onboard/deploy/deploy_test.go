// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sampleRecords() []map[string]any {
	return []map[string]any{
		{"customer_id": "A-1", "account_balance": 1500.0, "is_active": true},
		{"customer_id": "A-2", "account_balance": 240.1, "is_active": false},
	}
}

func TestFieldOrder_SortedUnion(t *testing.T) {
	records := []map[string]any{
		{"zebra": 1, "alpha": 2},
		{"alpha": 3, "mid": 4},
	}
	got := fieldOrder(records)
	want := []string{"alpha", "mid", "zebra"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestCellString(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"hello", "hello"},
		{true, "TRUE"},
		{false, "FALSE"},
		{1500.0, "1500"},
		{240.1, "240.1"},
		{42, "42"},
	}
	for _, tc := range cases {
		if got := cellString(tc.in); got != tc.want {
			t.Errorf("cellString(%v): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestLogSink_Deploy(t *testing.T) {
	sink := NewLogSink(nil)
	res, err := sink.Deploy(context.Background(), "acme", sampleRecords())
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if !res.Success || res.RecordsDeployed != 2 || res.Destination != "log" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestLogSink_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLogSink(nil).Deploy(ctx, "acme", sampleRecords()); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}

func TestSheetsSink_DeployWritesHeaderAndRows(t *testing.T) {
	var appendBody struct {
		Range  string  `json:"range"`
		Values [][]any `json:"values"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		if strings.Contains(r.URL.Path, ":append") || strings.Contains(r.URL.RawQuery, "valueInputOption") {
			if err := json.NewDecoder(r.Body).Decode(&appendBody); err != nil {
				t.Errorf("decoding append body: %v", err)
			}
			w.Write([]byte(`{}`))
			return
		}
		// Create call.
		w.Write([]byte(`{"spreadsheetId":"sheet-123","spreadsheetUrl":"https://example.com/sheet-123"}`))
	}))
	defer server.Close()

	sink := NewSheetsSinkWithConfig("test-token", server.URL, nil)
	res, err := sink.Deploy(context.Background(), "acme", sampleRecords())
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if !res.Success || res.RecordsDeployed != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Destination != "google_sheets" || res.URL != "https://example.com/sheet-123" {
		t.Errorf("unexpected destination: %+v", res)
	}

	// Header row first, sorted fields, then one row per record.
	if len(appendBody.Values) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(appendBody.Values))
	}
	header := appendBody.Values[0]
	if header[0] != "account_balance" || header[1] != "customer_id" || header[2] != "is_active" {
		t.Errorf("unexpected header order: %v", header)
	}
	firstRow := appendBody.Values[1]
	if firstRow[0] != "1500" || firstRow[1] != "A-1" || firstRow[2] != "TRUE" {
		t.Errorf("unexpected first row: %v", firstRow)
	}
}

func TestSheetsSink_CreateFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	sink := NewSheetsSinkWithConfig("test-token", server.URL, nil)
	if _, err := sink.Deploy(context.Background(), "acme", sampleRecords()); err == nil {
		t.Fatal("expected an error when spreadsheet creation fails")
	}
}

func TestNewSheetsSink_RequiresToken(t *testing.T) {
	t.Setenv("GOOGLE_SHEETS_ACCESS_TOKEN", "")
	if _, err := NewSheetsSink(nil); err == nil {
		t.Fatal("expected an error without an access token")
	}
}

type failingSink struct{ err error }

func (f *failingSink) Deploy(ctx context.Context, client string, records []map[string]any) (*Result, error) {
	return nil, f.err
}

func TestChain_DemotesToNextSink(t *testing.T) {
	chain := NewChain(nil, &failingSink{err: errors.New("auth expired")}, NewLogSink(nil))
	res, err := chain.Deploy(context.Background(), "acme", sampleRecords())
	if err != nil {
		t.Fatalf("expected fallback sink to succeed, got %v", err)
	}
	if res.Destination != "log" {
		t.Errorf("expected the log sink result, got %+v", res)
	}
}

func TestChain_AllSinksFail(t *testing.T) {
	sentinel := errors.New("disk full")
	chain := NewChain(nil, &failingSink{err: errors.New("auth expired")}, &failingSink{err: sentinel})
	_, err := chain.Deploy(context.Background(), "acme", sampleRecords())
	if err == nil {
		t.Fatal("expected an error when all sinks fail")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("expected the last sink error wrapped, got %v", err)
	}
}
