// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package onboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/onboard/services/onboard/resolve"
	"github.com/AleutianAI/onboard/services/onboard/source"
)

func newTestRouter(t *testing.T, h *testHarness) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers := NewHandlers(h.pipeline, h.store, h.manager, h.broker, source.NewLocalSource(), nil)
	RegisterRoutes(router.Group("/v1"), handlers)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(t, newTestHarness(t, nil))

	w := doRequest(t, router, http.MethodGet, "/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Status      string `json:"status"`
		MemoryCount int    `json:"memory_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Status != "ok" || body.MemoryCount != 0 {
		t.Errorf("unexpected health body: %+v", body)
	}
}

func TestHandlePortalClients(t *testing.T) {
	router := newTestRouter(t, newTestHarness(t, nil))

	w := doRequest(t, router, http.MethodGet, "/v1/portal/clients", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Clients []string `json:"clients"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	found := false
	for _, c := range body.Clients {
		if c == "acme" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected acme in client list, got %v", body.Clients)
	}
}

func TestHandlePortalExport_RoundTrips(t *testing.T) {
	router := newTestRouter(t, newTestHarness(t, nil))

	w := doRequest(t, router, http.MethodGet, "/v1/portal/acme/export.csv", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv, got %q", ct)
	}

	// The served CSV must survive a parse, quoted commas included.
	ds, err := source.Parse(w.Body, "acme")
	if err != nil {
		t.Fatalf("parsing served export: %v", err)
	}
	if len(ds.Records) != 5 {
		t.Errorf("expected 5 records, got %d", len(ds.Records))
	}
	if got := ds.Records[0]["acct_bal"]; got != "$1,500.00" {
		t.Errorf("expected quoted balance intact, got %q", got)
	}

	w = doRequest(t, router, http.MethodGet, "/v1/portal/no-such-client/export.csv", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown client, got %d", w.Code)
	}
}

func TestHandleMemoryListAndReset(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)

	if err := h.store.Store(context.Background(), "email_addr", "email", "acme"); err != nil {
		t.Fatalf("seeding memory: %v", err)
	}

	w := doRequest(t, router, http.MethodGet, "/v1/memory", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var listing struct {
		Count    int `json:"count"`
		Mappings []struct {
			SourceColumn string `json:"source_column"`
			TargetField  string `json:"target_field"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decoding listing: %v", err)
	}
	if listing.Count != 1 || listing.Mappings[0].TargetField != "email" {
		t.Errorf("unexpected listing: %+v", listing)
	}

	if w := doRequest(t, router, http.MethodDelete, "/v1/memory", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on reset, got %d", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/v1/memory", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decoding listing after reset: %v", err)
	}
	if listing.Count != 0 {
		t.Errorf("expected empty memory after reset, got %d", listing.Count)
	}
}

func TestHandleRun_EndToEnd(t *testing.T) {
	conf := 0.92
	h := newTestHarness(t, []resolve.Input{
		{Speech: "no, it should be phone", Confidence: &conf},
	})
	router := newTestRouter(t, h)

	w := doRequest(t, router, http.MethodPost, "/v1/onboard/acme", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var summary Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.Client != "acme" || summary.TotalColumns != 10 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	w = doRequest(t, router, http.MethodPost, "/v1/onboard/no-such-client", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for an unknown client, got %d", w.Code)
	}
}

func TestHandleDemoStart_RunsInBackground(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)

	w := doRequest(t, router, http.MethodPost, "/v1/demo/start?client=acme", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	// The run finishes asynchronously; completion shows up in the event
	// history.
	deadline := time.Now().Add(10 * time.Second)
	for {
		done := false
		for _, e := range h.broker.History() {
			if e.Type == "run_completed" {
				done = true
			}
		}
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the background run to complete")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleDemoReset(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)

	if err := h.store.Store(context.Background(), "email_addr", "email", "acme"); err != nil {
		t.Fatalf("seeding memory: %v", err)
	}
	h.broker.Publish("run_completed", "acme", "done", nil)

	w := doRequest(t, router, http.MethodPost, "/v1/demo/reset", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	count, err := h.store.Count(context.Background())
	if err != nil {
		t.Fatalf("counting memory: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty memory, got %d records", count)
	}
	if len(h.broker.History()) != 0 {
		t.Errorf("expected event history cleared, got %d events", len(h.broker.History()))
	}
}

func TestVoiceWebhooks_AskAndAnswer(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)

	session := h.manager.Begin([]resolve.Question{
		{SourceColumn: "cust_lvl_v2", SuggestedMapping: "subscription_tier"},
	}, []string{"subscription_tier", "email"})

	w := doRequest(t, router, http.MethodPost, "/v1/voice/answer?session="+session.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "cust lvl v2") || !strings.Contains(body, "subscription tier") {
		t.Errorf("expected the question spoken with underscores stripped, got %s", body)
	}
	if !strings.Contains(body, "dtmf speech") {
		t.Errorf("expected dual-mode input collection, got %s", body)
	}
	if !strings.Contains(body, "session="+session.ID) ||
		!strings.Contains(body, "index=0") || !strings.Contains(body, "retry=0") {
		t.Errorf("expected the action URL to carry session, index, and retry count, got %s", body)
	}

	w = doRequest(t, router, http.MethodPost, "/v1/voice/input?session="+session.ID+"&index=0",
		url.Values{"Digits": {"1"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "All mappings resolved") {
		t.Errorf("expected a completion message, got %s", w.Body.String())
	}

	results, _, err := h.manager.Snapshot(session.ID)
	if err != nil {
		t.Fatalf("snapshotting session: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != resolve.OutcomeConfirmed {
		t.Errorf("expected the question confirmed, got %+v", results)
	}
}

func TestVoiceWebhooks_UnknownSessionSaysGoodbye(t *testing.T) {
	router := newTestRouter(t, newTestHarness(t, nil))

	w := doRequest(t, router, http.MethodPost, "/v1/voice/answer?session=not-a-session", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected a polite 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "expired") {
		t.Errorf("expected an expiry message, got %s", w.Body.String())
	}
}

func TestVoiceWebhooks_UnclearInputReasks(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)

	session := h.manager.Begin([]resolve.Question{
		{SourceColumn: "blob", SuggestedMapping: "email"},
	}, []string{"email"})

	w := doRequest(t, router, http.MethodPost, "/v1/voice/input?session="+session.ID+"&index=0",
		url.Values{"Speech": {"mumble mumble"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Sorry, I did not catch that") {
		t.Errorf("expected a retry prompt, got %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "index=0") || !strings.Contains(w.Body.String(), "retry=1") {
		t.Errorf("expected the re-ask action URL to carry the bumped retry count, got %s", w.Body.String())
	}
}
