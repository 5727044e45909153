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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// geminiSystemInstruction frames the mapping task. The abbreviation guidance
// keeps the model's tiers aligned with the rule table's policy.
const geminiSystemInstruction = `You are an expert data mapping agent. Your job is to map source CSV column names to a target CRM schema.

For each source column, you must:
1. Analyze the column name, sample values, and any provided context
2. Determine which target schema field it maps to
3. Rate your confidence: "high" (>90% sure), "medium" (50-90%), or "low" (<50%)

Be confident in your mappings. Common abbreviations (e.g. cust=customer, nm=name, dt=date, addr=address, cd=code, flg=flag, bal=balance, ts=timestamp) are well-known patterns; rate these as "high" confidence.
Only rate a column "low" if the name is truly ambiguous and you cannot determine the target field with reasonable certainty, such as columns with opaque internal codes or version suffixes that change the meaning.

Respond ONLY with valid JSON of the form {"mappings": [{"source_column": ..., "target_field": ..., "confidence": ..., "reasoning": ...}]}.`

// sampleCap bounds how many sample values per column go into the prompt.
const sampleCap = 3

// geminiRequest is the request payload for the Gemini generateContent API.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

// geminiContent represents a content block in the Gemini API.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart represents a part of a content block.
type geminiPart struct {
	Text string `json:"text,omitempty"`
}

// geminiGenerationConfig controls generation behavior.
type geminiGenerationConfig struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

// geminiResponse is the response from the Gemini generateContent API.
type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

// geminiCandidate represents a candidate response.
type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// geminiError represents an API error.
type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// mappingsEnvelope is the expected shape of the model's JSON reply.
type mappingsEnvelope struct {
	Mappings []ColumnMapping `json:"mappings"`
}

// Gemini is the model-backed classifier.
//
// # Description
//
// Sends one generateContent request per batch and parses the JSON reply.
// Every failure mode (transport error, non-200, malformed JSON, a reply
// that does not cover the input columns 1:1) degrades to the deterministic
// rule table with a logged warning. The caller never sees an error, so the
// escalation protocol keeps its bounded, reproducible behavior even when
// the model misbehaves.
//
// # Thread Safety
//
// Safe for concurrent use.
type Gemini struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	fallback   *RuleTable
	logger     *slog.Logger
}

// NewGemini creates a Gemini classifier from environment variables.
//
// Reads GEMINI_API_KEY and GEMINI_MODEL. Returns an error only when the API
// key is missing; callers should then wire the rule table directly.
func NewGemini(logger *slog.Logger) (*Gemini, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is missing (GEMINI_API_KEY)")
	}

	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-2.0-flash"
	}

	return NewGeminiWithConfig(apiKey, model, "https://generativelanguage.googleapis.com/v1beta", logger), nil
}

// NewGeminiWithConfig creates a Gemini classifier with explicit
// configuration. Useful for testing with mock servers.
func NewGeminiWithConfig(apiKey, model, baseURL string, logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		fallback:   NewRuleTable(),
		logger:     logger,
	}
}

// Classify implements Classifier.
func (g *Gemini) Classify(ctx context.Context, req Request) ([]ColumnMapping, error) {
	if len(req.Columns) == 0 {
		return nil, nil
	}

	mappings, err := g.generate(ctx, req)
	if err != nil {
		g.logger.Warn("gemini: classification failed, using rule table",
			slog.String("error", err.Error()),
			slog.Int("column_count", len(req.Columns)),
		)
		return g.fallback.Classify(ctx, req)
	}
	return mappings, nil
}

// generate runs the Gemini call and validates the reply against the input.
func (g *Gemini) generate(ctx context.Context, req Request) ([]ColumnMapping, error) {
	temp := float32(0.1)
	payload := geminiRequest{
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: geminiSystemInstruction}},
		},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: buildPrompt(req)}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      &temp,
			ResponseMimeType: "application/json",
		},
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("API error [%d] %s", apiResp.Error.Code, apiResp.Error.Status)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("returned no candidates")
	}

	var textParts []string
	for _, part := range apiResp.Candidates[0].Content.Parts {
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
	}
	text := strings.Join(textParts, "")
	if text == "" {
		return nil, fmt.Errorf("returned empty text content")
	}

	var envelope mappingsEnvelope
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		return nil, fmt.Errorf("parsing mappings JSON: %w", err)
	}

	return alignWithInput(envelope.Mappings, req)
}

// alignWithInput enforces the 1:1 contract: one mapping per input column,
// in input order, with valid tier and target values. Any gap fails the
// whole batch so the fallback produces a consistent result.
func alignWithInput(mappings []ColumnMapping, req Request) ([]ColumnMapping, error) {
	byColumn := make(map[string]ColumnMapping, len(mappings))
	for _, m := range mappings {
		byColumn[m.SourceColumn] = m
	}

	out := make([]ColumnMapping, 0, len(req.Columns))
	for _, col := range req.Columns {
		m, ok := byColumn[col]
		if !ok {
			return nil, fmt.Errorf("response missing column %q", col)
		}
		switch m.Confidence {
		case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		default:
			return nil, fmt.Errorf("response has invalid confidence %q for column %q", m.Confidence, col)
		}
		if m.TargetField == "" {
			m.TargetField = UnknownTarget
			m.Confidence = ConfidenceLow
		}
		if m.TargetField != UnknownTarget && req.Schema != nil && !req.Schema.Has(m.TargetField) {
			return nil, fmt.Errorf("response maps %q to undeclared field %q", col, m.TargetField)
		}
		m.FromMemory = false
		out = append(out, m)
	}
	return out, nil
}

// buildPrompt renders the user prompt: columns, capped samples, schema
// description, and whatever research context was gathered.
func buildPrompt(req Request) string {
	var samples strings.Builder
	for _, col := range req.Columns {
		vals := req.Samples[col]
		if len(vals) > sampleCap {
			vals = vals[:sampleCap]
		}
		if len(vals) > 0 {
			fmt.Fprintf(&samples, "  %s: %v\n", col, vals)
		}
	}

	var fields []string
	var schemaDesc string
	if req.Schema != nil {
		fields = req.Schema.FieldNames()
		schemaDesc = req.Schema.Describe()
	}

	researchContext := req.Context
	if researchContext == "" {
		researchContext = "No additional context available."
	}

	return fmt.Sprintf(`Analyze these source CSV columns and map them to the target schema.

SOURCE COLUMNS: %v

SAMPLE DATA:
%s
TARGET SCHEMA FIELDS: %v

TARGET FIELD DESCRIPTIONS:
%s
RESEARCH CONTEXT:
%s

Map each source column to the most likely target field. Be confident: common abbreviations and naming patterns should be rated "high".
Only rate a column "low" if it is truly ambiguous and the target field cannot be determined with reasonable certainty.`,
		req.Columns, samples.String(), fields, schemaDesc, researchContext)
}
