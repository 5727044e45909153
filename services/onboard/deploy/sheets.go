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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// SheetsSink creates a Google Sheet per deployment and writes the records
// as rows under a header.
//
// # Description
//
// Two REST calls against the Sheets v4 API: one POST to create the
// spreadsheet, one POST to append the header plus data rows. The access
// token comes from the environment; token refresh is the operator's
// concern, not this sink's.
type SheetsSink struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewSheetsSink builds a sink from GOOGLE_SHEETS_ACCESS_TOKEN. An empty
// token is an error; callers chain a LogSink behind this one instead.
func NewSheetsSink(logger *slog.Logger) (*SheetsSink, error) {
	token := os.Getenv("GOOGLE_SHEETS_ACCESS_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("sheets sink: GOOGLE_SHEETS_ACCESS_TOKEN not set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SheetsSink{
		accessToken: token,
		baseURL:     "https://sheets.googleapis.com/v4/spreadsheets",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}, nil
}

// NewSheetsSinkWithConfig is the test hook: explicit token and base URL.
func NewSheetsSinkWithConfig(accessToken, baseURL string, logger *slog.Logger) *SheetsSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SheetsSink{
		accessToken: accessToken,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
}

// Deploy creates the spreadsheet and writes all rows.
func (s *SheetsSink) Deploy(ctx context.Context, client string, records []map[string]any) (*Result, error) {
	title := fmt.Sprintf("%s CRM import %s", client, time.Now().Format("2006-01-02 15:04"))
	sheetID, sheetURL, err := s.createSpreadsheet(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("sheets sink: creating spreadsheet: %w", err)
	}

	fields := fieldOrder(records)
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, fields)
	for _, record := range records {
		row := make([]string, len(fields))
		for i, f := range fields {
			row[i] = cellString(record[f])
		}
		rows = append(rows, row)
	}

	if err := s.appendRows(ctx, sheetID, rows); err != nil {
		return nil, fmt.Errorf("sheets sink: writing rows: %w", err)
	}

	s.logger.Info("deploy: records written to sheet",
		slog.String("client", client),
		slog.Int("records", len(records)),
		slog.String("url", sheetURL),
	)
	return &Result{
		Success:         true,
		RecordsDeployed: len(records),
		Destination:     "google_sheets",
		URL:             sheetURL,
	}, nil
}

func (s *SheetsSink) createSpreadsheet(ctx context.Context, title string) (string, string, error) {
	payload, err := json.Marshal(map[string]any{
		"properties": map[string]string{"title": title},
	})
	if err != nil {
		return "", "", fmt.Errorf("encoding request: %w", err)
	}

	body, err := s.post(ctx, s.baseURL, payload)
	if err != nil {
		return "", "", err
	}

	var created struct {
		SpreadsheetID  string `json:"spreadsheetId"`
		SpreadsheetURL string `json:"spreadsheetUrl"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", "", fmt.Errorf("decoding response: %w", err)
	}
	if created.SpreadsheetID == "" {
		return "", "", fmt.Errorf("response carried no spreadsheet ID")
	}
	return created.SpreadsheetID, created.SpreadsheetURL, nil
}

func (s *SheetsSink) appendRows(ctx context.Context, sheetID string, rows [][]string) error {
	values := make([][]any, len(rows))
	for i, row := range rows {
		cells := make([]any, len(row))
		for j, cell := range row {
			cells[j] = cell
		}
		values[i] = cells
	}
	payload, err := json.Marshal(map[string]any{
		"range":  "A1",
		"values": values,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/values/A1:append?valueInputOption=USER_ENTERED", s.baseURL, sheetID)
	_, err = s.post(ctx, endpoint, payload)
	return err
}

func (s *SheetsSink) post(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling sheets API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sheets API returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
