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

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Prompt identifies the call to place for a session's first question. The
// answer URL carries the session ID so inbound webhooks can find their
// session without any carrier-side state.
type Prompt struct {
	SessionID string
	ToNumber  string
}

// Dialer places the outbound call that opens a resolution session.
// Subsequent rounds ride the carrier's webhook callbacks, not the Dialer.
type Dialer interface {
	Place(ctx context.Context, p Prompt) error
}

// ===== Plivo =====

// PlivoDialer places calls through the Plivo voice API.
//
// # Description
//
// One POST to the account's Call endpoint with an answer_url pointing back
// at this service's voice webhook. The webhook renders the question XML;
// the dialer only opens the channel.
type PlivoDialer struct {
	authID     string
	authToken  string
	fromNumber string
	answerBase string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPlivoDialer builds a dialer from the environment.
//
// # Inputs
//
//   - PLIVO_AUTH_ID, PLIVO_AUTH_TOKEN: account credentials.
//   - PLIVO_FROM_NUMBER: caller ID for outbound calls.
//   - VOICE_WEBHOOK_BASE: public base URL of this service, e.g.
//     "https://onboard.example.com".
func NewPlivoDialer(logger *slog.Logger) (*PlivoDialer, error) {
	authID := os.Getenv("PLIVO_AUTH_ID")
	authToken := os.Getenv("PLIVO_AUTH_TOKEN")
	if authID == "" || authToken == "" {
		return nil, fmt.Errorf("plivo dialer: PLIVO_AUTH_ID and PLIVO_AUTH_TOKEN must be set")
	}
	base := os.Getenv("VOICE_WEBHOOK_BASE")
	if base == "" {
		return nil, fmt.Errorf("plivo dialer: VOICE_WEBHOOK_BASE must be set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlivoDialer{
		authID:     authID,
		authToken:  authToken,
		fromNumber: os.Getenv("PLIVO_FROM_NUMBER"),
		answerBase: base,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}, nil
}

// Place starts the outbound call for a session.
func (d *PlivoDialer) Place(ctx context.Context, p Prompt) error {
	answerURL := fmt.Sprintf("%s/v1/voice/answer?%s", d.answerBase,
		url.Values{"session": {p.SessionID}}.Encode())

	payload, err := json.Marshal(map[string]string{
		"from":          d.fromNumber,
		"to":            p.ToNumber,
		"answer_url":    answerURL,
		"answer_method": "POST",
	})
	if err != nil {
		return fmt.Errorf("plivo dialer: encoding call request: %w", err)
	}

	endpoint := fmt.Sprintf("https://api.plivo.com/v1/Account/%s/Call/", d.authID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("plivo dialer: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(d.authID, d.authToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("plivo dialer: placing call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("plivo dialer: call API returned %d: %s", resp.StatusCode, string(body))
	}

	d.logger.Info("resolve: outbound call placed",
		slog.String("session_id", p.SessionID),
		slog.String("to", p.ToNumber),
	)
	return nil
}

// ===== Simulator =====

// SimDialer is a carrier stand-in for demos and tests. Instead of placing
// a call, it drives the session itself on a goroutine, feeding one scripted
// Input per round with a small delay between rounds.
//
// Scripted inputs are consumed in order; once exhausted every further
// round gets a "1" press, so unscripted questions confirm.
type SimDialer struct {
	manager *Manager
	script  []Input
	delay   time.Duration
	logger  *slog.Logger
}

// NewSimDialer builds a simulator over the given session manager.
func NewSimDialer(manager *Manager, script []Input, delay time.Duration, logger *slog.Logger) *SimDialer {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SimDialer{manager: manager, script: script, delay: delay, logger: logger}
}

// Place answers the session's questions round by round until it completes
// or the context is cancelled.
func (d *SimDialer) Place(ctx context.Context, p Prompt) error {
	go d.run(ctx, p.SessionID)
	return nil
}

func (d *SimDialer) run(ctx context.Context, sessionID string) {
	step := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.delay):
		}

		session, ok := d.manager.Get(sessionID)
		if !ok {
			return
		}
		session.mu.Lock()
		complete, index := session.Complete, session.Current
		session.mu.Unlock()
		if complete {
			return
		}

		in := Input{Digits: "1"}
		if step < len(d.script) {
			in = d.script[step]
		}
		step++

		if _, err := d.manager.HandleInput(sessionID, index, in); err != nil {
			d.logger.Warn("resolve: simulated round failed",
				slog.String("session_id", sessionID),
				slog.String("round", strconv.Itoa(step)),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}
