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
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/onboard/services/onboard/resolve"
)

// ===== Carrier XML =====

// voiceResponse is the carrier answer document. GetInput collects one
// round of speech or DTMF and posts it to Action; the trailing Speak only
// plays when input collection times out on the carrier side.
type voiceResponse struct {
	XMLName  xml.Name       `xml:"Response"`
	GetInput *voiceGetInput `xml:"GetInput,omitempty"`
	Speak    string         `xml:"Speak,omitempty"`
}

type voiceGetInput struct {
	Action       string `xml:"action,attr"`
	Method       string `xml:"method,attr"`
	InputType    string `xml:"inputType,attr"`
	DigitTimeout int    `xml:"digitEndTimeout,attr"`
	Speak        string `xml:"Speak"`
}

// questionSpeech renders the spoken prompt for one mapping question.
func questionSpeech(q resolve.Question, retry bool) string {
	target := strings.ReplaceAll(q.SuggestedMapping, "_", " ")
	column := strings.ReplaceAll(q.SourceColumn, "_", " ")
	prompt := fmt.Sprintf(
		"I found a column called %s. I believe it maps to %s. Press 1 or say yes to confirm. Press 2 or say no to reject. Or say the correct field name.",
		column, target)
	if retry {
		return "Sorry, I did not catch that. " + prompt
	}
	return prompt
}

// ===== Webhooks =====

// HandleVoiceAnswer is the carrier's answer callback: the operator picked
// up, so ask the session's current question.
func (h *Handlers) HandleVoiceAnswer(c *gin.Context) {
	sessionID := c.Query("session")
	view, err := h.sessions.CurrentQuestion(sessionID)
	if err != nil {
		h.renderSpeak(c, "This call has expired. Goodbye.")
		return
	}
	if view.Done {
		h.renderSpeak(c, "All mappings are already resolved. Goodbye.")
		return
	}
	h.renderQuestion(c, sessionID, view, false)
}

// HandleVoiceInput is the carrier's input callback: one round of DTMF or
// speech for the question named in the query string.
func (h *Handlers) HandleVoiceInput(c *gin.Context) {
	sessionID := c.Query("session")
	index, err := strconv.Atoi(c.Query("index"))
	if err != nil {
		h.renderSpeak(c, "Invalid request. Goodbye.")
		return
	}

	in := resolve.Input{
		Digits: c.PostForm("Digits"),
		Speech: c.PostForm("Speech"),
	}
	if raw := c.PostForm("Confidence"); raw != "" {
		if conf, err := strconv.ParseFloat(raw, 64); err == nil {
			in.Confidence = &conf
		}
	}

	decision, err := h.sessions.HandleInput(sessionID, index, in)
	if err != nil {
		h.logger.Warn("voice: round rejected",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		// A stale or duplicate webhook; re-ask whatever is current.
		decision = resolve.DecisionRepeat
	}

	switch decision {
	case resolve.DecisionComplete:
		h.renderSpeak(c, "All mappings resolved. Thank you. Goodbye.")
	default:
		view, err := h.sessions.CurrentQuestion(sessionID)
		if err != nil {
			h.renderSpeak(c, "This call has expired. Goodbye.")
			return
		}
		if view.Done {
			h.renderSpeak(c, "All mappings resolved. Thank you. Goodbye.")
			return
		}
		h.renderQuestion(c, sessionID, view, decision == resolve.DecisionRepeat)
	}
}

// ===== Rendering =====

func (h *Handlers) renderQuestion(c *gin.Context, sessionID string, view resolve.QuestionView, retry bool) {
	action := fmt.Sprintf("/v1/voice/input?session=%s&index=%d&retry=%d",
		sessionID, view.Index, view.RetryCount)
	c.XML(http.StatusOK, voiceResponse{
		GetInput: &voiceGetInput{
			Action:       action,
			Method:       http.MethodPost,
			InputType:    "dtmf speech",
			DigitTimeout: 5,
			Speak:        questionSpeech(view.Question, retry),
		},
		Speak: "I did not receive any input. Goodbye.",
	})
}

func (h *Handlers) renderSpeak(c *gin.Context, message string) {
	c.XML(http.StatusOK, voiceResponse{Speak: message})
}
