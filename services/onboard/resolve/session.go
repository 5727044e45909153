// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve implements the human resolution protocol: a multi-round
// voice/DTMF conversation that collects ground truth for uncertain column
// mappings.
//
// Each phone call is one CallSession walking an ordered list of
// MappingQuestions. Every round, the inbound webhook delivers either a
// digit press or a speech transcript; the round is classified into
// confirmed, rejected, corrected, or unclear, and the session either
// re-asks, advances, or completes. State lives in an injected Manager with
// a registry-level lock plus per-session locks, so concurrent onboarding
// runs never serialize on each other's calls.
package resolve

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRetryCeiling is how many unclear rounds a question tolerates
// before it is force-confirmed.
const DefaultRetryCeiling = 2

// DefaultConfidenceFloor is the transcription-confidence score below which
// speech is treated as ambient noise.
const DefaultConfidenceFloor = 0.4

// ErrSessionNotFound is returned for callbacks referencing an unknown or
// already reclaimed session.
var ErrSessionNotFound = errors.New("resolve: session not found")

// ErrStaleRound is returned when a callback arrives for a question that is
// not the session's current one, i.e. a retransmitted or out-of-order webhook.
var ErrStaleRound = errors.New("resolve: round does not match current question")

// QuestionState is the per-question lifecycle state.
type QuestionState int

const (
	// StateAsking means the question has been (or is being) presented and
	// the session is waiting for input.
	StateAsking QuestionState = iota
	// StateClassifying means a round's input is being classified. Held only
	// inside HandleInput; visible to audits, never across rounds.
	StateClassifying
	// StateResolved is terminal. The question's Response says how.
	StateResolved
)

// String renders the state for logs.
func (s QuestionState) String() string {
	switch s {
	case StateAsking:
		return "asking"
	case StateClassifying:
		return "classifying"
	case StateResolved:
		return "resolved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MappingQuestion is one uncertain mapping under interrogation.
type MappingQuestion struct {
	SourceColumn     string
	SuggestedMapping string

	state      QuestionState
	RetryCount int

	// Response is set exactly once, when the question resolves.
	Response Outcome
	// CorrectedTo is the human-supplied target when Response is
	// OutcomeCorrected. Differs from SuggestedMapping by construction.
	CorrectedTo string
	// LastOutcome is the classification of the most recent round,
	// including transient unclear rounds.
	LastOutcome Outcome
	// RawInputText is the transcript (or digit) from the resolving round.
	RawInputText string
	// InputConfidence is the transcription confidence of the resolving
	// round, when the channel supplied one.
	InputConfidence *float64
	// AutoConfirmed marks a forced confirmation after retry exhaustion.
	// Auditable: these records are confirmed by policy, not by a human.
	AutoConfirmed bool
}

// FinalTarget returns the target field the question settled on, or "" when
// the mapping was rejected or never resolved.
func (q *MappingQuestion) FinalTarget() string {
	switch q.Response {
	case OutcomeConfirmed:
		return q.SuggestedMapping
	case OutcomeCorrected:
		return q.CorrectedTo
	default:
		return ""
	}
}

// CallSession is the state of one phone call.
//
// # Thread Safety
//
// All access goes through the owning Manager, which locks the session's
// mutex. Fields are exported for snapshotting only.
type CallSession struct {
	mu sync.Mutex

	ID           string
	Questions    []*MappingQuestion
	Current      int
	TargetFields map[string]bool
	Complete     bool

	// lastActivity is the time of session creation or the latest round,
	// used by the no-input watchdog.
	lastActivity time.Time
}

// Decision tells the inbound-callback handler what to do after a round.
type Decision int

const (
	// DecisionRepeat re-prompts the same question.
	DecisionRepeat Decision = iota
	// DecisionAdvance moves on to the next question.
	DecisionAdvance
	// DecisionComplete ends the call; every question is resolved.
	DecisionComplete
)

// Result is the per-question outcome handed back to the pipeline. Sessions
// that time out yield partial results: questions resolved before the
// timeout keep their outcome, the rest report OutcomeUnresolved.
type Result struct {
	SourceColumn     string
	SuggestedMapping string
	Outcome          Outcome
	FinalTarget      string
	AutoConfirmed    bool
	Rounds           int
	RawInput         string
}

// ManagerConfig holds the protocol policy knobs.
type ManagerConfig struct {
	// RetryCeiling is the number of unclear rounds tolerated per question
	// before forced confirmation. Zero means DefaultRetryCeiling.
	RetryCeiling int
	// ConfidenceFloor is the minimum transcription confidence for speech
	// to be considered at all. Zero means DefaultConfidenceFloor.
	ConfidenceFloor float64
}

// Manager owns every live CallSession.
//
// # Description
//
// The registry map is guarded by its own mutex; each session carries an
// independent lock so rounds for unrelated calls never block each other.
// The pipeline goroutine and the webhook handler share one Manager
// instance; there is deliberately no package-level state.
//
// # Thread Safety
//
// Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*CallSession

	cfg    ManagerConfig
	logger *slog.Logger
}

// NewManager creates an empty session registry.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultRetryCeiling
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = DefaultConfidenceFloor
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*CallSession),
		cfg:      cfg,
		logger:   logger,
	}
}

// Question is the input to Begin: one uncertain mapping to ask about.
type Question struct {
	SourceColumn     string
	SuggestedMapping string
}

// Begin registers a new session for an ordered list of questions.
func (m *Manager) Begin(questions []Question, targetFields []string) *CallSession {
	qs := make([]*MappingQuestion, len(questions))
	for i, q := range questions {
		qs[i] = &MappingQuestion{
			SourceColumn:     q.SourceColumn,
			SuggestedMapping: q.SuggestedMapping,
			state:            StateAsking,
		}
	}
	fields := make(map[string]bool, len(targetFields))
	for _, f := range targetFields {
		fields[f] = true
	}

	session := &CallSession{
		ID:           uuid.NewString(),
		Questions:    qs,
		TargetFields: fields,
		lastActivity: time.Now(),
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.logger.Info("resolve: session started",
		slog.String("session_id", session.ID),
		slog.Int("question_count", len(qs)),
	)
	return session
}

// Get returns a live session by ID.
func (m *Manager) Get(sessionID string) (*CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// End removes a session from the registry. Idempotent.
func (m *Manager) End(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Input is one round's raw channel input.
type Input struct {
	// Digits is the DTMF press, when any. "1" confirms, "2" rejects;
	// anything else is unclear. Digits always win over speech.
	Digits string
	// Speech is the transcript of a spoken response.
	Speech string
	// Confidence is the transcription confidence in [0,1], when the
	// channel supplies one.
	Confidence *float64
}

// HandleInput classifies one round of input against the session's current
// question and advances the state machine.
//
// # Description
//
// Exactly one outcome transition happens per round. Unclear rounds bump
// the retry counter and re-ask; once the counter exceeds the ceiling the
// question is force-confirmed with the original suggestion and tagged
// AutoConfirmed. A round for a non-current index returns ErrStaleRound
// without touching state; resolved questions are structurally out of
// reach of classification.
func (m *Manager) HandleInput(sessionID string, index int, in Input) (Decision, error) {
	return m.handleRound(sessionID, index, &in)
}

// HandleNoInput records an expired no-input window for the current
// question. It counts exactly like an unclear round.
func (m *Manager) HandleNoInput(sessionID string, index int) (Decision, error) {
	return m.handleRound(sessionID, index, nil)
}

func (m *Manager) handleRound(sessionID string, index int, in *Input) (Decision, error) {
	session, ok := m.Get(sessionID)
	if !ok {
		return DecisionComplete, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.Complete {
		return DecisionComplete, fmt.Errorf("%w: session already complete", ErrStaleRound)
	}
	if index != session.Current {
		return DecisionRepeat, fmt.Errorf("%w: got index %d, current is %d", ErrStaleRound, index, session.Current)
	}

	q := session.Questions[session.Current]
	if q.state == StateResolved {
		// Unreachable while Current is maintained correctly; kept as a
		// contract check.
		return DecisionRepeat, fmt.Errorf("%w: question already resolved", ErrStaleRound)
	}

	q.state = StateClassifying
	session.lastActivity = time.Now()

	outcome := OutcomeUnclear
	correctedTo := ""
	if in != nil {
		outcome, correctedTo = ClassifyInput(*in, q.SuggestedMapping, session.TargetFields, m.cfg.ConfidenceFloor)
	}
	q.LastOutcome = outcome

	logAttrs := []any{
		slog.String("session_id", session.ID),
		slog.Int("index", index),
		slog.String("column", q.SourceColumn),
		slog.String("outcome", string(outcome)),
	}

	if outcome == OutcomeUnclear {
		q.RetryCount++
		if q.RetryCount <= m.cfg.RetryCeiling {
			q.state = StateAsking
			m.logger.Info("resolve: unclear input, re-asking", logAttrs...)
			return DecisionRepeat, nil
		}
		// Retry ceiling exhausted: force-confirm the original suggestion.
		// Documented tradeoff: progress over correctness under repeated
		// ambiguous input.
		q.Response = OutcomeConfirmed
		q.AutoConfirmed = true
		q.state = StateResolved
		m.logger.Warn("resolve: retries exhausted, auto-confirming suggestion", logAttrs...)
		return m.advanceLocked(session), nil
	}

	q.Response = outcome
	q.CorrectedTo = correctedTo
	if in != nil {
		if in.Digits != "" {
			q.RawInputText = in.Digits
		} else {
			q.RawInputText = in.Speech
		}
		q.InputConfidence = in.Confidence
	}
	q.state = StateResolved

	m.logger.Info("resolve: question resolved", logAttrs...)
	return m.advanceLocked(session), nil
}

// advanceLocked moves the session past the just-resolved question. The
// session mutex must be held.
func (m *Manager) advanceLocked(session *CallSession) Decision {
	session.Current++
	if session.Current >= len(session.Questions) {
		session.Complete = true
		m.logger.Info("resolve: session complete", slog.String("session_id", session.ID))
		return DecisionComplete
	}
	return DecisionAdvance
}

// QuestionView is a consistent snapshot of a session's current question,
// taken under the session mutex. Done is set when every question has
// resolved; the other fields are zero in that case.
type QuestionView struct {
	Question   Question
	Index      int
	RetryCount int
	Done       bool
}

// CurrentQuestion returns a locked snapshot of the session's current
// question for webhook rendering. Callers must not read session fields
// directly; rounds resolving concurrently move the cursor.
func (m *Manager) CurrentQuestion(sessionID string) (QuestionView, error) {
	session, ok := m.Get(sessionID)
	if !ok {
		return QuestionView{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.Complete || session.Current >= len(session.Questions) {
		return QuestionView{Done: true}, nil
	}
	q := session.Questions[session.Current]
	return QuestionView{
		Question: Question{
			SourceColumn:     q.SourceColumn,
			SuggestedMapping: q.SuggestedMapping,
		},
		Index:      session.Current,
		RetryCount: q.RetryCount,
	}, nil
}

// Snapshot returns the session's results so far plus completion status.
// Unresolved questions report OutcomeUnresolved.
func (m *Manager) Snapshot(sessionID string) ([]Result, bool, error) {
	session, ok := m.Get(sessionID)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	results := make([]Result, len(session.Questions))
	for i, q := range session.Questions {
		r := Result{
			SourceColumn:     q.SourceColumn,
			SuggestedMapping: q.SuggestedMapping,
			Outcome:          OutcomeUnresolved,
			Rounds:           q.RetryCount,
			RawInput:         q.RawInputText,
		}
		if q.state == StateResolved {
			r.Outcome = q.Response
			r.FinalTarget = q.FinalTarget()
			r.AutoConfirmed = q.AutoConfirmed
		}
		results[i] = r
	}
	return results, session.Complete, nil
}

// lastActivityOf reads the session's activity timestamp and current index
// for the no-input watchdog.
func (m *Manager) lastActivityOf(sessionID string) (time.Time, int, bool) {
	session, ok := m.Get(sessionID)
	if !ok {
		return time.Time{}, 0, false
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.lastActivity, session.Current, !session.Complete
}
