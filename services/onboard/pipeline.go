// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package onboard wires the stages of a client onboarding run: acquire
// the export, recall known mappings, classify the rest, escalate the
// uncertain ones to a human over voice, transform the records, deploy
// them, and fold the confirmed mappings back into memory so the next
// client asks fewer questions.
package onboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/onboard/services/onboard/arbiter"
	"github.com/AleutianAI/onboard/services/onboard/classify"
	"github.com/AleutianAI/onboard/services/onboard/deploy"
	"github.com/AleutianAI/onboard/services/onboard/events"
	"github.com/AleutianAI/onboard/services/onboard/memory"
	"github.com/AleutianAI/onboard/services/onboard/research"
	"github.com/AleutianAI/onboard/services/onboard/resolve"
	"github.com/AleutianAI/onboard/services/onboard/schema"
	"github.com/AleutianAI/onboard/services/onboard/source"
	"github.com/AleutianAI/onboard/services/onboard/transform"
)

const tracerName = "services/onboard"

// Summary is the outcome of one onboarding run.
type Summary struct {
	Client         string                        `json:"client"`
	TotalColumns   int                           `json:"total_columns"`
	FromMemory     int                           `json:"from_memory"`
	AutoMapped     int                           `json:"auto_mapped"`
	HumanResolved  int                           `json:"human_resolved"`
	Unresolved     int                           `json:"unresolved"`
	NewLearnings   int                           `json:"new_learnings"`
	RecordsTotal   int                           `json:"records_total"`
	Mappings       []classify.ColumnMapping      `json:"mappings"`
	Warnings       []transform.ValidationWarning `json:"warnings"`
	Deployment     *deploy.Result                `json:"deployment"`
	DurationMillis int64                         `json:"duration_millis"`
}

// Pipeline holds the stage dependencies for onboarding runs.
//
// # Thread Safety
//
// Safe for concurrent runs; all mutable state lives in the injected
// components, each of which guards its own.
type Pipeline struct {
	source     source.DataSource
	memory     *memory.Store
	classifier classify.Classifier
	arbiter    *arbiter.Arbiter
	resolver   *resolve.Resolver
	research   *research.Engine
	sink       deploy.Sink
	schema     *schema.Schema
	broker     *events.Broker
	logger     *slog.Logger
}

// PipelineOptions collects the injected stage implementations. Research
// and Broker may be nil; every other field is required.
type PipelineOptions struct {
	Source     source.DataSource
	Memory     *memory.Store
	Classifier classify.Classifier
	Arbiter    *arbiter.Arbiter
	Resolver   *resolve.Resolver
	Research   *research.Engine
	Sink       deploy.Sink
	Schema     *schema.Schema
	Broker     *events.Broker
}

// NewPipeline validates the options and builds a Pipeline.
func NewPipeline(opts PipelineOptions, logger *slog.Logger) (*Pipeline, error) {
	switch {
	case opts.Source == nil:
		return nil, fmt.Errorf("pipeline: Source is required")
	case opts.Memory == nil:
		return nil, fmt.Errorf("pipeline: Memory is required")
	case opts.Classifier == nil:
		return nil, fmt.Errorf("pipeline: Classifier is required")
	case opts.Arbiter == nil:
		return nil, fmt.Errorf("pipeline: Arbiter is required")
	case opts.Resolver == nil:
		return nil, fmt.Errorf("pipeline: Resolver is required")
	case opts.Sink == nil:
		return nil, fmt.Errorf("pipeline: Sink is required")
	case opts.Schema == nil:
		return nil, fmt.Errorf("pipeline: Schema is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:     opts.Source,
		memory:     opts.Memory,
		classifier: opts.Classifier,
		arbiter:    opts.Arbiter,
		resolver:   opts.Resolver,
		research:   opts.Research,
		sink:       opts.Sink,
		schema:     opts.Schema,
		broker:     opts.Broker,
		logger:     logger,
	}, nil
}

// Onboard runs the full pipeline for one client.
//
// # Description
//
// Stage order: fetch, memory recall, classification of the remainder,
// arbitration, human resolution of the single escalated question,
// transform, deploy, memory write-back. Each stage gets its own span.
// The run survives every optional-stage failure: classification falls
// back inside the classifier, resolution returns partial results on
// timeout, and only fetch and deploy errors abort the run.
func (p *Pipeline) Onboard(ctx context.Context, client string) (*Summary, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "onboard.run",
		trace.WithAttributes(attribute.String("client", client)))
	defer span.End()

	started := time.Now()
	p.publish("run_started", client, fmt.Sprintf("onboarding %s", client), nil)

	dataset, err := p.fetch(ctx, tracer, client)
	if err != nil {
		runsTotal.WithLabelValues(client, "failed").Inc()
		return nil, err
	}

	recalled, misses := p.recall(ctx, tracer, dataset)
	classified := p.classify(ctx, tracer, dataset, misses)

	all := append(append([]classify.ColumnMapping{}, recalled...), classified...)
	confident, uncertain := p.arbiter.Arbitrate(all)
	escalate, autoAccepted := p.arbiter.PlanEscalation(uncertain)
	confident = append(confident, autoAccepted...)

	resolved, unresolvedCount, forced := p.resolveHuman(ctx, tracer, confident, escalate)

	final := append(append([]classify.ColumnMapping{}, confident...), resolved...)

	records, warnings := p.transform(ctx, tracer, dataset, final)

	deployment, err := p.deploy(ctx, tracer, client, records)
	if err != nil {
		runsTotal.WithLabelValues(client, "failed").Inc()
		return nil, err
	}

	learned := p.learn(ctx, tracer, client, final, forced)

	summary := &Summary{
		Client:         client,
		TotalColumns:   len(dataset.Columns),
		FromMemory:     len(recalled),
		AutoMapped:     countAuto(final),
		HumanResolved:  len(resolved),
		Unresolved:     unresolvedCount,
		NewLearnings:   learned,
		RecordsTotal:   len(records),
		Mappings:       final,
		Warnings:       warnings,
		Deployment:     deployment,
		DurationMillis: time.Since(started).Milliseconds(),
	}

	runsTotal.WithLabelValues(client, "completed").Inc()
	runDurationSeconds.WithLabelValues(client).Observe(time.Since(started).Seconds())
	humanMapped := countAuto(resolved)
	columnsMappedTotal.WithLabelValues("memory").Add(float64(len(recalled)))
	columnsMappedTotal.WithLabelValues("human").Add(float64(humanMapped))
	columnsMappedTotal.WithLabelValues("auto").Add(float64(summary.AutoMapped - humanMapped))
	columnsMappedTotal.WithLabelValues("unresolved").Add(float64(unresolvedCount))
	p.publish("run_completed", client, "onboarding complete", summary)

	p.logger.Info("pipeline: run complete",
		slog.String("client", client),
		slog.Int("columns", summary.TotalColumns),
		slog.Int("from_memory", summary.FromMemory),
		slog.Int("human_resolved", summary.HumanResolved),
		slog.Int("new_learnings", summary.NewLearnings),
	)
	return summary, nil
}

// ===== Stages =====

func (p *Pipeline) fetch(ctx context.Context, tracer trace.Tracer, client string) (*source.Dataset, error) {
	ctx, span := tracer.Start(ctx, "onboard.fetch")
	defer span.End()

	dataset, err := p.source.Fetch(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetching export for %q: %w", client, err)
	}
	span.SetAttributes(
		attribute.Int("columns", len(dataset.Columns)),
		attribute.Int("rows", len(dataset.Records)),
	)
	p.publish("data_fetched", client,
		fmt.Sprintf("fetched %d columns, %d rows", len(dataset.Columns), len(dataset.Records)), dataset.Columns)
	return dataset, nil
}

// recall checks every column against the mapping memory. Hits come back
// as from-memory mappings; misses go to classification.
func (p *Pipeline) recall(ctx context.Context, tracer trace.Tracer, dataset *source.Dataset) (recalled []classify.ColumnMapping, misses []string) {
	ctx, span := tracer.Start(ctx, "onboard.recall")
	defer span.End()

	for _, column := range dataset.Columns {
		match, err := p.memory.FindMatch(ctx, column)
		if err != nil {
			p.logger.Warn("pipeline: memory lookup failed, treating as miss",
				slog.String("column", column),
				slog.String("error", err.Error()),
			)
		}
		if match == nil || !match.IsConfident {
			memoryLookupsTotal.WithLabelValues("miss").Inc()
			misses = append(misses, column)
			continue
		}
		memoryLookupsTotal.WithLabelValues("hit").Inc()
		recalled = append(recalled, classify.ColumnMapping{
			SourceColumn: column,
			TargetField:  match.TargetField,
			Confidence:   classify.ConfidenceHigh,
			Reasoning: fmt.Sprintf("Recalled from memory: %q mapped to %q for %s (distance %.3f, used %d times)",
				match.SourceColumn, match.TargetField, match.OriginClient, match.Distance, match.UseCount),
			FromMemory: true,
		})
	}
	span.SetAttributes(
		attribute.Int("hits", len(recalled)),
		attribute.Int("misses", len(misses)),
	)
	if len(recalled) > 0 {
		p.publish("memory_recalled", dataset.Client,
			fmt.Sprintf("%d of %d columns recalled from memory", len(recalled), len(dataset.Columns)), recalled)
	}
	return recalled, misses
}

func (p *Pipeline) classify(ctx context.Context, tracer trace.Tracer, dataset *source.Dataset, columns []string) []classify.ColumnMapping {
	if len(columns) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "onboard.classify",
		trace.WithAttributes(attribute.Int("columns", len(columns))))
	defer span.End()

	req := classify.Request{
		Columns: columns,
		Samples: dataset.Samples,
		Schema:  p.schema,
		Context: p.researchContext(ctx, columns),
	}
	mappings, err := p.classifier.Classify(ctx, req)
	if err != nil {
		// Classifiers degrade internally; an error here means even the
		// rule fallback could not run. Emit unknowns so the run continues.
		p.logger.Error("pipeline: classification failed outright",
			slog.String("error", err.Error()))
		mappings = make([]classify.ColumnMapping, len(columns))
		for i, col := range columns {
			mappings[i] = classify.ColumnMapping{
				SourceColumn: col,
				TargetField:  classify.UnknownTarget,
				Confidence:   classify.ConfidenceLow,
				Reasoning:    "Classification unavailable",
			}
		}
	}
	p.publish("columns_classified", dataset.Client,
		fmt.Sprintf("classified %d columns", len(mappings)), mappings)
	return mappings
}

// researchContext gathers web context for the most cryptic columns.
// Bounded: at most three columns are researched per run.
func (p *Pipeline) researchContext(ctx context.Context, columns []string) string {
	if p.research == nil {
		return ""
	}
	const researchCap = 3
	context := ""
	researched := 0
	for _, col := range columns {
		if researched >= researchCap {
			break
		}
		if found := p.research.ColumnContext(ctx, col, "crm customer data"); found != "" {
			context += fmt.Sprintf("Column %q: %s\n", col, found)
			researched++
		}
	}
	return context
}

// resolveHuman runs the voice protocol for the escalated questions and
// maps the results back into column mappings. Unresolved questions (call
// timeout) are excluded from the final mapping set and counted. The
// returned set names the columns that were force-confirmed by retry
// policy rather than by a human; learn consults it.
func (p *Pipeline) resolveHuman(ctx context.Context, tracer trace.Tracer, confident, escalate []classify.ColumnMapping) ([]classify.ColumnMapping, int, map[string]bool) {
	if len(escalate) == 0 {
		return nil, 0, nil
	}
	ctx, span := tracer.Start(ctx, "onboard.resolve",
		trace.WithAttributes(attribute.Int("questions", len(escalate))))
	defer span.End()

	questions := make([]resolve.Question, len(escalate))
	for i, m := range escalate {
		questions[i] = resolve.Question{
			SourceColumn:     m.SourceColumn,
			SuggestedMapping: m.TargetField,
		}
	}

	results, err := p.resolver.Resolve(ctx, questions, p.schema.FieldNames())
	if err != nil {
		p.logger.Error("pipeline: human resolution failed, dropping escalated columns",
			slog.String("error", err.Error()))
		return nil, len(escalate), nil
	}

	var resolved []classify.ColumnMapping
	unresolved := 0
	forced := map[string]bool{}
	for _, r := range results {
		resolutionRoundsTotal.WithLabelValues(string(r.Outcome)).Inc()
		switch r.Outcome {
		case resolve.OutcomeConfirmed:
			reasoning := "Confirmed by operator"
			if r.AutoConfirmed {
				reasoning = "Auto-confirmed after unclear responses"
				forced[r.SourceColumn] = true
			}
			resolved = append(resolved, classify.ColumnMapping{
				SourceColumn: r.SourceColumn,
				TargetField:  r.SuggestedMapping,
				Confidence:   classify.ConfidenceHigh,
				Reasoning:    reasoning,
			})
		case resolve.OutcomeCorrected:
			resolved = append(resolved, classify.ColumnMapping{
				SourceColumn: r.SourceColumn,
				TargetField:  r.FinalTarget,
				Confidence:   classify.ConfidenceHigh,
				Reasoning:    fmt.Sprintf("Corrected by operator from %q", r.SuggestedMapping),
			})
		case resolve.OutcomeRejected:
			resolved = append(resolved, classify.ColumnMapping{
				SourceColumn: r.SourceColumn,
				TargetField:  classify.UnknownTarget,
				Confidence:   classify.ConfidenceLow,
				Reasoning:    "Rejected by operator with no correction",
			})
		default:
			unresolved++
		}
	}
	p.publish("human_resolved", "",
		fmt.Sprintf("%d questions resolved, %d unresolved", len(resolved), unresolved), resolved)
	return resolved, unresolved, forced
}

func (p *Pipeline) transform(ctx context.Context, tracer trace.Tracer, dataset *source.Dataset, mappings []classify.ColumnMapping) ([]map[string]any, []transform.ValidationWarning) {
	_, span := tracer.Start(ctx, "onboard.transform")
	defer span.End()

	records, warnings := transform.Apply(dataset.Records, mappings, p.schema)
	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("warnings", len(warnings)),
	)
	p.publish("records_transformed", dataset.Client,
		fmt.Sprintf("transformed %d records, %d warnings", len(records), len(warnings)), nil)
	return records, warnings
}

func (p *Pipeline) deploy(ctx context.Context, tracer trace.Tracer, client string, records []map[string]any) (*deploy.Result, error) {
	ctx, span := tracer.Start(ctx, "onboard.deploy")
	defer span.End()

	result, err := p.sink.Deploy(ctx, client, records)
	if err != nil {
		return nil, fmt.Errorf("pipeline: deploying records for %q: %w", client, err)
	}
	p.publish("records_deployed", client, result.Message, result)
	return result, nil
}

// learn writes the run's trustworthy mappings back into memory. Unknown
// targets are never stored; neither are forced auto-confirmations, which
// carry no human signal.
func (p *Pipeline) learn(ctx context.Context, tracer trace.Tracer, client string, final []classify.ColumnMapping, forced map[string]bool) int {
	ctx, span := tracer.Start(ctx, "onboard.learn")
	defer span.End()

	learned := 0
	for _, m := range final {
		if m.TargetField == classify.UnknownTarget || m.FromMemory || forced[m.SourceColumn] {
			continue
		}
		if err := p.memory.Store(ctx, m.SourceColumn, m.TargetField, client); err != nil {
			p.logger.Warn("pipeline: memory write-back failed",
				slog.String("column", m.SourceColumn),
				slog.String("error", err.Error()),
			)
			continue
		}
		learned++
	}
	span.SetAttributes(attribute.Int("learned", learned))
	if learned > 0 {
		p.publish("mappings_learned", client,
			fmt.Sprintf("%d new mappings stored", learned), nil)
	}
	return learned
}

// ===== Helpers =====

func (p *Pipeline) publish(eventType, client, message string, payload any) {
	if p.broker != nil {
		p.broker.Publish(eventType, client, message, payload)
	}
}

func countAuto(mappings []classify.ColumnMapping) int {
	n := 0
	for _, m := range mappings {
		if !m.FromMemory && m.TargetField != classify.UnknownTarget {
			n++
		}
	}
	return n
}
