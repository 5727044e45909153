// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform reshapes source records into target-schema records:
// columns are renamed per the resolved mapping, values are coerced to the
// declared field types, and anything that cannot be coerced passes through
// raw with a validation warning rather than failing the batch.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/onboard/services/onboard/classify"
	"github.com/AleutianAI/onboard/services/onboard/schema"
)

// ValidationWarning flags one value that could not be coerced to its
// field's declared type. The raw value is kept in the output record.
type ValidationWarning struct {
	Row          int    `json:"row"`
	Field        string `json:"field"`
	Value        string `json:"value"`
	ExpectedType string `json:"expected_type"`
	Message      string `json:"message"`
}

// truthyTokens and falsyTokens are the accepted boolean spellings, matched
// case-insensitively after trimming.
var truthyTokens = map[string]bool{
	"true": true, "yes": true, "y": true, "1": true, "active": true, "t": true,
}

var falsyTokens = map[string]bool{
	"false": true, "no": true, "n": true, "0": true, "inactive": true, "f": true,
}

// dateLayouts are tried in order; first parse wins. Output is YYYY-MM-DD.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
	"2-Jan-2006",
}

// datetimeLayouts are tried in order; first parse wins. Output is ISO 8601
// with a T separator.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
}

// Apply transforms source records into target records.
//
// # Description
//
// For each record, every source column with a usable mapping is written to
// its target field; columns mapped to the unknown sentinel, or not mapped
// at all, are dropped. When a schema is supplied, values are coerced to
// the field's declared type; coercion failures emit a ValidationWarning
// (with the source row index) and keep the raw value. A nil schema means
// pure rename with no coercion.
//
// # Inputs
//
//   - records: source rows as column name to raw string value.
//   - mappings: resolved source-to-target mapping.
//   - target: the target schema, or nil to skip coercion.
//
// # Outputs
//
//   - []map[string]any: transformed rows, same order and length as the
//     input.
//   - []ValidationWarning: one entry per failed coercion. Empty, never
//     nil, when all values coerce.
func Apply(records []map[string]string, mappings []classify.ColumnMapping, target *schema.Schema) ([]map[string]any, []ValidationWarning) {
	byColumn := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.TargetField == "" || m.TargetField == classify.UnknownTarget {
			continue
		}
		byColumn[m.SourceColumn] = m.TargetField
	}

	out := make([]map[string]any, 0, len(records))
	warnings := []ValidationWarning{}

	for row, record := range records {
		transformed := make(map[string]any, len(byColumn))
		for column, raw := range record {
			field, ok := byColumn[column]
			if !ok {
				continue
			}
			if target == nil {
				transformed[field] = raw
				continue
			}
			value, warn := coerce(raw, target.TypeOf(field))
			if warn != "" {
				warnings = append(warnings, ValidationWarning{
					Row:          row,
					Field:        field,
					Value:        raw,
					ExpectedType: string(target.TypeOf(field)),
					Message:      warn,
				})
			}
			transformed[field] = value
		}
		out = append(out, transformed)
	}
	return out, warnings
}

// coerce converts one raw value to the field type. On failure it returns
// the raw value unchanged plus a warning message.
func coerce(raw string, fieldType schema.FieldType) (any, string) {
	trimmed := strings.TrimSpace(raw)

	switch fieldType {
	case schema.TypeBoolean:
		token := strings.ToLower(trimmed)
		if truthyTokens[token] {
			return true, ""
		}
		if falsyTokens[token] {
			return false, ""
		}
		return raw, fmt.Sprintf("unrecognized boolean value %q", raw)

	case schema.TypeNumber:
		cleaned := strings.ReplaceAll(trimmed, ",", "")
		cleaned = strings.TrimPrefix(cleaned, "$")
		n, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return raw, fmt.Sprintf("cannot parse %q as a number", raw)
		}
		return n, ""

	case schema.TypeDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.Format("2006-01-02"), ""
			}
		}
		return raw, fmt.Sprintf("unrecognized date format %q", raw)

	case schema.TypeDatetime:
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.Format("2006-01-02T15:04:05"), ""
			}
		}
		// A bare date is acceptable for a datetime field; midnight is
		// implied.
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.Format("2006-01-02T15:04:05"), ""
			}
		}
		return raw, fmt.Sprintf("unrecognized datetime format %q", raw)

	default:
		return raw, ""
	}
}
