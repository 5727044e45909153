// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema defines the canonical CRM target schema that client data
// is mapped onto.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed target_schema.yaml
var defaultSchemaYAML []byte

// FieldType is the declared value type of a target field. Types other than
// the coercible four are treated as plain strings by the transform layer.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeDatetime FieldType = "datetime"
	TypeNumber   FieldType = "number"
)

// Field describes one canonical target field.
type Field struct {
	Type        FieldType `yaml:"type"`
	Description string    `yaml:"description"`
}

// Schema is the canonical CRM schema.
//
// Immutable after loading; safe for concurrent use.
type Schema struct {
	Fields map[string]Field `yaml:"fields"`
}

// Default returns the embedded CRM schema.
func Default() (*Schema, error) {
	return parse(defaultSchemaYAML)
}

// Load reads a schema from a YAML file, falling back to the embedded default
// when path is empty.
func Load(path string) (*Schema, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: reading %q: %w", path, err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("schema: parsing YAML: %w", err)
	}
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("schema: no fields defined")
	}
	for name, f := range s.Fields {
		if f.Type == "" {
			f.Type = TypeString
			s.Fields[name] = f
		}
	}
	return &s, nil
}

// FieldNames returns the target field names in sorted order.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldSet returns the target field names as a membership set.
func (s *Schema) FieldSet() map[string]bool {
	set := make(map[string]bool, len(s.Fields))
	for name := range s.Fields {
		set[name] = true
	}
	return set
}

// Has reports whether name is a declared target field.
func (s *Schema) Has(name string) bool {
	_, ok := s.Fields[name]
	return ok
}

// TypeOf returns the declared type of a field, defaulting to string for
// unknown fields.
func (s *Schema) TypeOf(name string) FieldType {
	if f, ok := s.Fields[name]; ok {
		return f.Type
	}
	return TypeString
}

// Describe renders the schema as a compact field-per-line description for
// classifier prompts.
func (s *Schema) Describe() string {
	var b strings.Builder
	for _, name := range s.FieldNames() {
		f := s.Fields[name]
		fmt.Fprintf(&b, "%s (%s): %s\n", name, f.Type, f.Description)
	}
	return b.String()
}
