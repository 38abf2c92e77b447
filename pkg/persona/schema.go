package persona

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// personaSchemaJSON is the JSON Schema (Draft 2020-12) a persona document
// must satisfy in strict mode.
const personaSchemaJSON = `{
 "$schema": "https://json-schema.org/draft/2020-12/schema",
 "type": "object",
 "required": ["schema_version", "name", "authority"],
 "additionalProperties": true,
 "properties": {
 "schema_version": {"type": "string"},
 "name": {"type": "string", "minLength": 1},
 "authority": {
 "type": "object",
 "required": ["autonomy", "actions"],
 "properties": {
 "autonomy": {"type": "string", "enum": ["readonly", "supervised", "full"]},
 "scope": {"type": "object"},
 "actions": {
 "type": "object",
 "properties": {
 "allow": {"type": "array", "items": {"type": "string"}},
 "deny": {"type": "array", "items": {"type": "object", "required": ["action"]}},
 "scoped": {"type": "object"}
 }
 },
 "limits": {"type": "object"},
 "elevations": {
 "type": "array",
 "items": {
 "type": "object",
 "required": ["id", "grants", "requires", "ttl_seconds"],
 "properties": {
 "requires": {"type": "string", "enum": ["auto", "human", "quorum"]}
 }
 }
 },
 "delegation": {"type": "object"}
 }
 },
 "gates": {
 "type": "array",
 "items": {
 "type": "object",
 "required": ["id", "direction", "enforcement", "to_phase", "criteria", "approval"],
 "properties": {
 "direction": {"type": "string", "enum": ["promote", "demote"]},
 "enforcement": {"type": "string", "enum": ["enforce", "observe"]},
 "approval": {"type": "string", "enum": ["auto", "human", "quorum"]}
 }
 }
 }
 }
}`

var compiledSchema *jsonschema.Schema

func compiledDocumentSchema() (*jsonschema.Schema, error) {
	if compiledSchema != nil {
		return compiledSchema, nil
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://ampersona.run/schema/persona.schema.json"
	if err := c.AddResource(url, strings.NewReader(personaSchemaJSON)); err != nil {
		return nil, fmt.Errorf("persona: load schema resource: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("persona: compile schema: %w", err)
	}
	compiledSchema = schema
	return compiledSchema, nil
}

// ValidateRaw validates a persona document, still as a generic JSON value,
// against the strict-mode schema before it is ever unmarshaled into a
// Document — malformed input is rejected before any Go type assertion
// runs on it.
func ValidateRaw(raw []byte) error {
	schema, err := compiledDocumentSchema()
	if err != nil {
		return err
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("persona: invalid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("persona: schema validation failed: %w", err)
	}
	return nil
}
