package cloudcode

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemaFromJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestCleanSchemaUppercasesTypes(t *testing.T) {
	out := CleanSchema(schemaFromJSON(t, `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"count": {"type": "integer"},
			"tags": {"type": "array", "items": {"type": "string"}}
		}
	}`))

	assert.Equal(t, "OBJECT", out["type"])
	props := out["properties"].(map[string]any)
	assert.Equal(t, "STRING", props["name"].(map[string]any)["type"])
	assert.Equal(t, "INTEGER", props["count"].(map[string]any)["type"])
	tags := props["tags"].(map[string]any)
	assert.Equal(t, "ARRAY", tags["type"])
	assert.Equal(t, "STRING", tags["items"].(map[string]any)["type"])
}

func TestCleanSchemaDropsUnsupportedKeywords(t *testing.T) {
	out := CleanSchema(schemaFromJSON(t, `{
		"type": "object",
		"additionalProperties": false,
		"$schema": "http://json-schema.org/draft-07/schema#",
		"properties": {
			"n": {"type": "number", "minimum": 0, "default": 1}
		}
	}`))

	assert.NotContains(t, out, "additionalProperties")
	assert.NotContains(t, out, "$schema")
	n := out["properties"].(map[string]any)["n"].(map[string]any)
	assert.NotContains(t, n, "minimum")
	assert.NotContains(t, n, "default")
}

func TestCleanSchemaRefBecomesHint(t *testing.T) {
	out := CleanSchema(schemaFromJSON(t, `{"$ref": "#/definitions/Config"}`))
	assert.Equal(t, "OBJECT", out["type"])
	assert.Equal(t, "See: Config", out["description"])

	withDesc := CleanSchema(schemaFromJSON(t, `{"$ref": "#/defs/Filter", "description": "query filter"}`))
	assert.Equal(t, "query filter (See: Filter)", withDesc["description"])
}

func TestCleanSchemaCollapsesTypeArray(t *testing.T) {
	out := CleanSchema(schemaFromJSON(t, `{
		"type": "object",
		"properties": {
			"name": {"type": ["string", "null"], "description": "optional name"}
		}
	}`))

	name := out["properties"].(map[string]any)["name"].(map[string]any)
	assert.Equal(t, "STRING", name["type"])
	assert.Equal(t, "optional name (nullable)", name["description"])
}

func TestCleanSchemaConstBecomesEnum(t *testing.T) {
	out := CleanSchema(schemaFromJSON(t, `{
		"type": "object",
		"properties": {"mode": {"const": "fast"}}
	}`))

	mode := out["properties"].(map[string]any)["mode"].(map[string]any)
	assert.Equal(t, []any{"fast"}, mode["enum"])
}

func TestCleanSchemaPrunesRequired(t *testing.T) {
	out := CleanSchema(schemaFromJSON(t, `{
		"type": "object",
		"properties": {"kept": {"type": "string"}},
		"required": ["kept", "phantom"]
	}`))
	assert.Equal(t, []any{"kept"}, out["required"])

	allGone := CleanSchema(schemaFromJSON(t, `{
		"type": "object",
		"properties": {"a": {"type": "string"}},
		"required": ["phantom"]
	}`))
	assert.NotContains(t, allGone, "required")
}

func TestCleanSchemaMergesAllOf(t *testing.T) {
	out := CleanSchema(schemaFromJSON(t, `{
		"allOf": [
			{"properties": {"a": {"type": "string"}}, "required": ["a"]},
			{"properties": {"b": {"type": "number"}}, "required": ["b"]}
		]
	}`))

	props := out["properties"].(map[string]any)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.ElementsMatch(t, []any{"a", "b"}, out["required"])
}

func TestCleanSchemaFlattensUnionToRichestVariant(t *testing.T) {
	out := CleanSchema(schemaFromJSON(t, `{
		"type": "object",
		"properties": {
			"target": {
				"anyOf": [
					{"type": "string"},
					{"type": "object", "properties": {"path": {"type": "string"}}}
				]
			}
		}
	}`))

	target := out["properties"].(map[string]any)["target"].(map[string]any)
	assert.Equal(t, "OBJECT", target["type"])
	assert.Contains(t, target["properties"], "path")
}

func TestCleanSchemaDefaultsMissingType(t *testing.T) {
	out := CleanSchema(schemaFromJSON(t, `{"description": "anything"}`))
	assert.Equal(t, "OBJECT", out["type"])

	assert.Nil(t, CleanSchema(nil))
}
