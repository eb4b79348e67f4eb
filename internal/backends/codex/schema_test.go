package codex

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

func TestSanitizeDropsUnsupportedKeywords(t *testing.T) {
	in := schemaFromJSON(t, `{
		"type": "object",
		"properties": {
			"count": {"type": "integer", "minimum": 0, "maximum": 10, "default": 1}
		},
		"additionalProperties": false,
		"$schema": "http://json-schema.org/draft-07/schema#"
	}`)

	out := SanitizeToolSchema(in)
	assert.NotContains(t, out, "additionalProperties")
	assert.NotContains(t, out, "$schema")

	count := out["properties"].(map[string]any)["count"].(map[string]any)
	assert.Equal(t, "integer", count["type"])
	assert.NotContains(t, count, "minimum")
	assert.NotContains(t, count, "default")
}

func TestSanitizeEmptySchemaGetsPlaceholder(t *testing.T) {
	out := SanitizeToolSchema(map[string]any{})
	props := out["properties"].(map[string]any)
	require.Contains(t, props, "reason")
	assert.Equal(t, []any{"reason"}, out["required"])
}

func TestSanitizeWrapsNonObjectTopLevel(t *testing.T) {
	out := SanitizeToolSchema(schemaFromJSON(t, `{"type": "string", "enum": ["a", "b"]}`))

	assert.Equal(t, "object", out["type"])
	wrapped := out["properties"].(map[string]any)["input"].(map[string]any)
	assert.Equal(t, "string", wrapped["type"])
	assert.Equal(t, []any{"a", "b"}, wrapped["enum"])
	assert.Equal(t, []any{"input"}, out["required"])
}

func TestSanitizeRefBecomesHint(t *testing.T) {
	out := SanitizeToolSchema(schemaFromJSON(t, `{
		"type": "object",
		"properties": {
			"config": {"$ref": "#/definitions/Config"}
		}
	}`))

	config := out["properties"].(map[string]any)["config"].(map[string]any)
	assert.Equal(t, "object", config["type"])
	assert.Equal(t, "See: Config", config["description"])
}

func TestSanitizeMergesAllOf(t *testing.T) {
	out := SanitizeToolSchema(schemaFromJSON(t, `{
		"allOf": [
			{"type": "object", "properties": {"a": {"type": "string"}}, "required": ["a"]},
			{"type": "object", "properties": {"b": {"type": "number"}}, "required": ["b"]}
		]
	}`))

	props := out["properties"].(map[string]any)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Equal(t, []any{"a", "b"}, out["required"])
}

func TestSanitizeFlattensAnyOfToRichestVariant(t *testing.T) {
	out := SanitizeToolSchema(schemaFromJSON(t, `{
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
	assert.Equal(t, "object", target["type"])
	assert.Contains(t, target["properties"], "path")
	desc, _ := target["description"].(string)
	assert.Contains(t, desc, "string")
	assert.Contains(t, desc, "object")
}

func TestSanitizeCollapsesTypeArray(t *testing.T) {
	out := SanitizeToolSchema(schemaFromJSON(t, `{
		"type": "object",
		"properties": {
			"name": {"type": ["string", "null"]}
		}
	}`))

	name := out["properties"].(map[string]any)["name"].(map[string]any)
	assert.Equal(t, "string", name["type"])
	desc, _ := name["description"].(string)
	assert.Contains(t, desc, "nullable")
}

func TestSanitizeConstBecomesEnum(t *testing.T) {
	out := SanitizeToolSchema(schemaFromJSON(t, `{
		"type": "object",
		"properties": {
			"mode": {"const": "fast"}
		}
	}`))

	mode := out["properties"].(map[string]any)["mode"].(map[string]any)
	assert.Equal(t, []any{"fast"}, mode["enum"])
}

func TestSanitizeIntersectsRequired(t *testing.T) {
	out := SanitizeToolSchema(schemaFromJSON(t, `{
		"type": "object",
		"properties": {"kept": {"type": "string"}},
		"required": ["kept", "phantom"]
	}`))

	assert.Equal(t, []any{"kept"}, out["required"])
}

func TestSanitizeIsIdempotent(t *testing.T) {
	in := schemaFromJSON(t, `{
		"type": ["object", "null"],
		"properties": {
			"a": {"anyOf": [{"type": "string"}, {"type": "integer"}]},
			"b": {"$ref": "#/defs/B"},
			"c": {"const": 3}
		},
		"required": ["a", "missing"],
		"additionalProperties": false
	}`)

	once := SanitizeToolSchema(in)
	twice := SanitizeToolSchema(once)

	onceJSON, err := json.Marshal(once)
	require.NoError(t, err)
	twiceJSON, err := json.Marshal(twice)
	require.NoError(t, err)
	assert.JSONEq(t, string(onceJSON), string(twiceJSON))
}
