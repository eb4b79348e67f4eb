package cloudcode

import (
	"fmt"
	"strings"
)

// geminiKeywords is the schema subset the Cloud Code API accepts.
var geminiKeywords = map[string]bool{
	"type":        true,
	"description": true,
	"properties":  true,
	"required":    true,
	"items":       true,
	"enum":        true,
}

var googleTypes = map[string]string{
	"string":  "STRING",
	"number":  "NUMBER",
	"integer": "INTEGER",
	"boolean": "BOOLEAN",
	"array":   "ARRAY",
	"object":  "OBJECT",
	"null":    "STRING",
}

// CleanSchema rewrites a client tool schema into the Cloud Code dialect:
// references and unions collapse to hints or their best variant, the
// keyword set narrows to the supported subset, and type names take
// Google's uppercase spelling.
func CleanSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}

	if ref, ok := schema["$ref"].(string); ok {
		parts := strings.Split(ref, "/")
		name := parts[len(parts)-1]
		if name == "" {
			name = "unknown"
		}
		out := map[string]any{"type": "OBJECT"}
		if desc, _ := schema["description"].(string); desc != "" {
			out["description"] = fmt.Sprintf("%s (See: %s)", desc, name)
		} else {
			out["description"] = "See: " + name
		}
		return out
	}

	node := make(map[string]any, len(schema))
	for k, v := range schema {
		node[k] = v
	}
	node = geminiMergeAllOf(node)
	node = geminiFlattenUnion(node)

	// Collapse array-valued type to the first non-null entry.
	if arr, ok := node["type"].([]any); ok {
		picked := "string"
		nullable := false
		for _, t := range arr {
			s, _ := t.(string)
			if s == "null" {
				nullable = true
				continue
			}
			if s != "" {
				picked = s
				break
			}
		}
		node["type"] = picked
		if nullable {
			geminiHint(node, "nullable")
		}
	}

	out := make(map[string]any, len(node))
	for key, value := range node {
		if key == "const" {
			out["enum"] = []any{value}
			continue
		}
		if !geminiKeywords[key] {
			continue
		}
		out[key] = value
	}

	if props, ok := out["properties"].(map[string]any); ok {
		clean := make(map[string]any, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				clean[name] = CleanSchema(subMap)
			} else {
				clean[name] = sub
			}
		}
		out["properties"] = clean
	}
	if items, ok := out["items"].(map[string]any); ok {
		out["items"] = CleanSchema(items)
	}

	// Drop required entries that no longer name a property.
	if required, ok := out["required"].([]any); ok {
		props, _ := out["properties"].(map[string]any)
		var kept []any
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if props != nil {
				if _, exists := props[name]; !exists {
					continue
				}
			}
			kept = append(kept, name)
		}
		if len(kept) == 0 {
			delete(out, "required")
		} else {
			out["required"] = kept
		}
	}

	if t, ok := out["type"].(string); ok {
		if upper, known := googleTypes[strings.ToLower(t)]; known {
			out["type"] = upper
		} else {
			out["type"] = strings.ToUpper(t)
		}
	} else if _, present := out["type"]; !present {
		out["type"] = "OBJECT"
	}
	return out
}

func geminiMergeAllOf(node map[string]any) map[string]any {
	variants, ok := node["allOf"].([]any)
	delete(node, "allOf")
	if !ok {
		return node
	}
	props, _ := node["properties"].(map[string]any)
	if props == nil {
		props = make(map[string]any)
	}
	var required []any
	if r, ok := node["required"].([]any); ok {
		required = r
	}
	for _, v := range variants {
		sub, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if subProps, ok := sub["properties"].(map[string]any); ok {
			for k, pv := range subProps {
				if _, exists := props[k]; !exists {
					props[k] = pv
				}
			}
		}
		if subReq, ok := sub["required"].([]any); ok {
			required = append(required, subReq...)
		}
	}
	if len(props) > 0 {
		node["properties"] = props
	}
	if len(required) > 0 {
		node["required"] = required
	}
	return node
}

func geminiFlattenUnion(node map[string]any) map[string]any {
	for _, key := range []string{"anyOf", "oneOf"} {
		variants, ok := node[key].([]any)
		if !ok {
			continue
		}
		delete(node, key)

		var best map[string]any
		bestScore := -1
		for _, v := range variants {
			sub, ok := v.(map[string]any)
			if !ok {
				continue
			}
			score := 0
			switch {
			case sub["type"] == "object" || sub["properties"] != nil:
				score = 3
			case sub["type"] == "array" || sub["items"] != nil:
				score = 2
			default:
				if t, _ := sub["type"].(string); t != "" && t != "null" {
					score = 1
				}
			}
			if score > bestScore {
				bestScore = score
				best = sub
			}
		}
		if best == nil {
			continue
		}
		for k, v := range best {
			if _, exists := node[k]; !exists || k == "type" || k == "properties" || k == "items" {
				node[k] = v
			}
		}
	}
	return node
}

func geminiHint(node map[string]any, hint string) {
	if desc, _ := node["description"].(string); desc != "" {
		node["description"] = fmt.Sprintf("%s (%s)", desc, hint)
	} else {
		node["description"] = hint
	}
}
