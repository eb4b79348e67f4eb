package codex

import (
	"fmt"
	"strings"
)

// allowedKeywords is the subset of JSON Schema the Responses function-tool
// contract accepts. Everything else is either rewritten into a description
// hint or dropped.
var allowedKeywords = map[string]bool{
	"type":        true,
	"description": true,
	"properties":  true,
	"required":    true,
	"items":       true,
	"enum":        true,
}

// SanitizeToolSchema rewrites an arbitrary client tool schema into the
// restricted dialect the Responses API accepts:
//
//   - type arrays collapse to the first non-null entry, with a hint
//   - $ref becomes a description hint, since definitions are stripped
//   - allOf merges into the parent
//   - anyOf/oneOf flatten to the most informative variant
//   - unsupported keywords are dropped, const becomes a one-value enum
//   - required is intersected with the surviving properties
//   - an empty schema becomes a one-field placeholder
//   - a non-object top level is wrapped in an object
//
// The result is a fixed point: sanitizing it again changes nothing.
func SanitizeToolSchema(schema map[string]any) map[string]any {
	if len(schema) == 0 {
		return placeholderSchema()
	}

	s := sanitizeNode(schema)

	if t, _ := s["type"].(string); t != "object" {
		s = map[string]any{
			"type":       "object",
			"properties": map[string]any{"input": s},
			"required":   []any{"input"},
		}
	}
	if props, ok := s["properties"].(map[string]any); !ok || len(props) == 0 {
		return placeholderSchema()
	}
	return s
}

func placeholderSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Reason for calling this tool",
			},
		},
		"required": []any{"reason"},
	}
}

func sanitizeNode(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}

	// $ref can't survive without its definitions; keep the pointer's name
	// as a hint so the model still knows what shape was meant.
	if ref, ok := schema["$ref"].(string); ok {
		parts := strings.Split(ref, "/")
		name := parts[len(parts)-1]
		if name == "" {
			name = "unknown"
		}
		out := map[string]any{"type": "object"}
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

	node = mergeAllOf(node)
	node = flattenUnion(node)
	node = collapseTypeArray(node)

	out := make(map[string]any, len(node))
	for key, value := range node {
		if key == "const" {
			out["enum"] = []any{value}
			continue
		}
		if !allowedKeywords[key] {
			continue
		}
		out[key] = value
	}

	if props, ok := out["properties"].(map[string]any); ok {
		clean := make(map[string]any, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				clean[name] = sanitizeNode(subMap)
			} else {
				clean[name] = sub
			}
		}
		out["properties"] = clean
	}

	switch items := out["items"].(type) {
	case map[string]any:
		out["items"] = sanitizeNode(items)
	case []any:
		// Tuple form; keep the first schema as the item type.
		if len(items) > 0 {
			if first, ok := items[0].(map[string]any); ok {
				out["items"] = sanitizeNode(first)
			} else {
				delete(out, "items")
			}
		} else {
			delete(out, "items")
		}
	}

	if _, ok := out["type"]; !ok {
		switch {
		case out["properties"] != nil:
			out["type"] = "object"
		case out["items"] != nil:
			out["type"] = "array"
		default:
			out["type"] = "string"
		}
	}

	intersectRequired(out)
	return out
}

// mergeAllOf folds every allOf variant into the parent. Parent fields win;
// properties and required accumulate across variants.
func mergeAllOf(node map[string]any) map[string]any {
	variants, ok := node["allOf"].([]any)
	if !ok || len(variants) == 0 {
		delete(node, "allOf")
		return node
	}
	delete(node, "allOf")

	props, _ := node["properties"].(map[string]any)
	if props == nil {
		props = make(map[string]any)
	}
	required := requiredSet(node)

	for _, v := range variants {
		sub, ok := v.(map[string]any)
		if !ok {
			continue
		}
		sub = mergeAllOf(copyNode(sub))
		for name, p := range sub {
			switch name {
			case "properties":
				if subProps, ok := p.(map[string]any); ok {
					for k, pv := range subProps {
						if _, exists := props[k]; !exists {
							props[k] = pv
						}
					}
				}
			case "required":
				for r := range requiredSet(sub) {
					required[r] = true
				}
			default:
				if _, exists := node[name]; !exists {
					node[name] = p
				}
			}
		}
	}

	if len(props) > 0 {
		node["properties"] = props
	}
	if len(required) > 0 {
		node["required"] = setToList(required)
	}
	return node
}

// flattenUnion replaces anyOf/oneOf with the single most informative
// variant: objects beat arrays beat typed scalars beat everything else.
func flattenUnion(node map[string]any) map[string]any {
	for _, key := range []string{"anyOf", "oneOf"} {
		variants, ok := node[key].([]any)
		if !ok {
			continue
		}
		delete(node, key)
		if len(variants) == 0 {
			continue
		}

		var best map[string]any
		bestScore := -1
		var typeNames []string
		for _, v := range variants {
			sub, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if t := variantTypeName(sub); t != "" && t != "null" {
				typeNames = append(typeNames, t)
			}
			if score := scoreVariant(sub); score > bestScore {
				bestScore = score
				best = sub
			}
		}
		if best == nil {
			continue
		}

		parentDesc, _ := node["description"].(string)
		for k, v := range best {
			if k == "description" {
				continue
			}
			if _, exists := node[k]; !exists || k == "type" || k == "properties" || k == "items" {
				node[k] = v
			}
		}
		if desc, _ := best["description"].(string); desc != "" && parentDesc == "" {
			node["description"] = desc
		}
		if uniq := uniqueStrings(typeNames); len(uniq) > 1 {
			appendHint(node, "Accepts: "+strings.Join(uniq, " | "))
		}
	}
	return node
}

func collapseTypeArray(node map[string]any) map[string]any {
	arr, ok := node["type"].([]any)
	if !ok {
		return node
	}

	hasNull := false
	var types []string
	for _, t := range arr {
		s, ok := t.(string)
		if !ok {
			continue
		}
		if s == "null" {
			hasNull = true
		} else {
			types = append(types, s)
		}
	}

	if len(types) == 0 {
		node["type"] = "string"
	} else {
		node["type"] = types[0]
	}
	if len(types) > 1 {
		appendHint(node, "Accepts: "+strings.Join(uniqueStrings(types), " | "))
	}
	if hasNull {
		appendHint(node, "nullable")
	}
	return node
}

func intersectRequired(node map[string]any) {
	required, ok := node["required"].([]any)
	if !ok {
		return
	}
	props, _ := node["properties"].(map[string]any)

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
		delete(node, "required")
	} else {
		node["required"] = kept
	}
}

func scoreVariant(s map[string]any) int {
	switch {
	case s["type"] == "object" || s["properties"] != nil:
		return 3
	case s["type"] == "array" || s["items"] != nil:
		return 2
	default:
		if t, ok := s["type"].(string); ok && t != "null" {
			return 1
		}
		return 0
	}
}

func variantTypeName(s map[string]any) string {
	if t, ok := s["type"].(string); ok {
		return t
	}
	if s["properties"] != nil {
		return "object"
	}
	return ""
}

func appendHint(node map[string]any, hint string) {
	if desc, _ := node["description"].(string); desc != "" {
		node["description"] = fmt.Sprintf("%s (%s)", desc, hint)
	} else {
		node["description"] = hint
	}
}

func requiredSet(node map[string]any) map[string]bool {
	out := make(map[string]bool)
	if arr, ok := node["required"].([]any); ok {
		for _, r := range arr {
			if s, ok := r.(string); ok {
				out[s] = true
			}
		}
	}
	return out
}

func setToList(set map[string]bool) []any {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	// Stable output keeps sanitization idempotent byte for byte.
	sortStrings(names)
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func copyNode(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
