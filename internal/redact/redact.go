// Package redact removes sensitive values from intent payloads before they
// are persisted. Paths are dotted (e.g. "context.ssn"); the redactor descends
// only through nested maps and replaces the leaf value with a placeholder.
package redact

import "strings"

// DefaultPlaceholder is written in place of every redacted value.
const DefaultPlaceholder = "[REDACTED]"

// Redactor replaces values at configured dotted paths inside structured
// payloads. Redaction is idempotent: applying it twice yields the same result.
type Redactor struct {
	paths       [][]string
	placeholder string
}

// New creates a Redactor for the given dotted paths. Empty path entries are
// ignored. If placeholder is empty, DefaultPlaceholder is used.
func New(paths []string, placeholder string) *Redactor {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	split := make([][]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		split = append(split, strings.Split(p, "."))
	}
	return &Redactor{paths: split, placeholder: placeholder}
}

// Apply deep-clones payload and redacts every configured path that exists.
// The input map is never mutated. A nil payload returns nil.
func (r *Redactor) Apply(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	clone := cloneMap(payload)
	for _, path := range r.paths {
		redactPath(clone, path, r.placeholder)
	}
	return clone
}

// ApplyPrefixed redacts paths under a named root. A configured path
// "context.ssn" with root "context" redacts "ssn" inside the given map;
// paths under other roots are ignored.
func (r *Redactor) ApplyPrefixed(root string, payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	clone := cloneMap(payload)
	for _, path := range r.paths {
		if len(path) < 2 || path[0] != root {
			continue
		}
		redactPath(clone, path[1:], r.placeholder)
	}
	return clone
}

func redactPath(m map[string]interface{}, path []string, placeholder string) {
	if len(path) == 0 {
		return
	}
	key := path[0]
	val, ok := m[key]
	if !ok {
		return
	}
	if len(path) == 1 {
		m[key] = placeholder
		return
	}
	// Descend only where the intermediate value is itself structured.
	if child, ok := val.(map[string]interface{}); ok {
		redactPath(child, path[1:], placeholder)
	}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
