package main

import (
	"fmt"
	"strconv"
	"strings"
)

// applyOverride applies one --override key.path=value flag onto a decoded
// YAML document (already unmarshalled into a generic map[string]any),
// before it is re-marshalled and decoded into config.Snapshot. This
// supplements the distilled configuration surface with the kind of
// single-value CLI override operators expect for quick overrides without
// editing the config file (see SPEC_FULL.md's operational CLI section).
func applyOverride(doc map[string]any, assignment string) error {
	key, value, ok := strings.Cut(assignment, "=")
	if !ok {
		return fmt.Errorf("override %q must be in key.path=value form", assignment)
	}
	path := strings.Split(key, ".")
	if len(path) == 0 || path[0] == "" {
		return fmt.Errorf("override %q has an empty key path", assignment)
	}
	setNested(doc, path, parseOverrideValue(value))
	return nil
}

func setNested(doc map[string]any, path []string, value any) {
	node := doc
	for _, segment := range path[:len(path)-1] {
		next, ok := node[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[segment] = next
		}
		node = next
	}
	node[path[len(path)-1]] = value
}

// parseOverrideValue infers a scalar type for a raw CLI override value, so
// --override performance.worker_threads=8 lands as an int rather than the
// string "8" once the document round-trips through YAML.
func parseOverrideValue(raw string) any {
	if raw == "true" || raw == "false" {
		return raw == "true"
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
