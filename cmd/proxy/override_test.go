package main

import "testing"

func testApplyOverrideSetsNestedValue(t *testing.T) {
	doc := map[string]any{}
	if err := applyOverride(doc, "performance.worker_threads=8"); err != nil {
		t.Fatalf("applyOverride: %s", err)
	}
	perf, ok := doc["performance"].(map[string]any)
	if !ok {
		t.Fatalf("expected performance to be a nested map, got %T", doc["performance"])
	}
	if perf["worker_threads"] != int64(8) {
		t.Fatalf("expected worker_threads to be int64(8), got %#v", perf["worker_threads"])
	}
}

func testApplyOverridePreservesExistingSiblings(t *testing.T) {
	doc := map[string]any{
		"performance": map[string]any{"message_buffer_size": 500},
	}
	if err := applyOverride(doc, "performance.worker_threads=2"); err != nil {
		t.Fatalf("applyOverride: %s", err)
	}
	perf := doc["performance"].(map[string]any)
	if perf["message_buffer_size"] != 500 {
		t.Fatalf("expected sibling key to survive, got %#v", perf)
	}
	if perf["worker_threads"] != int64(2) {
		t.Fatalf("expected worker_threads to be set, got %#v", perf["worker_threads"])
	}
}

func testApplyOverrideRejectsMissingEquals(t *testing.T) {
	doc := map[string]any{}
	if err := applyOverride(doc, "performance.worker_threads"); err == nil {
		t.Fatal("expected an error for an assignment with no '='")
	}
}

func testApplyOverrideRejectsEmptyKey(t *testing.T) {
	doc := map[string]any{}
	if err := applyOverride(doc, "=8"); err == nil {
		t.Fatal("expected an error for an assignment with an empty key")
	}
}

func testParseOverrideValueInfersScalarType(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"true", true},
		{"false", false},
		{"8", int64(8)},
		{"3.5", 3.5},
		{"strict", "strict"},
	}
	for _, tt := range tests {
		if got := parseOverrideValue(tt.raw); got != tt.want {
			t.Errorf("parseOverrideValue(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func testSetNestedOverwritesNonMapValue(t *testing.T) {
	doc := map[string]any{"validation": "oops"}
	setNested(doc, []string{"validation", "mode"}, "strict")
	validation, ok := doc["validation"].(map[string]any)
	if !ok {
		t.Fatalf("expected validation to become a map, got %T", doc["validation"])
	}
	if validation["mode"] != "strict" {
		t.Fatalf("expected mode to be set, got %#v", validation)
	}
}

func TestOverride(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"apply override sets nested value", testApplyOverrideSetsNestedValue},
		{"apply override preserves existing siblings", testApplyOverridePreservesExistingSiblings},
		{"apply override rejects missing equals", testApplyOverrideRejectsMissingEquals},
		{"apply override rejects empty key", testApplyOverrideRejectsEmptyKey},
		{"parse override value infers scalar type", testParseOverrideValueInfersScalarType},
		{"set nested overwrites non-map value", testSetNestedOverwritesNonMapValue},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}
