package tsconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSyncCreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsconfig.json")

	if err := Sync(path, "#"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc map[string]any
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("generated tsconfig is not valid json: %v", err)
	}
	co := doc["compilerOptions"].(map[string]any)
	paths := co["paths"].(map[string]any)
	entry := paths["#/*"].([]any)
	if len(entry) != 1 || entry[0] != "./knot_packages/*" {
		t.Fatalf("unexpected paths entry: %v", entry)
	}
}

func TestSyncMergesIntoExistingConfigPreservingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsconfig.json")
	original := `{
		"compilerOptions": {
			"target": "es2019",
			"paths": {
				"other/*": ["./other/*"]
			}
		},
		"include": ["src/**/*"]
	}`
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Sync(path, "shared"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc map[string]any
	raw, _ := os.ReadFile(path)
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("result is not valid json: %v", err)
	}
	co := doc["compilerOptions"].(map[string]any)
	if co["target"] != "es2019" {
		t.Fatalf("expected existing target preserved, got %v", co["target"])
	}
	paths := co["paths"].(map[string]any)
	if _, ok := paths["other/*"]; !ok {
		t.Fatal("expected pre-existing path entry to survive the merge")
	}
	entry, ok := paths["shared/*"].([]any)
	if !ok || len(entry) != 1 || entry[0] != "./knot_packages/*" {
		t.Fatalf("expected shared/* entry, got %v", paths["shared/*"])
	}
	if doc["include"].([]any)[0] != "src/**/*" {
		t.Fatal("expected include field preserved")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsconfig.json")
	if err := Sync(path, "shared"); err != nil {
		t.Fatal(err)
	}
	if err := Sync(path, "shared"); err != nil {
		t.Fatal(err)
	}

	var doc map[string]any
	raw, _ := os.ReadFile(path)
	json.Unmarshal(raw, &doc)
	co := doc["compilerOptions"].(map[string]any)
	paths := co["paths"].(map[string]any)
	entry := paths["shared/*"].([]any)
	if len(entry) != 1 {
		t.Fatalf("expected no duplicate entries after repeated sync, got %v", entry)
	}
}

func TestSyncToleratesCommentsAndTrailingCommas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsconfig.json")
	jsonc := `{
		// this is a comment
		"compilerOptions": {
			"target": "es2020", /* block comment */
			"paths": {},
		},
	}`
	if err := os.WriteFile(path, []byte(jsonc), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Sync(path, "shared"); err != nil {
		t.Fatalf("expected comment/trailing-comma tolerant parse, got error: %v", err)
	}

	var doc map[string]any
	raw, _ := os.ReadFile(path)
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("output must be strict json: %v", err)
	}
}

func TestStripCommentsPreservesStringsContainingSlashes(t *testing.T) {
	in := `{"a": "http://example.com", "b": 1 /* c */}`
	out := stripComments(in)
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("stripComments produced invalid json: %v\n%s", err, out)
	}
	if doc["a"] != "http://example.com" {
		t.Fatalf("expected url string preserved, got %v", doc["a"])
	}
}
