package knot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/knotspace/knot/link"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// buildTransitiveFixture builds a workspace where app "web" declares only
// "utils", and "utils" itself (via package.yml's "packages" field) depends
// on "shared" — exercising the gap review bullet 2 flagged: a package's own
// transitive dependencies must still be materialized into the app.
func buildTransitiveFixture(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "knot.yml"), `
name: demo
ts_alias: true
apps:
  web:
    - utils
`)
	writeFile(t, filepath.Join(root, "packages", "utils", "package.yml"), `
name: utils
version: 1.0.0
packages:
  - shared
`)
	writeFile(t, filepath.Join(root, "packages", "utils", "index.js"), "export {}")
	writeFile(t, filepath.Join(root, "packages", "shared", "package.yml"), `
name: shared
version: 1.0.0
`)
	writeFile(t, filepath.Join(root, "packages", "shared", "index.js"), "export {}")
	writeFile(t, filepath.Join(root, "apps", "web", "app.yml"), `
name: web
`)
	return root
}

func TestMaterializeLinksTransitivePackageDependency(t *testing.T) {
	root := buildTransitiveFixture(t)

	result, err := Materialize(context.Background(), root, MaterializeOptions{Mode: link.ModeCopy})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	webResult, ok := result.Apps["web"]
	if !ok {
		t.Fatalf("expected a result for app 'web', got %v", result.Apps)
	}
	if len(webResult.Linked) != 2 {
		t.Fatalf("expected both utils and its transitive dependency shared to be linked, got %v", webResult.Linked)
	}

	for _, name := range []string{"utils", "shared"} {
		path := filepath.Join(root, "apps", "web", "knot_packages", name, "index.js")
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to be materialized: %v", name, err)
		}
	}
}

func TestMaterializeSyncsTSConfigAfterLinking(t *testing.T) {
	root := buildTransitiveFixture(t)

	if _, err := Materialize(context.Background(), root, MaterializeOptions{Mode: link.ModeCopy}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tsPath := filepath.Join(root, "apps", "web", "tsconfig.json")
	data, err := os.ReadFile(tsPath)
	if err != nil {
		t.Fatalf("expected tsconfig.json to be created by Sync: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("tsconfig.json is not valid JSON: %v", err)
	}
	compilerOptions, ok := doc["compilerOptions"].(map[string]any)
	if !ok {
		t.Fatalf("expected compilerOptions in %v", doc)
	}
	paths, ok := compilerOptions["paths"].(map[string]any)
	if !ok {
		t.Fatalf("expected compilerOptions.paths in %v", compilerOptions)
	}
	if _, ok := paths["#/*"]; !ok {
		t.Fatalf("expected a '#/*' path entry (workspace ts_alias: true), got %v", paths)
	}
}

func TestMaterializeOnlyTargetsRequestedApps(t *testing.T) {
	root := buildTransitiveFixture(t)
	writeFile(t, filepath.Join(root, "apps", "other", "app.yml"), "name: other\n")

	result, err := Materialize(context.Background(), root, MaterializeOptions{Mode: link.ModeCopy, Apps: []string{"web"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.Apps["other"]; ok {
		t.Fatalf("expected 'other' to be excluded, got %v", result.Apps)
	}
	if _, ok := result.Apps["web"]; !ok {
		t.Fatalf("expected 'web' to be materialized")
	}
}

func buildPublishFixture(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "knot.yml"), "name: demo\n")
	writeFile(t, filepath.Join(root, "packages", "utils", "package.yml"), "name: utils\nversion: 1.0.0\n")
	writeFile(t, filepath.Join(root, "packages", "utils", "index.js"), "export {}")
	return root
}

func TestPublishWiresEnvTokenAndURLIntoRegistryClient(t *testing.T) {
	root := buildPublishFixture(t)

	var gotAuth []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/packages/utils/1.0.0/exists", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/packages", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/packages/upload", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Setenv("KNOT_TOKEN", "secret-token")
	t.Setenv("KNOT_SPACE_URL", srv.URL)

	if err := Publish(context.Background(), root, "utils", PublishOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gotAuth) != 3 {
		t.Fatalf("expected 3 authenticated requests (exists, publish metadata, upload), got %d", len(gotAuth))
	}
	for _, auth := range gotAuth {
		if auth != "Bearer secret-token" {
			t.Fatalf("expected every request to carry the KNOT_TOKEN bearer token, got %q", auth)
		}
	}
}

func TestPublishRejectsAlreadyPublishedVersion(t *testing.T) {
	root := buildPublishFixture(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/packages/utils/1.0.0/exists", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Setenv("KNOT_SPACE_URL", srv.URL)

	err := Publish(context.Background(), root, "utils", PublishOptions{})
	if err == nil {
		t.Fatal("expected an error for an already-published version")
	}
}

func buildRunScriptFixture(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "knot.yml"), `
name: demo
scripts:
  greet: "echo from-workspace > marker.txt"
`)
	writeFile(t, filepath.Join(root, "apps", "web", "app.yml"), `
name: web
scripts:
  greet: "echo from-app > marker.txt"
`)
	return root
}

func TestRunScriptPrefersAppScopeOverWorkspace(t *testing.T) {
	root := buildRunScriptFixture(t)

	err := RunScript(context.Background(), root, "greet", RunScriptOptions{Target: "web"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "apps", "web", "marker.txt"))
	if err != nil {
		t.Fatalf("expected marker.txt in the app directory: %v", err)
	}
	if string(data) != "from-app\n" {
		t.Fatalf("expected the app-scoped script to run, got %q", data)
	}
}

func TestRunScriptFallsBackToWorkspaceScope(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "knot.yml"), `
name: demo
scripts:
  greet: "echo from-workspace > marker.txt"
`)

	if err := RunScript(context.Background(), root, "greet", RunScriptOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "marker.txt"))
	if err != nil {
		t.Fatalf("expected marker.txt in the workspace root: %v", err)
	}
	if string(data) != "from-workspace\n" {
		t.Fatalf("got %q", data)
	}
}

func TestRunScriptUnknownTargetFails(t *testing.T) {
	root := buildRunScriptFixture(t)

	err := RunScript(context.Background(), root, "greet", RunScriptOptions{Target: "ghost"})
	if err == nil {
		t.Fatal("expected an error for an unknown target")
	}
}
