package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/knotspace/knot/knoterr"
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

func buildFixture(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "knot.yml"), `
name: demo
apps:
  web:
    - utils
    - name: shared-ui
      alias: ui
variables:
  env: prod
`)
	writeFile(t, filepath.Join(root, "packages", "utils", "package.yml"), `
name: utils
version: 1.0.0
`)
	writeFile(t, filepath.Join(root, "packages", "shared-ui", "package.yml"), `
name: shared-ui
version: 2.0.0
`)
	writeFile(t, filepath.Join(root, "apps", "web", "app.yml"), `
name: web
packages:
  - utils
`)
	return root
}

func TestLoadAssemblesProjectView(t *testing.T) {
	root := buildFixture(t)
	p, err := Load(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Workspace.Name != "demo" {
		t.Fatalf("got workspace name %q", p.Workspace.Name)
	}
	if len(p.Packages) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(p.Packages))
	}
	if len(p.Apps) != 1 {
		t.Fatalf("expected 1 app, got %d", len(p.Apps))
	}
}

func TestProjectAppNamesUnion(t *testing.T) {
	root := buildFixture(t)
	p, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	names := p.AppNames()
	if len(names) != 1 || names[0] != "web" {
		t.Fatalf("expected [web], got %v", names)
	}
}

func TestProjectDependenciesDedupesAcrossWorkspaceAndApp(t *testing.T) {
	root := buildFixture(t)
	p, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	deps := p.Dependencies("web")
	// workspace declares utils + shared-ui(ui), app.yml declares utils again.
	if len(deps) != 2 {
		t.Fatalf("expected 2 deduplicated deps, got %v", deps)
	}
}

func TestProjectCheckAliasConflictsDetectsCollision(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "knot.yml"), `
name: demo
apps:
  web:
    - name: utils
      alias: shared
    - name: shared-ui
      alias: shared
`)
	writeFile(t, filepath.Join(root, "packages", "utils", "package.yml"), "name: utils\nversion: 1.0.0\n")
	writeFile(t, filepath.Join(root, "packages", "shared-ui", "package.yml"), "name: shared-ui\nversion: 1.0.0\n")
	writeFile(t, filepath.Join(root, "apps", "web", "app.yml"), "name: web\n")

	p, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	err = p.CheckAliasConflicts("web")
	var conflict *knoterr.AliasConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected AliasConflictError, got %v", err)
	}
	if conflict.Target != "shared" {
		t.Fatalf("expected conflict target 'shared', got %q", conflict.Target)
	}
}

func TestProjectTSAliasPrecedence(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "knot.yml"), `
name: demo
ts_alias: true
apps:
  web:
    ts_alias: "@shared/"
    packages: []
`)
	writeFile(t, filepath.Join(root, "apps", "web", "app.yml"), `
name: web
ts_alias: "@app/"
`)

	p, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.TSAlias("web"); got != "@app/" {
		t.Fatalf("expected app.yml alias to win, got %q", got)
	}
}
