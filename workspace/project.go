package workspace

import (
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/knotspace/knot/interpolate"
	"github.com/knotspace/knot/knoterr"
	"github.com/knotspace/knot/manifest"
)

// Project is the fully loaded view of a workspace: its root manifest, and
// every package/app manifest discovered under packages/ and apps/.
type Project struct {
	Root      string
	Workspace *manifest.WorkspaceManifest
	Packages  map[string]*manifest.PackageManifest
	Apps      map[string]*manifest.AppManifest
}

// Load discovers the workspace root starting at startDir and loads its
// workspace manifest along with every package and app manifest beneath it.
func Load(startDir string) (*Project, error) {
	root, err := FindRoot(startDir)
	if err != nil {
		return nil, err
	}

	wsPath := FindYAMLFile(root, "knot")
	raw, err := os.ReadFile(wsPath)
	if err != nil {
		return nil, &knoterr.IOError{Operation: "load", Path: wsPath, Reason: err.Error()}
	}

	wsScope := interpolate.NewScope(true)
	wsScope.PushLayer("project", extractVariables(raw))
	wsScope.PushLayer("builtin", interpolate.Builtins())

	wsOut, err := manifest.Load(manifest.KindWorkspace, wsPath, raw, wsScope)
	if err != nil {
		return nil, err
	}
	ws := wsOut.(*manifest.WorkspaceManifest)

	p := &Project{
		Root:      root,
		Workspace: ws,
		Packages:  map[string]*manifest.PackageManifest{},
		Apps:      map[string]*manifest.AppManifest{},
	}

	if err := p.loadPackages(); err != nil {
		return nil, err
	}
	if err := p.loadApps(); err != nil {
		return nil, err
	}
	return p, nil
}

func extractVariables(raw []byte) map[string]string {
	var v struct {
		Variables manifest.VariableMap `yaml:"variables"`
	}
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v.Variables
}

func (p *Project) loadPackages() error {
	dir := filepath.Join(p.Root, "packages")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &knoterr.IOError{Operation: "load", Path: dir, Reason: err.Error()}
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pkgDir := filepath.Join(dir, entry.Name())
		path := FindYAMLFile(pkgDir, "package")
		if path == "" {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return &knoterr.IOError{Operation: "load", Path: path, Reason: err.Error()}
		}

		scope := interpolate.NewScope(true)
		scope.PushLayer("package", extractVariables(raw))
		scope.PushLayer("project", p.Workspace.Variables)
		scope.PushLayer("builtin", interpolate.Builtins())

		out, err := manifest.Load(manifest.KindPackage, path, raw, scope)
		if err != nil {
			return err
		}
		p.Packages[entry.Name()] = out.(*manifest.PackageManifest)
	}
	return nil
}

func (p *Project) loadApps() error {
	dir := filepath.Join(p.Root, "apps")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &knoterr.IOError{Operation: "load", Path: dir, Reason: err.Error()}
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		appDir := filepath.Join(dir, entry.Name())
		path := FindYAMLFile(appDir, "app")
		if path == "" {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return &knoterr.IOError{Operation: "load", Path: path, Reason: err.Error()}
		}

		scope := interpolate.NewScope(true)
		scope.PushLayer("app", extractVariables(raw))
		scope.PushLayer("project", p.Workspace.Variables)
		scope.PushLayer("builtin", interpolate.Builtins())

		out, err := manifest.Load(manifest.KindApp, path, raw, scope)
		if err != nil {
			return err
		}
		p.Apps[entry.Name()] = out.(*manifest.AppManifest)
	}
	return nil
}

// AppNames returns every app name declared either in the workspace manifest's
// "apps" map or discovered as an apps/<name>/app.yml directory, sorted and
// deduplicated.
func (p *Project) AppNames() []string {
	seen := map[string]bool{}
	var names []string
	for name := range p.Workspace.Apps {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range p.Apps {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Dependencies returns app's effective, deduplicated dependency list: the
// union of the workspace manifest's apps[name] entry and the app's own
// packages field, preserving each PackageSpec's alias.
func (p *Project) Dependencies(app string) []manifest.PackageSpec {
	var specs []manifest.PackageSpec
	if deps, ok := p.Workspace.Apps[app]; ok {
		specs = append(specs, deps.Packages...)
	}
	if am, ok := p.Apps[app]; ok {
		specs = append(specs, am.Packages...)
	}

	seen := map[string]bool{}
	out := specs[:0]
	for _, s := range specs {
		key := s.Name + "@" + s.Version + "#" + s.Alias
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// TSAlias returns the effective ts_alias prefix for app: its own app.yml
// setting, then the workspace's per-app override, then the workspace-wide
// default, in that order.
func (p *Project) TSAlias(app string) string {
	if am, ok := p.Apps[app]; ok && am.TSAlias != nil {
		if a := am.TSAlias.Alias(); a != "" {
			return a
		}
	}
	if deps, ok := p.Workspace.Apps[app]; ok && deps.TSAlias != nil {
		if a := deps.TSAlias.Alias(); a != "" {
			return a
		}
	}
	if p.Workspace.TSAlias != nil {
		return p.Workspace.TSAlias.Alias()
	}
	return ""
}

// CheckAliasConflicts reports an AliasConflictError if app's effective
// dependency list maps two different underlying package names to the same
// materialization target (alias or bare name).
func (p *Project) CheckAliasConflicts(app string) error {
	targets := map[string][]string{}
	for _, s := range p.Dependencies(app) {
		targets[s.Target()] = append(targets[s.Target()], s.Name)
	}
	for target, names := range targets {
		unique := map[string]bool{}
		for _, n := range names {
			unique[n] = true
		}
		if len(unique) > 1 {
			sources := make([]string, 0, len(unique))
			for n := range unique {
				sources = append(sources, n)
			}
			sort.Strings(sources)
			return &knoterr.AliasConflictError{App: app, Target: target, Sources: sources}
		}
	}
	return nil
}
