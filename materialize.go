// Package knot is the top-level orchestration API described in SPEC_FULL.md's
// module-identity note: the three operations a caller actually invokes
// (Materialize, Publish, RunScript) are plain Go functions over
// context.Context, with no CLI, HTTP server, or flag parsing anywhere in
// this module. Each wires the lower packages together in the order spec.md
// §4 lays out: workspace discovery, then resolution, then linking and path
// synchronization (Materialize); archiving then registry upload (Publish);
// script lookup then process execution (RunScript).
package knot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Masterminds/semver/v3"

	"github.com/knotspace/knot/cache"
	"github.com/knotspace/knot/dependency"
	"github.com/knotspace/knot/knoterr"
	"github.com/knotspace/knot/link"
	"github.com/knotspace/knot/manifest"
	"github.com/knotspace/knot/registry"
	"github.com/knotspace/knot/resolver"
	"github.com/knotspace/knot/tsconfig"
	"github.com/knotspace/knot/workspace"
)

// MaterializeOptions configures Materialize. The zero value resolves every
// app declared in the workspace with the Compatible strategy and no remote
// registry (a workspace with only local packages never needs one).
type MaterializeOptions struct {
	// Apps restricts materialization to these app names; nil or empty means
	// every app Project.AppNames reports.
	Apps []string

	Mode            link.Mode
	Strategy        dependency.Strategy
	AllowPrerelease bool

	// Registry and RegistryName supply candidates for non-local
	// ("@scope/name") dependencies, and Registry with Cache supplies their
	// materialized directories. A nil Registry makes remote dependencies
	// fail resolution with a ConfigurationError.
	Registry     registry.Client
	RegistryName string
	Cache        *cache.Cache
}

// MaterializeResult reports the outcome of one Materialize call.
type MaterializeResult struct {
	Project  *workspace.Project
	Resolved *resolver.Result
	Apps     map[string]*link.Result
}

// Materialize runs the full pipeline spec.md §4.7 describes for every
// targeted app: workspace.Load discovers the project; every targeted app's
// declared dependencies are resolved together in one resolver.Resolve call
// (so two apps requiring the same package converge on one version); each
// app's own closure is then recovered from the shared result via reachability
// over Result.Adjacency and handed to link.Linker.LinkApp; finally
// tsconfig.Sync brings each app's tsconfig.json path mapping in line with
// what was just materialized.
func Materialize(ctx context.Context, root string, opts MaterializeOptions) (*MaterializeResult, error) {
	project, err := workspace.Load(root)
	if err != nil {
		return nil, err
	}

	appNames := opts.Apps
	if len(appNames) == 0 {
		appNames = project.AppNames()
	}
	for _, app := range appNames {
		if err := project.CheckAliasConflicts(app); err != nil {
			return nil, err
		}
	}

	index := newCompositeIndex(project, opts.Registry, opts.RegistryName)

	direct := map[string][]dependency.Id{}
	var allSpecs []dependency.Spec
	for _, app := range appNames {
		for _, pkg := range project.Dependencies(app) {
			spec := toSpec(pkg, app, project, opts.RegistryName)
			direct[app] = append(direct[app], spec.ID)
			allSpecs = append(allSpecs, spec)
		}
	}

	resctx := dependency.ResolutionContext{
		Strategy:        opts.Strategy,
		AllowPrerelease: opts.AllowPrerelease,
	}
	result, err := resolver.Resolve(allSpecs, index, resctx)
	if err != nil {
		return nil, err
	}

	var remote link.RemoteResolver
	if opts.Registry != nil && opts.Cache != nil {
		remote = &cacheRemoteResolver{client: opts.Registry, cache: opts.Cache}
	}
	linker := &link.Linker{
		Root: project.Root,
		Mode: opts.Mode,
		LocalPackageDir: func(name string) string {
			return filepath.Join(project.Root, "packages", name)
		},
		Remote: remote,
	}

	apps := map[string][]link.ResolvedDependency{}
	for _, app := range appNames {
		aliases := directAliases(project.Dependencies(app))
		closure := appClosure(direct[app], result.Adjacency, result.Order)
		deps := make([]link.ResolvedDependency, 0, len(closure))
		for _, id := range closure {
			v, ok := result.Chosen[id]
			if !ok {
				continue
			}
			deps = append(deps, link.ResolvedDependency{
				Name:    id.Name,
				Version: v.Semver.String(),
				Alias:   aliases[id.Name],
			})
		}
		apps[app] = deps
	}

	linkResults, err := link.LinkAll(ctx, linker, apps)
	if err != nil {
		return nil, err
	}

	out := &MaterializeResult{Project: project, Resolved: result, Apps: map[string]*link.Result{}}
	for _, r := range linkResults {
		out.Apps[r.App] = r
		if alias := project.TSAlias(r.App); alias != "" {
			tsPath := filepath.Join(project.Root, "apps", r.App, "tsconfig.json")
			if err := tsconfig.Sync(tsPath, alias); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// toSpec converts a manifest-level dependency declaration into the
// resolver's Spec, routing it to a local or remote Id depending on whether
// the workspace actually has a packages/<name> package by that name.
func toSpec(pkg manifest.PackageSpec, requester string, project *workspace.Project, registryName string) dependency.Spec {
	id := dependency.Remote(pkg.Name, registryName)
	if _, ok := project.Packages[pkg.Name]; ok {
		id = dependency.Local(pkg.Name)
	}
	return dependency.Spec{
		ID:        id,
		RawRange:  normalizeRange(pkg.Version),
		Requester: requester,
	}
}

// normalizeRange maps an unpinned manifest dependency ("utils", with no
// "@version" suffix) onto the resolver's open-range sentinel.
func normalizeRange(v string) string {
	if v == "" {
		return dependency.RangeLatest
	}
	return v
}

func directAliases(specs []manifest.PackageSpec) map[string]string {
	out := map[string]string{}
	for _, s := range specs {
		if s.Alias != "" {
			out[s.Name] = s.Alias
		}
	}
	return out
}

// appClosure filters order (the resolver's global topological order) down
// to the ids reachable from roots over adjacency, preserving order's
// relative ordering — a subsequence of a topological order is itself a
// valid topological order for the induced subgraph.
func appClosure(roots []dependency.Id, adjacency map[dependency.Id][]dependency.Id, order []dependency.Id) []dependency.Id {
	reachable := map[dependency.Id]bool{}
	queue := append([]dependency.Id{}, roots...)
	for _, id := range roots {
		reachable[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[id] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	out := make([]dependency.Id, 0, len(reachable))
	for _, id := range order {
		if reachable[id] {
			out = append(out, id)
		}
	}
	return out
}

// compositeIndex dispatches a resolver.Index lookup to a precomputed local
// table (built from the workspace's own packages/ manifests, whose
// "packages" field supplies the transitive edges between them) or to a
// registry-backed remote index, by the id's Source.
type compositeIndex struct {
	local  map[dependency.Id]dependency.Version
	remote resolver.Index
}

func newCompositeIndex(project *workspace.Project, client registry.Client, registryName string) compositeIndex {
	local := map[dependency.Id]dependency.Version{}
	for name, pm := range project.Packages {
		id := dependency.Local(name)
		sv, err := semver.NewVersion(pm.Version)
		if err != nil {
			continue
		}
		var deps []dependency.Spec
		for _, p := range pm.Packages {
			deps = append(deps, toSpec(p, name, project, registryName))
		}
		local[id] = dependency.Version{
			ID:           id,
			Semver:       sv,
			Dependencies: deps,
			SourcePath:   filepath.Join(project.Root, "packages", name),
			Metadata: &dependency.Metadata{
				Name:        pm.Name,
				Version:     pm.Version,
				Description: pm.Description,
				Team:        pm.Team,
				Tags:        pm.Tags,
			},
		}
	}

	var remote resolver.Index
	if client != nil {
		remote = registry.ResolverIndex{Client: client, Registry: registryName}
	}
	return compositeIndex{local: local, remote: remote}
}

func (c compositeIndex) Candidates(id dependency.Id) ([]dependency.Version, error) {
	if id.Source == dependency.SourceLocal {
		v, ok := c.local[id]
		if !ok {
			return nil, &knoterr.PackageNotFoundError{Package: id.Name, SearchedIn: []string{"workspace packages"}}
		}
		return []dependency.Version{v}, nil
	}
	if c.remote == nil {
		return nil, &knoterr.ConfigurationError{Field: "registry", Reason: fmt.Sprintf("no registry configured for remote dependency %q", id.Name)}
	}
	return c.remote.Candidates(id)
}

// cacheRemoteResolver implements link.RemoteResolver over a registry.Client
// and an on-disk cache.Cache: fetch the published tarball, then let the
// cache extract (or reuse an already-extracted copy of) it.
type cacheRemoteResolver struct {
	client registry.Client
	cache  *cache.Cache
}

func (r *cacheRemoteResolver) Materialize(ctx context.Context, dep link.ResolvedDependency) (string, error) {
	data, err := r.client.Fetch(ctx, dep.Name, dep.Version)
	if err != nil {
		return "", err
	}
	return r.cache.Ensure(cache.Key{Name: dep.Name, Version: dep.Version}, data)
}
