// Package dependency holds the data model shared by the resolver and the
// registry client: package identity, declared dependency specs, and the
// resolution context that controls how a version is chosen among them. It
// is a Go port of the original Rust dependency::types module, trimmed to
// what spec.md's Resolver (§4.4) and Registry Client (§4.5) actually need.
package dependency

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Source distinguishes a package that lives on disk in the workspace from
// one fetched from a registry.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
)

func (s Source) String() string {
	if s == SourceRemote {
		return "remote"
	}
	return "local"
}

// Id identifies a package uniquely within a resolution: its name plus
// where it comes from. Two local packages with the same name collide by
// design (workspace package names are unique); a remote package is further
// scoped by registry so a future multi-registry setup doesn't collide with
// a local package of the same name.
type Id struct {
	Name     string
	Source   Source
	Registry string // only meaningful when Source == SourceRemote
}

func Local(name string) Id { return Id{Name: name, Source: SourceLocal} }

func Remote(name, registry string) Id {
	return Id{Name: name, Source: SourceRemote, Registry: registry}
}

func (id Id) String() string {
	if id.Source == SourceRemote {
		return fmt.Sprintf("%s@%s", id.Name, id.Registry)
	}
	return id.Name
}

// Conditions gates a dependency to specific platforms, architectures, or
// environments. A nil slice means "no restriction". Features is carried
// but not checked by MatchesConditions.
type Conditions struct {
	Platform []string
	Arch     []string
	Env      []string
	Features []string
}

// RangeLatest is the sentinel RawRange value recognized by the resolver as
// an open range ("take whatever the newest available version is") rather
// than a real semver constraint string. The manifest's literal "latest" and
// an empty range both parse to this: neither is ever handed to
// semver.NewConstraint, which rejects "latest" outright.
const RangeLatest = "latest"

// IsOpenRange reports whether raw names an open range — "latest" or no
// range at all — rather than a concrete semver constraint string.
func IsOpenRange(raw string) bool {
	return raw == "" || raw == RangeLatest
}

// Spec is one declared dependency edge: a target Id plus the version range
// it must satisfy, and the circumstances under which it applies.
type Spec struct {
	ID         Id
	Range      *semver.Constraints
	RawRange   string
	Optional   bool
	DevOnly    bool
	Conditions *Conditions
	Features   []string

	// Requester names the package or app that declared this spec, used to
	// build VersionConflictError's per-constraint attribution.
	Requester string
}

// MatchesConditions reports whether ctx's platform/arch/environment satisfy
// s's Conditions. A condition axis with no entries in s, or a nil
// Conditions, always matches.
func (s Spec) MatchesConditions(ctx ResolutionContext) bool {
	c := s.Conditions
	if c == nil {
		return true
	}
	if len(c.Platform) > 0 && ctx.Platform != "" && !contains(c.Platform, ctx.Platform) {
		return false
	}
	if len(c.Arch) > 0 && ctx.Arch != "" && !contains(c.Arch, ctx.Arch) {
		return false
	}
	if len(c.Env) > 0 && ctx.Environment != "" && !contains(c.Env, ctx.Environment) {
		return false
	}
	return true
}

// IsApplicable reports whether s should be considered at all given ctx's
// include-dev/include-optional flags, on top of MatchesConditions.
func (s Spec) IsApplicable(ctx ResolutionContext) bool {
	if s.DevOnly && !ctx.IncludeDev {
		return false
	}
	if s.Optional && !ctx.IncludeOptional {
		return false
	}
	return s.MatchesConditions(ctx)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Metadata carries the package.yml fields worth preserving end-to-end from
// manifest to a resolved PackageVersion (spec.md §9's supplemented
// "exports" field among them).
type Metadata struct {
	Name        string
	Version     string
	Description string
	Team        string
	Tags        []string
	Exports     map[string]string
	Checksum    string
}

// Version is one concrete, resolvable build of a package: its identity,
// semver, declared edges, and where to find it on disk (local) or what
// metadata the registry returned (remote).
type Version struct {
	ID                   Id
	Semver               *semver.Version
	Dependencies         []Spec
	DevDependencies      []Spec
	OptionalDependencies []Spec
	PeerDependencies     []Spec
	SourcePath           string
	Metadata             *Metadata
}

// ApplicableDependencies returns the subset of v's dependency edges that
// apply under ctx: runtime dependencies always, dev/optional dependencies
// only when ctx requests them, each further filtered by its Conditions.
func (v Version) ApplicableDependencies(ctx ResolutionContext) []Spec {
	var out []Spec
	for _, d := range v.Dependencies {
		if d.IsApplicable(ctx) {
			out = append(out, d)
		}
	}
	if ctx.IncludeDev {
		for _, d := range v.DevDependencies {
			if d.IsApplicable(ctx) {
				out = append(out, d)
			}
		}
	}
	if ctx.IncludeOptional {
		for _, d := range v.OptionalDependencies {
			if d.IsApplicable(ctx) {
				out = append(out, d)
			}
		}
	}
	return out
}

// Strategy selects which candidate among a satisfying set the resolver
// should prefer, per spec.md §4.4.
type Strategy int

const (
	StrategyCompatible Strategy = iota
	StrategyLatest
	StrategyStrict
	StrategyConservative
)

func (s Strategy) String() string {
	switch s {
	case StrategyLatest:
		return "latest"
	case StrategyStrict:
		return "strict"
	case StrategyConservative:
		return "conservative"
	default:
		return "compatible"
	}
}

// ResolutionContext is the per-resolve configuration: strategy, prerelease
// policy, depth budget, and the dependency-kind/condition filters above.
type ResolutionContext struct {
	Strategy        Strategy
	AllowPrerelease bool
	MaxDepth        int
	IncludeDev      bool
	IncludeOptional bool
	Platform        string
	Arch            string
	Environment     string
}

// DefaultResolutionContext mirrors the original Rust Default impl: the
// Compatible strategy, no prereleases, depth 50, dev/optional excluded.
func DefaultResolutionContext() ResolutionContext {
	return ResolutionContext{
		Strategy: StrategyCompatible,
		MaxDepth: 50,
	}
}
