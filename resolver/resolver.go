// Package resolver implements the version-selection and dependency-graph
// algorithm described in spec.md §4.4: best-first version selection across
// an intersected constraint set, breadth-first closure discovery, DFS
// cycle detection, and a Kahn topological materialization order. The
// constraint-intersection trick (AND-join the textual ranges and re-parse,
// since Masterminds/semver has no Intersect) is grounded on
// SeleniaProject-Orizon/internal/packagemanager/resolver.go.
package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/knotspace/knot/dependency"
	"github.com/knotspace/knot/knoterr"
)

// Index supplies the candidate versions for a package id: for a local
// package, exactly one; for a remote one, every version the registry
// knows about, which Resolve re-sorts newest-first regardless of the
// order returned.
type Index interface {
	Candidates(id dependency.Id) ([]dependency.Version, error)
}

// Result is the outcome of a successful resolution.
type Result struct {
	Chosen      map[dependency.Id]dependency.Version
	Order       []dependency.Id
	Warnings    []string
	ContentHash string

	// Adjacency maps each chosen id to the ids it directly depends on, per
	// the chosen version's own ApplicableDependencies. A caller resolving
	// several apps' specs in one call uses this, together with each app's
	// directly-declared ids, to recover that app's own materialization
	// closure by BFS reachability over this graph.
	Adjacency map[dependency.Id][]dependency.Id
}

type pendingConstraint struct {
	spec dependency.Spec
}

// Resolve computes a consistent version assignment for the closure of
// specs under ctx, or fails with one of the VersionConflict,
// CircularDependency, PackageNotFound, or ResolutionTooDeep errors.
func Resolve(specs []dependency.Spec, index Index, ctx dependency.ResolutionContext) (*Result, error) {
	if ctx.MaxDepth <= 0 {
		ctx.MaxDepth = 50
	}

	constraints := map[dependency.Id][]pendingConstraint{}
	depth := map[dependency.Id]int{}
	order := []dependency.Id{} // discovery order, used only for queueing
	queued := map[dependency.Id]bool{}
	var queue []dependency.Id
	chosen := map[dependency.Id]dependency.Version{}

	enqueue := func(s dependency.Spec, d int) {
		constraints[s.ID] = append(constraints[s.ID], pendingConstraint{spec: s})
		if existing, ok := depth[s.ID]; !ok || d < existing {
			depth[s.ID] = d
		}
		if !queued[s.ID] {
			queued[s.ID] = true
			queue = append(queue, s.ID)
			order = append(order, s.ID)
		} else if _, done := chosen[s.ID]; done {
			// A constraint arriving after the id was chosen re-queues it so
			// the chosen version is checked against the new constraint.
			queue = append(queue, s.ID)
		}
	}

	for _, s := range specs {
		if !s.IsApplicable(ctx) {
			continue
		}
		enqueue(s, 0)
	}

	adjacency := map[dependency.Id][]dependency.Id{}

	for head := 0; head < len(queue); head++ {
		id := queue[head]
		if depth[id] > ctx.MaxDepth {
			return nil, &knoterr.ResolutionTooDeepError{Package: id.Name, Depth: depth[id], MaxDepth: ctx.MaxDepth}
		}

		merged, err := mergeConstraints(id, constraints[id])
		if err != nil {
			return nil, err
		}

		if existing, ok := chosen[id]; ok {
			if merged != nil && !merged.Check(existing.Semver) {
				return nil, versionConflict(id, constraints[id])
			}
			continue
		}

		candidates, err := index.Candidates(id)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, &knoterr.PackageNotFoundError{Package: id.Name}
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Semver.GreaterThan(candidates[j].Semver)
		})

		allowPre := ctx.AllowPrerelease || allConstraintsNamePrerelease(constraints[id])
		pick, err := selectByStrategy(candidates, merged, ctx.Strategy, allowPre, constraints[id])
		if err != nil {
			return nil, versionConflictWithSuggestion(id, constraints[id], err.Error())
		}

		chosen[id] = *pick
		deps := pick.ApplicableDependencies(ctx)
		for _, d := range deps {
			if !d.IsApplicable(ctx) {
				continue
			}
			adjacency[id] = append(adjacency[id], d.ID)
			enqueue(d, depth[id]+1)
		}
	}

	if cycle := detectCycle(chosen, adjacency); cycle != nil {
		return nil, &knoterr.CircularDependencyError{Cycle: cycleNames(cycle)}
	}

	topo, err := kahnOrder(chosen, adjacency)
	if err != nil {
		return nil, err
	}

	return &Result{
		Chosen:      chosen,
		Order:       topo,
		ContentHash: contentHash(topo, chosen),
		Adjacency:   adjacency,
	}, nil
}

func mergeConstraints(id dependency.Id, pending []pendingConstraint) (*semver.Constraints, error) {
	var merged *semver.Constraints
	var joined string
	for _, p := range pending {
		// "latest" and the empty range are open: they impose no constraint
		// of their own and must never reach semver.NewConstraint, which
		// rejects the literal "latest" outright.
		if dependency.IsOpenRange(p.spec.RawRange) {
			continue
		}
		if joined == "" {
			joined = p.spec.RawRange
		} else {
			joined = joined + ", " + p.spec.RawRange
		}
	}
	if joined == "" {
		return nil, nil
	}
	c, err := semver.NewConstraint(joined)
	if err != nil {
		return nil, versionConflict(id, pending)
	}
	merged = c
	return merged, nil
}

func allConstraintsNamePrerelease(pending []pendingConstraint) bool {
	if len(pending) == 0 {
		return false
	}
	for _, p := range pending {
		v, err := semver.NewVersion(p.spec.RawRange)
		if err != nil || v.Prerelease() == "" {
			return false
		}
	}
	return true
}

// selectByStrategy picks a candidate from candidates (already sorted
// newest-first) per spec.md §4.4's strategy rules.
func selectByStrategy(candidates []dependency.Version, merged *semver.Constraints, strategy dependency.Strategy, allowPre bool, pending []pendingConstraint) (*dependency.Version, error) {
	var satisfying []dependency.Version
	for _, c := range candidates {
		if c.Semver.Prerelease() != "" && !allowPre {
			continue
		}
		if merged != nil && !merged.Check(c.Semver) {
			continue
		}
		satisfying = append(satisfying, c)
	}
	if len(satisfying) == 0 {
		return nil, fmt.Errorf("no candidate satisfies the recorded constraints")
	}

	switch strategy {
	case dependency.StrategyStrict:
		if merged == nil {
			return nil, fmt.Errorf("strict strategy requires an exact version constraint")
		}
		// All satisfying candidates must in fact be pinned to one exact version.
		first := satisfying[0]
		for _, c := range satisfying {
			if !c.Semver.Equal(first.Semver) {
				return nil, fmt.Errorf("strict strategy found multiple satisfying versions: %s and %s", first.Semver, c.Semver)
			}
		}
		v := first
		return &v, nil
	case dependency.StrategyLatest:
		v := satisfying[0]
		return &v, nil
	case dependency.StrategyConservative:
		v := satisfying[len(satisfying)-1]
		return &v, nil
	default: // Compatible
		return selectCompatible(satisfying, pending)
	}
}

// versionLiteral pulls the first concrete x.y.z out of a declared range
// string such as ">=1.2.3" or "^1.2.3", for selectCompatible's caret
// expansion. A range with no literal version (e.g. "*") has nothing to
// expand from.
var versionLiteral = regexp.MustCompile(`\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?`)

// firstDeclaredVersion returns the version literal named by the first
// non-open constraint in pending, in declaration order, or false if none of
// them name one.
func firstDeclaredVersion(pending []pendingConstraint) (*semver.Version, bool) {
	for _, p := range pending {
		if dependency.IsOpenRange(p.spec.RawRange) {
			continue
		}
		m := versionLiteral.FindString(p.spec.RawRange)
		if m == "" {
			continue
		}
		v, err := semver.NewVersion(m)
		if err != nil {
			continue
		}
		return v, true
	}
	return nil, false
}

// caretUpperBound computes the exclusive upper bound of a caret range
// anchored at base, following the usual semver caret rule: bump the first
// nonzero component from the left (major, else minor, else patch).
func caretUpperBound(base *semver.Version) (*semver.Version, error) {
	switch {
	case base.Major() > 0:
		return semver.NewVersion(fmt.Sprintf("%d.0.0", base.Major()+1))
	case base.Minor() > 0:
		return semver.NewVersion(fmt.Sprintf("0.%d.0", base.Minor()+1))
	default:
		return semver.NewVersion(fmt.Sprintf("0.0.%d", base.Patch()+1))
	}
}

// selectCompatible implements spec.md §4.4's Compatible strategy: the
// highest version within the caret expansion of the first declared
// constraint, as distinct from Latest's unrestricted "highest in the full
// intersection". When the first constraint names no concrete version
// literal to expand from (e.g. a bare "*" or an open range), it falls back
// to Latest's behavior.
func selectCompatible(satisfying []dependency.Version, pending []pendingConstraint) (*dependency.Version, error) {
	base, ok := firstDeclaredVersion(pending)
	if !ok {
		v := satisfying[0]
		return &v, nil
	}
	upper, err := caretUpperBound(base)
	if err != nil {
		v := satisfying[0]
		return &v, nil
	}
	for _, c := range satisfying { // already sorted newest-first
		if c.Semver.Compare(base) >= 0 && c.Semver.Compare(upper) < 0 {
			v := c
			return &v, nil
		}
	}
	return nil, fmt.Errorf("no candidate within the caret range of %s satisfies the recorded constraints", base.String())
}

func versionConflict(id dependency.Id, pending []pendingConstraint) error {
	return versionConflictWithSuggestion(id, pending, "")
}

func versionConflictWithSuggestion(id dependency.Id, pending []pendingConstraint, suggestion string) error {
	conflicts := make([]knoterr.VersionConstraint, 0, len(pending))
	for _, p := range pending {
		conflicts = append(conflicts, knoterr.VersionConstraint{
			Range:     p.spec.RawRange,
			Requester: p.spec.Requester,
		})
	}
	return &knoterr.VersionConflictError{
		Package:    id.Name,
		Conflicts:  conflicts,
		Suggestion: suggestion,
	}
}

// detectCycle runs DFS coloring over the chosen-package adjacency graph,
// returning the cycle path (inclusive of the repeated node) if one exists.
func detectCycle(chosen map[dependency.Id]dependency.Version, adjacency map[dependency.Id][]dependency.Id) []dependency.Id {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[dependency.Id]int{}
	var path []dependency.Id
	var cycle []dependency.Id

	ids := make([]dependency.Id, 0, len(chosen))
	for id := range chosen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	var visit func(id dependency.Id) bool
	visit = func(id dependency.Id) bool {
		color[id] = gray
		path = append(path, id)
		for _, next := range adjacency[id] {
			if _, ok := chosen[next]; !ok {
				continue
			}
			switch color[next] {
			case gray:
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				cycle = append(append([]dependency.Id{}, path[start:]...), next)
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

func cycleNames(cycle []dependency.Id) []string {
	names := make([]string, len(cycle))
	for i, id := range cycle {
		names[i] = id.Name
	}
	return names
}

// kahnOrder computes a topological order over chosen (dependers after
// dependees) via Kahn's algorithm, used as the linker's materialization
// order.
func kahnOrder(chosen map[dependency.Id]dependency.Version, adjacency map[dependency.Id][]dependency.Id) ([]dependency.Id, error) {
	// indegree[id] counts id's own unresolved dependencies (edges
	// dependee -> depender); a leaf with no dependencies starts at 0 and
	// is emitted first, giving "dependers after dependees".
	indegree := map[dependency.Id]int{}
	reverse := map[dependency.Id][]dependency.Id{}
	for id := range chosen {
		indegree[id] = 0
	}
	for id, deps := range adjacency {
		for _, d := range deps {
			if _, ok := chosen[d]; !ok {
				continue
			}
			indegree[id]++
			reverse[d] = append(reverse[d], id)
		}
	}

	var queue []dependency.Id
	for id := range chosen {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].String() < queue[j].String() })

	var order []dependency.Id
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var freed []dependency.Id
		for _, depender := range reverse[id] {
			indegree[depender]--
			if indegree[depender] == 0 {
				freed = append(freed, depender)
			}
		}
		sort.Slice(freed, func(i, j int) bool { return freed[i].String() < freed[j].String() })
		queue = append(queue, freed...)
	}

	if len(order) != len(chosen) {
		return nil, &knoterr.CircularDependencyError{Cycle: []string{"unresolved cycle during topological sort"}}
	}
	return order, nil
}

func contentHash(order []dependency.Id, chosen map[dependency.Id]dependency.Version) string {
	h := sha256.New()
	for _, id := range order {
		v := chosen[id]
		fmt.Fprintf(h, "%s@%s;", id.String(), v.Semver.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}
