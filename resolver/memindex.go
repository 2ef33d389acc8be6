package resolver

import "github.com/knotspace/knot/dependency"

// MemoryIndex is a fixed candidate table, used in tests and by callers that
// have already materialized every candidate (e.g. from a lockfile).
type MemoryIndex map[dependency.Id][]dependency.Version

func (m MemoryIndex) Candidates(id dependency.Id) ([]dependency.Version, error) {
	return m[id], nil
}
