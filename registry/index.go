package registry

import (
	"context"

	"github.com/Masterminds/semver/v3"

	"github.com/knotspace/knot/dependency"
	"github.com/knotspace/knot/knoterr"
)

// ResolverIndex adapts a Client into resolver.Index, letting the resolver
// treat registry-backed remote packages the same as any other candidate
// source. Each listed version becomes a dependency.Version carrying only its
// semver, name and checksum; no dependency edges are read for remote
// packages, so a remote package's own dependencies are not resolved.
type ResolverIndex struct {
	Client   Client
	Registry string
}

func (r ResolverIndex) Candidates(id dependency.Id) ([]dependency.Version, error) {
	ctx := context.Background()
	infos, err := r.Client.ListVersions(ctx, id.Name)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, &knoterr.PackageNotFoundError{Package: id.Name}
	}

	versions := make([]dependency.Version, 0, len(infos))
	for _, info := range infos {
		sv, err := semver.NewVersion(info.Version)
		if err != nil {
			continue
		}
		versions = append(versions, dependency.Version{
			ID:     id,
			Semver: sv,
			Metadata: &dependency.Metadata{
				Name:     id.Name,
				Version:  info.Version,
				Checksum: info.Checksum,
			},
		})
	}
	return versions, nil
}
