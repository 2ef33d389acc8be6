package knot

import (
	"bytes"
	"context"
	"path/filepath"

	"golang.org/x/mod/sumdb/dirhash"

	"github.com/knotspace/knot/archive"
	"github.com/knotspace/knot/knoterr"
	"github.com/knotspace/knot/knotenv"
	"github.com/knotspace/knot/registry"
	"github.com/knotspace/knot/workspace"
)

// PublishOptions configures Publish. A nil Registry builds an HTTPClient
// from knotenv.Load's KNOT_TOKEN/KNOT_SPACE_URL, per spec.md §4.5.
type PublishOptions struct {
	Registry registry.Client
}

// Publish packs packageName's source directory and uploads it to the
// registry, per spec.md §7 Scenario D: archive, then PublishMetadata,
// then UploadTarball, in that order so a tarball is never stored without
// its metadata already registered (mirroring MemoryClient's own
// "publish_metadata before upload_tarball" invariant). Exists is checked
// first so a version already on the registry fails fast as a
// VersionConflictError with a "bump version" suggestion, rather than
// failing deep inside PublishMetadata.
func Publish(ctx context.Context, root, packageName string, opts PublishOptions) error {
	project, err := workspace.Load(root)
	if err != nil {
		return err
	}
	pm, ok := project.Packages[packageName]
	if !ok {
		return &knoterr.PackageNotFoundError{
			Package:    packageName,
			SearchedIn: []string{filepath.Join(project.Root, "packages")},
		}
	}

	client := opts.Registry
	if client == nil {
		env := knotenv.Load()
		client = registry.NewHTTPClient(env.RegistryURL, env.Token)
	}

	exists, err := client.Exists(ctx, pm.Name, pm.Version)
	if err != nil {
		return err
	}
	if exists {
		return &knoterr.VersionConflictError{
			Package: pm.Name,
			Conflicts: []knoterr.VersionConstraint{
				{Range: pm.Version, Requester: packageName},
			},
			Suggestion: "bump version",
		}
	}

	srcDir := filepath.Join(project.Root, "packages", packageName)
	rules := archive.LoadRules(srcDir)
	var buf bytes.Buffer
	if _, err := archive.Pack(srcDir, &buf, rules); err != nil {
		return err
	}

	checksum, err := dirhash.HashDir(srcDir, "", dirhash.Hash1)
	if err != nil {
		return &knoterr.CacheError{Operation: "checksum", Reason: err.Error()}
	}

	meta := registry.Metadata{
		Name:        pm.Name,
		Version:     pm.Version,
		Description: pm.Description,
		Team:        pm.Team,
		Tags:        pm.Tags,
		Checksum:    checksum,
	}
	if err := client.PublishMetadata(ctx, meta); err != nil {
		return err
	}
	return client.UploadTarball(ctx, pm.Name, pm.Version, buf.Bytes())
}
