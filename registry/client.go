// Package registry is the HTTP client for the package registry described in
// spec.md §4.5 and §6: list/exists/fetch/publish/delete against a
// configurable base URL, Bearer-token authenticated, all failures mapped
// into the knoterr taxonomy.
package registry

import "context"

// VersionInfo is one entry from ListVersions.
type VersionInfo struct {
	Version     string
	PublishedAt string
	Checksum    string
}

// Metadata is what PublishMetadata sends ahead of the tarball upload.
type Metadata struct {
	Name        string
	Version     string
	Description string
	Team        string
	Tags        []string
	Exports     map[string]string
	Checksum    string
}

// Client is the registry contract every caller (resolver.Index adapter,
// cache, CLI-equivalent callers) programs against; HTTPClient is the
// production implementation and MemoryClient a fake for tests.
type Client interface {
	// ListVersions returns every published version, newest first.
	// An empty result (not an error) means the package has no versions
	// published; callers translate that to PackageNotFound.
	ListVersions(ctx context.Context, name string) ([]VersionInfo, error)

	// Exists reports whether name@version has already been published.
	Exists(ctx context.Context, name, version string) (bool, error)

	// Fetch downloads the gzipped tar archive for name@version.
	Fetch(ctx context.Context, name, version string) ([]byte, error)

	// PublishMetadata registers a version's metadata ahead of its tarball.
	PublishMetadata(ctx context.Context, meta Metadata) error

	// UploadTarball uploads the packed archive for an already-registered
	// version.
	UploadTarball(ctx context.Context, name, version string, data []byte) error

	// Delete removes a published version.
	Delete(ctx context.Context, name, version string) error
}
