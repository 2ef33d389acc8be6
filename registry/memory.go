package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/knotspace/knot/knoterr"
)

// MemoryClient is an in-process fake Client for tests: a plain map guarded
// by a mutex, with no network behavior to simulate.
type MemoryClient struct {
	mu       sync.Mutex
	versions map[string][]VersionInfo
	tarballs map[string][]byte
	meta     map[string]Metadata
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		versions: make(map[string][]VersionInfo),
		tarballs: make(map[string][]byte),
		meta:     make(map[string]Metadata),
	}
}

func tarballKey(name, version string) string { return name + "@" + version }

func (m *MemoryClient) ListVersions(_ context.Context, name string) ([]VersionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]VersionInfo(nil), m.versions[name]...)
	sort.Slice(out, func(i, j int) bool {
		vi, erri := semver.NewVersion(out[i].Version)
		vj, errj := semver.NewVersion(out[j].Version)
		if erri != nil || errj != nil {
			return out[i].Version > out[j].Version
		}
		return vi.GreaterThan(vj)
	})
	return out, nil
}

func (m *MemoryClient) Exists(_ context.Context, name, version string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tarballs[tarballKey(name, version)]
	return ok, nil
}

func (m *MemoryClient) Fetch(_ context.Context, name, version string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.tarballs[tarballKey(name, version)]
	if !ok {
		return nil, &knoterr.PackageNotFoundError{Package: name}
	}
	return data, nil
}

func (m *MemoryClient) PublishMetadata(_ context.Context, meta Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[tarballKey(meta.Name, meta.Version)] = meta
	m.versions[meta.Name] = append(m.versions[meta.Name], VersionInfo{Version: meta.Version, Checksum: meta.Checksum})
	return nil
}

func (m *MemoryClient) UploadTarball(_ context.Context, name, version string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tarballKey(name, version)
	if _, ok := m.meta[key]; !ok {
		return &knoterr.ConfigurationError{Field: "version", Reason: "publish_metadata must be called before upload_tarball"}
	}
	m.tarballs[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryClient) Delete(_ context.Context, name, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tarballKey(name, version)
	delete(m.tarballs, key)
	delete(m.meta, key)
	filtered := m.versions[name][:0]
	for _, v := range m.versions[name] {
		if v.Version != version {
			filtered = append(filtered, v)
		}
	}
	m.versions[name] = filtered
	return nil
}
