// Package cache is the on-disk, content-addressed store for extracted
// remote packages described in spec.md §5: keyed by (name, version,
// checksum), coordinated across concurrent invocations by a per-key
// lockfile, with stale locks broken after a TTL. The directory-hash and
// rename-into-place scheme is adapted from hashicorp-go-slug's
// sourcebundle.Builder.ensureRemotePackage, which uses
// golang.org/x/mod/sumdb/dirhash the same way.
package cache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/sumdb/dirhash"

	"github.com/knotspace/knot/archive"
	"github.com/knotspace/knot/knoterr"
)

// Cache is a directory of extracted packages, one subdirectory per
// (name, version, checksum) key.
type Cache struct {
	root string
}

// New opens (creating if necessary) a cache rooted at dir.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &knoterr.CacheError{Operation: "open", Reason: err.Error()}
	}
	return &Cache{root: dir}, nil
}

// Key identifies one cached extraction.
type Key struct {
	Name     string
	Version  string
	Checksum string
}

func (k Key) dirName() string {
	safe := strings.NewReplacer("/", "_", "@", "_").Replace(k.Name)
	return fmt.Sprintf("%s-%s-%s", safe, k.Version, k.Checksum)
}

// Lookup returns the extracted directory for key if already cached.
func (c *Cache) Lookup(key Key) (dir string, ok bool) {
	d := filepath.Join(c.root, key.dirName())
	info, err := os.Stat(d)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return d, true
}

// Ensure returns the extracted directory for key, populating it from
// tarball (a gzipped tar, as returned by registry.Client.Fetch) if it
// isn't already cached. Concurrent Ensure calls for the same key
// coordinate via a per-key lockfile so only one extracts at a time.
func (c *Cache) Ensure(key Key, tarball []byte) (string, error) {
	if dir, ok := c.Lookup(key); ok {
		return dir, nil
	}

	lock, err := acquireLock(c.root, key.dirName())
	if err != nil {
		return "", err
	}
	defer lock.release()

	// Another writer may have finished while we waited for the lock.
	if dir, ok := c.Lookup(key); ok {
		return dir, nil
	}

	workDir, err := os.MkdirTemp(c.root, ".tmp-")
	if err != nil {
		return "", &knoterr.CacheError{Operation: "extract", Reason: err.Error()}
	}

	if err := archive.Unpack(bytes.NewReader(tarball), workDir); err != nil {
		os.RemoveAll(workDir)
		return "", err
	}

	if key.Checksum != "" {
		actual, err := dirhash.HashDir(workDir, "", dirhash.Hash1)
		if err != nil {
			os.RemoveAll(workDir)
			return "", &knoterr.CacheError{Operation: "checksum", Reason: err.Error()}
		}
		if stripHashPrefix(actual) != stripHashPrefix(key.Checksum) {
			os.RemoveAll(workDir)
			return "", &knoterr.CacheError{
				Operation: "checksum",
				Reason:    fmt.Sprintf("downloaded content for %s@%s does not match the expected checksum", key.Name, key.Version),
			}
		}
	}

	finalDir := filepath.Join(c.root, key.dirName())
	if info, err := os.Lstat(finalDir); err == nil && info.IsDir() {
		os.RemoveAll(workDir)
		return finalDir, nil
	}
	if err := os.Rename(workDir, finalDir); err != nil {
		return "", &knoterr.CacheError{Operation: "finalize", Reason: err.Error()}
	}
	return finalDir, nil
}

func stripHashPrefix(h string) string {
	if i := strings.IndexByte(h, ':'); i >= 0 {
		return h[i+1:]
	}
	return h
}
