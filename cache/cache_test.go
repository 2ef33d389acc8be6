package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knotspace/knot/archive"
)

func makeTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	src := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(src, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if _, err := archive.Pack(src, &buf, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCacheEnsureExtractsAndReuses(t *testing.T) {
	root := t.TempDir()
	c, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	tarball := makeTarball(t, map[string]string{"index.js": "hello"})
	key := Key{Name: "utils", Version: "1.0.0", Checksum: ""}

	dir, err := c.Ensure(key, tarball)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "index.js"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}

	dir2, ok := c.Lookup(key)
	if !ok || dir2 != dir {
		t.Fatalf("expected lookup to find cached dir, got %q ok=%v", dir2, ok)
	}

	// A second Ensure call must not re-extract or error.
	dir3, err := c.Ensure(key, tarball)
	if err != nil {
		t.Fatal(err)
	}
	if dir3 != dir {
		t.Fatalf("expected same directory on reuse, got %q vs %q", dir3, dir)
	}
}

func TestCacheEnsureDifferentKeysDifferentDirs(t *testing.T) {
	root := t.TempDir()
	c, _ := New(root)
	t1 := makeTarball(t, map[string]string{"a.js": "1"})
	t2 := makeTarball(t, map[string]string{"a.js": "2"})

	d1, err := c.Ensure(Key{Name: "utils", Version: "1.0.0"}, t1)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := c.Ensure(Key{Name: "utils", Version: "2.0.0"}, t2)
	if err != nil {
		t.Fatal(err)
	}
	if d1 == d2 {
		t.Fatal("expected distinct cache directories for distinct versions")
	}
}

func TestAcquireLockBreaksStaleLock(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".mykey.lock")
	if err := os.WriteFile(path, []byte("12345\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-staleLockTTL - time.Second)
	if err := os.Chtimes(path, stale, stale); err != nil {
		t.Fatal(err)
	}

	lock, err := acquireLock(root, "mykey")
	if err != nil {
		t.Fatalf("expected stale lock to be broken, got error: %v", err)
	}
	lock.release()
}
