package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knotspace/knot/knoterr"
)

// staleLockTTL is how old a lockfile's mtime must be before a new writer
// is allowed to break it, per spec.md §5's "stale locks older than a
// configurable TTL are broken."
const staleLockTTL = 2 * time.Minute

const lockPollInterval = 50 * time.Millisecond
const lockWaitTimeout = 30 * time.Second

type fileLock struct {
	path string
}

// acquireLock takes the per-key lock for name under root, creating it
// exclusively. If an existing lock is older than staleLockTTL it is
// removed and re-acquired; otherwise acquireLock waits, polling, until the
// lock is released or lockWaitTimeout elapses.
func acquireLock(root, name string) (*fileLock, error) {
	path := filepath.Join(root, "."+name+".lock")
	deadline := time.Now().Add(lockWaitTimeout)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &fileLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, &knoterr.CacheError{Operation: "lock", Reason: err.Error()}
		}

		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleLockTTL {
			os.Remove(path)
			continue
		}

		if time.Now().After(deadline) {
			return nil, &knoterr.CacheError{Operation: "lock", Reason: fmt.Sprintf("timed out waiting for lock %q", path)}
		}
		time.Sleep(lockPollInterval)
	}
}

func (l *fileLock) release() {
	os.Remove(l.path)
}
