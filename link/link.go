// Package link materializes a resolved dependency set into an app's
// knot_packages directory: copy or symlink for local packages, and
// cache-extracted directories for remote ones. Grounded on
// original_source/apps/knot-cli/src/linker.rs's Linker::link_app and
// link_dependency, adapted to Go's filesystem and concurrency idioms.
package link

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/knotspace/knot/internal/copyUtil"
	"github.com/knotspace/knot/internal/escapingfs"
	"github.com/knotspace/knot/knoterr"
)

// ResolvedDependency is one entry of an app's materialization closure, as
// produced by the resolver and ordered topologically (dependees before
// dependers): Name/Version name the chosen package, Alias is set only when
// the app (or its workspace entry) declared this dependency directly with
// an alias — a dependency pulled in transitively has none. LinkApp takes a
// slice of these rather than a flat, caller-declared package list so that a
// package's own transitive dependencies (never present in an app's own
// manifest) aren't silently skipped during materialization.
type ResolvedDependency struct {
	Name    string
	Version string
	Alias   string
}

// Target returns the directory name this dependency is materialized under:
// its alias if set, otherwise its bare name.
func (d ResolvedDependency) Target() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Name
}

// Mode selects how a local package is materialized into knot_packages.
type Mode int

const (
	// ModeCopy recursively copies the package source tree.
	ModeCopy Mode = iota
	// ModeSymlink creates a single symlink to the package source directory.
	ModeSymlink
)

// RemoteResolver materializes a remote (registry-backed) dependency into an
// extracted, ready-to-link directory, typically backed by the cache package.
type RemoteResolver interface {
	Materialize(ctx context.Context, dep ResolvedDependency) (dir string, err error)
}

// Linker links resolved dependencies into each app's knot_packages
// directory. Root is the workspace root; LocalPackageDir resolves a local
// package's bare name to its source directory (typically root/packages/<name>).
type Linker struct {
	Root            string
	Mode            Mode
	LocalPackageDir func(name string) string
	Remote          RemoteResolver
}

// Result reports what LinkApp materialized for one app.
type Result struct {
	App     string
	Linked  []string // target folder names written under knot_packages
	Skipped []string // dependencies that resolved to nothing (should not happen in practice)
}

// LinkApp removes and recreates app's knot_packages directory, then
// materializes every dependency in deps (the resolver's topological order,
// already filtered to this app's closure) into it. Recreation makes linking
// idempotent: a repeated call observes the same end state regardless of
// what was linked before.
func (l *Linker) LinkApp(ctx context.Context, app string, deps []ResolvedDependency) (*Result, error) {
	appDir := filepath.Join(l.Root, "apps", app)
	if info, err := os.Stat(appDir); err != nil || !info.IsDir() {
		return nil, &knoterr.IOError{Operation: "link", Path: appDir, Reason: "app directory does not exist"}
	}

	packagesDir := filepath.Join(appDir, "knot_packages")
	if err := os.RemoveAll(packagesDir); err != nil {
		return nil, &knoterr.IOError{Operation: "link", Path: packagesDir, Reason: fmt.Sprintf("failed to remove existing knot_packages: %s", err)}
	}
	if err := os.MkdirAll(packagesDir, 0o755); err != nil {
		return nil, &knoterr.IOError{Operation: "link", Path: packagesDir, Reason: fmt.Sprintf("failed to create knot_packages: %s", err)}
	}

	result := &Result{App: app}
	for _, dep := range deps {
		folder, err := l.linkDependency(ctx, packagesDir, dep)
		if err != nil {
			return nil, err
		}
		result.Linked = append(result.Linked, folder)
	}
	sort.Strings(result.Linked)
	return result, nil
}

// LinkAll links every app in apps concurrently; disjoint target directories
// make this safe without additional synchronization.
func LinkAll(ctx context.Context, l *Linker, apps map[string][]ResolvedDependency) ([]*Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]*Result, len(apps))
	names := make([]string, 0, len(apps))
	for name := range apps {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			res, err := l.LinkApp(gctx, name, apps[name])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// linkDependency materializes a single dependency under packagesDir,
// returning the folder name it was written to.
func (l *Linker) linkDependency(ctx context.Context, packagesDir string, dep ResolvedDependency) (string, error) {
	folder := dependencyFolderName(dep)
	target := filepath.Join(packagesDir, folder)

	if ok, err := escapingfs.TargetWithinRoot(packagesDir, target); err != nil {
		return "", &knoterr.IOError{Operation: "link", Path: target, Reason: err.Error()}
	} else if !ok {
		return "", &knoterr.IOError{Operation: "link", Path: target, Reason: "materialization target escapes knot_packages"}
	}

	if isRemote(dep) {
		if l.Remote == nil {
			return "", &knoterr.ConfigurationError{Field: "registry", Reason: "no registry configured for remote dependency " + dep.Name}
		}
		src, err := l.Remote.Materialize(ctx, dep)
		if err != nil {
			return "", err
		}
		if err := copyTree(src, target); err != nil {
			return "", err
		}
		return folder, nil
	}

	if l.LocalPackageDir == nil {
		return "", &knoterr.ConfigurationError{Field: "packages", Reason: "no local package resolver configured"}
	}
	src := l.LocalPackageDir(dep.Name)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return "", &knoterr.PackageNotFoundError{Package: dep.Name, SearchedIn: []string{src}}
	}

	switch l.Mode {
	case ModeSymlink:
		if err := createSymlink(src, target); err != nil {
			return "", &knoterr.IOError{Operation: "link", Path: target, Reason: err.Error()}
		}
	default:
		if err := copyTree(src, target); err != nil {
			return "", err
		}
	}
	return folder, nil
}

// dependencyFolderName returns the directory name a dependency is
// materialized under: its alias if set, otherwise its bare name with any
// "@" scope prefix stripped (remote scoped packages keep their scope for
// identification but not for the on-disk folder name).
func dependencyFolderName(dep ResolvedDependency) string {
	return strings.TrimPrefix(dep.Target(), "@")
}

func isRemote(dep ResolvedDependency) bool {
	return strings.HasPrefix(dep.Name, "@")
}

func createSymlink(src, target string) error {
	if runtime.GOOS == "windows" {
		info, err := os.Stat(src)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return os.Symlink(src, target)
		}
	}
	return os.Symlink(src, target)
}

// copyTree recursively copies src onto target, rejecting any entry whose
// resolved path would escape target.
func copyTree(src, target string) error {
	info, err := os.Stat(src)
	if err != nil {
		return &knoterr.IOError{Operation: "copy", Path: src, Reason: err.Error()}
	}

	if !info.IsDir() {
		return copyFile(src, target, info)
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return &knoterr.IOError{Operation: "copy", Path: target, Reason: err.Error()}
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return &knoterr.IOError{Operation: "copy", Path: src, Reason: err.Error()}
	}
	for _, entry := range entries {
		childSrc := filepath.Join(src, entry.Name())
		childTarget := filepath.Join(target, entry.Name())
		if ok, err := escapingfs.TargetWithinRoot(target, childTarget); err != nil || !ok {
			return &knoterr.IOError{Operation: "copy", Path: childTarget, Reason: "copy target escapes destination root"}
		}
		if entry.IsDir() {
			if err := copyTree(childSrc, childTarget); err != nil {
				return err
			}
			continue
		}
		childInfo, err := entry.Info()
		if err != nil {
			return &knoterr.IOError{Operation: "copy", Path: childSrc, Reason: err.Error()}
		}
		if err := copyFile(childSrc, childTarget, childInfo); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, target string, info os.FileInfo) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &knoterr.IOError{Operation: "copy", Path: target, Reason: err.Error()}
	}
	in, err := os.Open(src)
	if err != nil {
		return &knoterr.IOError{Operation: "copy", Path: src, Reason: err.Error()}
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return &knoterr.IOError{Operation: "copy", Path: target, Reason: err.Error()}
	}
	defer out.Close()

	if err := copyUtil.CopyWithLimit(out, in); err != nil {
		return &knoterr.IOError{Operation: "copy", Path: target, Reason: err.Error()}
	}
	return nil
}
