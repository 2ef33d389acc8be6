// Package workspace discovers a project's root manifest and assembles the
// full view of its apps and packages, resolving each app's effective
// dependency list and detecting alias collisions. Grounded on
// original_source/apps/cli/src/project.rs's Project::find_and_load and its
// load_packages/load_apps/get_app_dependencies helpers.
package workspace

import (
	"os"
	"path/filepath"

	"github.com/knotspace/knot/knoterr"
)

// FindYAMLFile returns dir/<base>.yml if present, else dir/<base>.yaml, else
// "". ".yml" is preferred when both exist, matching the teacher's stated
// file-naming convention.
func FindYAMLFile(dir, base string) string {
	for _, ext := range []string{".yml", ".yaml"} {
		candidate := filepath.Join(dir, base+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// FindRoot walks up from start looking for a workspace manifest
// (knot.yml/knot.yaml), returning the directory that contains it.
func FindRoot(start string) (string, error) {
	current, err := filepath.Abs(start)
	if err != nil {
		return "", &knoterr.IOError{Operation: "discover", Path: start, Reason: err.Error()}
	}

	for {
		if FindYAMLFile(current, "knot") != "" {
			if canon, err := filepath.EvalSymlinks(current); err == nil {
				return canon, nil
			}
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", &knoterr.IOError{Operation: "discover", Path: start, Reason: "no knot.yml or knot.yaml found in directory tree"}
		}
		current = parent
	}
}
