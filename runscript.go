package knot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/knotspace/knot/knoterr"
	"github.com/knotspace/knot/runner"
	"github.com/knotspace/knot/workspace"
)

// RunScriptOptions configures RunScript. Target names the app or package
// whose scripts/working-directory apply; empty means the workspace root
// itself, per spec.md §4.9's "app manifest -> package manifest -> workspace
// manifest" scope lookup anchored at a current working directory.
type RunScriptOptions struct {
	Target string
	runner.Options
}

// RunScript loads the workspace at root and runs the script named name in
// the scope named by opts.Target, following spec.md §4.9: resolve against
// the target's own scripts first, then the workspace's, spawn a shell with
// the working directory set to the target's manifest directory (or the
// workspace root for the empty target).
func RunScript(ctx context.Context, root, name string, opts RunScriptOptions) error {
	project, err := workspace.Load(root)
	if err != nil {
		return err
	}

	sources, dir, err := scriptSources(project, opts.Target)
	if err != nil {
		return err
	}

	runOpts := opts.Options
	if runOpts.Dir == "" {
		runOpts.Dir = dir
	}
	return runner.Run(ctx, name, sources, runOpts)
}

func scriptSources(project *workspace.Project, target string) (runner.Sources, string, error) {
	if target == "" {
		return runner.Sources{Workspace: project.Workspace.Scripts}, project.Root, nil
	}
	if am, ok := project.Apps[target]; ok {
		dir := filepath.Join(project.Root, "apps", target)
		return runner.Sources{App: am.Scripts, Workspace: project.Workspace.Scripts}, dir, nil
	}
	if pm, ok := project.Packages[target]; ok {
		dir := filepath.Join(project.Root, "packages", target)
		return runner.Sources{Package: pm.Scripts, Workspace: project.Workspace.Scripts}, dir, nil
	}
	return runner.Sources{}, "", &knoterr.ConfigurationError{
		Field:  "target",
		Reason: fmt.Sprintf("%q is not a known app or package in this workspace", target),
	}
}
