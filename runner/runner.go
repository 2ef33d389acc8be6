// Package runner executes scripts declared in app, package, or workspace
// manifests, resolving name collisions by a fixed scope priority. Grounded
// on original_source/apps/cli/src/commands/run.rs's run_script/execute_script
// and show_available_scripts.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/knotspace/knot/knoterr"
)

// Scope names where a script was declared.
type Scope string

const (
	ScopeApp       Scope = "app"
	ScopePackage   Scope = "package"
	ScopeWorkspace Scope = "workspace"
)

// ScriptRef names one discoverable script, annotated with its scope.
type ScriptRef struct {
	Scope   Scope
	Name    string
	Command string
}

// ScriptNotFoundError is returned by Run when name isn't declared in any
// scope; it carries every script that was discoverable so callers can
// render a "did you mean" style listing.
type ScriptNotFoundError struct {
	Name      string
	Available []ScriptRef
}

func (e *ScriptNotFoundError) Code() knoterr.Code { return knoterr.Code("script_not_found") }

func (e *ScriptNotFoundError) Error() string {
	return fmt.Sprintf("script %q not found", e.Name)
}

func (e *ScriptNotFoundError) Render() string {
	s := fmt.Sprintf("script %q not found.\n", e.Name)
	if len(e.Available) == 0 {
		return s + "\nno scripts are defined in any scope.\n"
	}
	s += "\navailable scripts:\n"
	for _, ref := range e.Available {
		s += fmt.Sprintf("  [%s] %s: %s\n", ref.Scope, ref.Name, ref.Command)
	}
	return s
}

// Sources groups the script maps visible at a given working directory, in
// priority order: app, then package, then workspace.
type Sources struct {
	App       map[string]string
	Package   map[string]string
	Workspace map[string]string
}

// Resolve finds the command for name, preferring app scope over package
// scope over workspace scope, along with the scope it was found in.
func (s Sources) Resolve(name string) (command string, scope Scope, ok bool) {
	if cmd, found := s.App[name]; found {
		return cmd, ScopeApp, true
	}
	if cmd, found := s.Package[name]; found {
		return cmd, ScopePackage, true
	}
	if cmd, found := s.Workspace[name]; found {
		return cmd, ScopeWorkspace, true
	}
	return "", "", false
}

// List returns every discoverable script across all scopes, app first.
func (s Sources) List() []ScriptRef {
	var refs []ScriptRef
	for _, scoped := range []struct {
		scope Scope
		m     map[string]string
	}{
		{ScopeApp, s.App},
		{ScopePackage, s.Package},
		{ScopeWorkspace, s.Workspace},
	} {
		for name, cmd := range scoped.m {
			refs = append(refs, ScriptRef{Scope: scoped.scope, Name: name, Command: cmd})
		}
	}
	return refs
}

// Options configures Run's process wiring.
type Options struct {
	Dir            string
	Stdin          io.Reader
	Stdout, Stderr io.Writer
}

// Run resolves name against sources and executes its command in a shell,
// returning ScriptNotFoundError if it isn't declared anywhere, or the
// underlying process's exit error otherwise (propagated via *exec.ExitError,
// whose ExitCode the caller maps to spec.md's process exit codes).
func Run(ctx context.Context, name string, sources Sources, opts Options) error {
	command, _, ok := sources.Resolve(name)
	if !ok {
		return &ScriptNotFoundError{Name: name, Available: sources.List()}
	}

	shell, flag := shellCommand()
	cmd := exec.CommandContext(ctx, shell, flag, command)
	cmd.Dir = opts.Dir
	cmd.Stdin = orDefault(opts.Stdin, os.Stdin)
	cmd.Stdout = orDefaultWriter(opts.Stdout, os.Stdout)
	cmd.Stderr = orDefaultWriter(opts.Stderr, os.Stderr)

	if err := cmd.Run(); err != nil {
		// *exec.ExitError carries the script's own exit code; pass it through
		// unwrapped so callers can propagate it via ExitError.ExitCode().
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			return exitErr
		}
		return &knoterr.IOError{Operation: "run", Path: name, Reason: err.Error()}
	}
	return nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}

func shellCommand() (shell, flag string) {
	if runtime.GOOS == "windows" {
		return "cmd", "/C"
	}
	return "sh", "-c"
}

func orDefault(r io.Reader, def io.Reader) io.Reader {
	if r != nil {
		return r
	}
	return def
}

func orDefaultWriter(w io.Writer, def io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return def
}
