// Package interpolate resolves ${var} references in raw manifest text before
// it is parsed, exactly as described in spec.md §4.2. It is a direct Go port
// of the fixed-point/cycle-detection approach in the original
// VariableInterpolator (apps/cli/src/interpolation.rs), generalized to support
// scoped precedence across package/app/project/builtin layers.
package interpolate

import (
	"fmt"
	"os"
	"regexp"
	"runtime"

	"github.com/knotspace/knot/knoterr"
)

var varPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// maxPasses caps the fixed-point loop; exceeding it means some substitution
// keeps producing new "${...}" text forever (e.g. substituted values that
// combine with surrounding text into a fresh reference on every pass), which
// is InterpolationDiverges rather than a true cycle. A variable whose value
// is itself a template is resolved recursively within a single pass.
const maxPasses = 100

// Scope resolves a variable name to a value, tracking which layer answered
// so callers can build precedence-aware error messages. Layers are chained
// highest-precedence first; Lookup tries each in order.
type Scope struct {
	layers     []layer
	envFallback bool
}

type layer struct {
	name string
	vars map[string]string
}

// NewScope builds an empty scope. Add layers with PushLayer, most specific
// first (e.g. package, then app, then project, then builtin).
func NewScope(envFallback bool) *Scope {
	return &Scope{envFallback: envFallback}
}

// PushLayer appends a named precedence layer. Layers added earlier win ties.
func (s *Scope) PushLayer(name string, vars map[string]string) {
	s.layers = append(s.layers, layer{name: name, vars: vars})
}

// Builtins returns the always-present OS/ARCH/FAMILY/PWD variables.
func Builtins() map[string]string {
	family := "unix"
	if runtime.GOOS == "windows" {
		family = "windows"
	}
	pwd, _ := os.Getwd()
	return map[string]string{
		"OS":     runtime.GOOS,
		"ARCH":   runtime.GOARCH,
		"FAMILY": family,
		"PWD":    pwd,
	}
}

// Lookup resolves name against the scope's layers, then the environment if
// fallback is enabled, returning which layer it came from (or "env").
func (s *Scope) Lookup(name string) (value string, origin string, ok bool) {
	for _, l := range s.layers {
		if v, found := l.vars[name]; found {
			return v, l.name, true
		}
	}
	if s.envFallback {
		if v, found := os.LookupEnv(name); found {
			return v, "env", true
		}
	}
	return "", "", false
}

// Has reports whether name would resolve, without producing the value.
func (s *Scope) Has(name string) bool {
	_, _, ok := s.Lookup(name)
	return ok
}

// Interpolate substitutes every ${name} in text against scope, iterating to
// a fixed point. It fails with UndefinedVariableError, CircularVariableError,
// or InterpolationDivergesError per spec.md §4.2.
func Interpolate(text string, scope *Scope) (string, error) {
	result := text
	for pass := 0; ; pass++ {
		if pass >= maxPasses {
			return "", &knoterr.InterpolationDivergesError{Passes: maxPasses}
		}

		matches := varPattern.FindAllStringSubmatchIndex(result, -1)
		if len(matches) == 0 {
			return result, nil
		}

		// Resolve every distinct variable found this pass before rewriting.
		// Each top-level name starts with a fresh circular-detection set, so
		// a cycle is caught within that name's own recursive resolution.
		resolved := make(map[string]string, len(matches))
		for _, m := range matches {
			name := result[m[2]:m[3]]
			if _, already := resolved[name]; already {
				continue
			}
			value, err := resolveVariable(name, scope, map[string]bool{})
			if err != nil {
				return "", err
			}
			resolved[name] = value
		}

		result = varPattern.ReplaceAllStringFunc(result, func(full string) string {
			name := varPattern.FindStringSubmatch(full)[1]
			return resolved[name]
		})
	}
}

// resolveVariable resolves name, and if its value itself contains further
// ${...} references, resolves those too, detecting cycles via visiting.
func resolveVariable(name string, scope *Scope, visiting map[string]bool) (string, error) {
	if visiting[name] {
		chain := make([]string, 0, len(visiting)+1)
		for n := range visiting {
			chain = append(chain, n)
		}
		chain = append(chain, name)
		return "", &knoterr.CircularVariableError{Chain: chain}
	}

	value, _, ok := scope.Lookup(name)
	if !ok {
		return "", &knoterr.UndefinedVariableError{Name: name}
	}

	inner := varPattern.FindAllStringSubmatch(value, -1)
	if len(inner) == 0 {
		return value, nil
	}

	visiting[name] = true
	defer delete(visiting, name)

	out := value
	seen := map[string]bool{}
	for _, m := range inner {
		innerName := m[1]
		if seen[innerName] {
			continue
		}
		seen[innerName] = true
		innerValue, err := resolveVariable(innerName, scope, visiting)
		if err != nil {
			return "", fmt.Errorf("resolving %q: %w", name, err)
		}
		out = varPattern.ReplaceAllStringFunc(out, func(full string) string {
			if varPattern.FindStringSubmatch(full)[1] == innerName {
				return innerValue
			}
			return full
		})
	}
	return out, nil
}

// Validate reports every undefined variable referenced in text, without
// failing on the first one — used to pre-flight a manifest before committing
// to the fixed-point substitution.
func Validate(text string, scope *Scope) []string {
	seen := map[string]bool{}
	var undefined []string
	for _, m := range varPattern.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if !scope.Has(name) {
			undefined = append(undefined, name)
		}
	}
	return undefined
}
