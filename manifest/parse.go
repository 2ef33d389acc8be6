package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/knotspace/knot/interpolate"
	"github.com/knotspace/knot/knoterr"
)

// ParseError wraps a yaml decode failure with the manifest path, so callers
// don't need to re-thread it through fmt.Errorf at every call site.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Load reads, interpolates, parses, and validates a manifest of the given
// kind. An empty file is treated as a ValidationError naming the missing
// required name field, rather than a parse error, per spec.md §4.1's
// read -> detect-empty -> interpolate -> parse -> validate pipeline.
func Load(kind Kind, path string, raw []byte, scope *interpolate.Scope) (interface{}, error) {
	if len(raw) == 0 {
		return nil, &knoterr.ValidationError{
			FieldPath: "name",
			Reason:    "field required",
			Suggested: "add `name: <value>`",
		}
	}

	text, err := interpolate.Interpolate(string(raw), scope)
	if err != nil {
		return nil, err
	}

	var out interface{}
	switch kind {
	case KindWorkspace:
		var wm WorkspaceManifest
		if err := yaml.Unmarshal([]byte(text), &wm); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
		wm.Path = path
		out = &wm
	case KindApp:
		var am AppManifest
		if err := yaml.Unmarshal([]byte(text), &am); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
		am.Path = path
		out = &am
	case KindPackage:
		var pm PackageManifest
		if err := yaml.Unmarshal([]byte(text), &pm); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
		pm.Path = path
		out = &pm
	default:
		return nil, fmt.Errorf("unknown manifest kind %v", kind)
	}

	if err := Validate(kind, out); err != nil {
		return nil, err
	}
	return out, nil
}
