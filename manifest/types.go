// Package manifest defines the three manifest kinds (workspace, app, package)
// described in spec.md §3/§6, and validates them per §4.1. Manifests are
// decoded with gopkg.in/yaml.v3; validation errors carry the field path, not
// a source position.
package manifest

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind identifies which of the three manifest shapes is being parsed.
type Kind int

const (
	KindWorkspace Kind = iota
	KindApp
	KindPackage
)

func (k Kind) String() string {
	switch k {
	case KindWorkspace:
		return "workspace"
	case KindApp:
		return "app"
	case KindPackage:
		return "package"
	default:
		return "unknown"
	}
}

// TSAlias models the ts_alias field, which YAML may spell as a bool
// (true => "#", false => no alias) or as a string (the literal prefix).
type TSAlias struct {
	Enabled bool
	Prefix  string
	set     bool
}

// Alias returns the effective alias prefix, or "" if no alias is configured.
func (t *TSAlias) Alias() string {
	if t == nil || !t.set {
		return ""
	}
	if t.Prefix != "" {
		return t.Prefix
	}
	if t.Enabled {
		return "#"
	}
	return ""
}

func (t *TSAlias) UnmarshalYAML(node *yaml.Node) error {
	t.set = true
	switch node.Tag {
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		t.Enabled = b
		return nil
	case "!!str":
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		t.Prefix = s
		t.Enabled = s != ""
		return nil
	default:
		return &nodeError{node: node, msg: fmt.Sprintf("ts_alias must be a bool or string, got %s", node.Tag)}
	}
}

// VariableMap is map[string]string, but its YAML decoding coerces numeric,
// boolean, and null scalars to their string representation (spec.md §4.1,
// §9's resolved Open Question) rather than rejecting them.
type VariableMap map[string]string

func (m *VariableMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return &nodeError{node: node, msg: "variables must be a mapping"}
	}
	out := make(VariableMap, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val, err := coerceScalarToString(node.Content[i+1])
		if err != nil {
			return &nodeError{node: node.Content[i+1], msg: fmt.Sprintf("variable %q: %s", key, err)}
		}
		out[key] = val
	}
	*m = out
	return nil
}

func coerceScalarToString(node *yaml.Node) (string, error) {
	switch node.Tag {
	case "!!str":
		return node.Value, nil
	case "!!int":
		n, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return node.Value, nil
		}
		return strconv.FormatInt(n, 10), nil
	case "!!float":
		f, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return node.Value, nil
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case "!!bool":
		b, err := strconv.ParseBool(node.Value)
		if err != nil {
			return node.Value, nil
		}
		return strconv.FormatBool(b), nil
	case "!!null":
		return "", nil
	default:
		return "", fmt.Errorf("unsupported variable type %s; variables must be a scalar", node.Tag)
	}
}

// PackageSpec names a dependency, either bare ("utils"), pinned
// ("utils@1.2.3"), or with an alias ({name: utils, alias: u}).
type PackageSpec struct {
	Name    string
	Version string
	Alias   string
}

func (p *PackageSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		name, version := splitNameVersion(node.Value)
		p.Name = name
		p.Version = version
		return nil
	case yaml.MappingNode:
		var obj struct {
			Name    string `yaml:"name"`
			Alias   string `yaml:"alias"`
			Version string `yaml:"version"`
		}
		if err := node.Decode(&obj); err != nil {
			return err
		}
		if obj.Version == "" {
			obj.Name, obj.Version = splitNameVersion(obj.Name)
		}
		p.Name = obj.Name
		p.Alias = obj.Alias
		p.Version = obj.Version
		return nil
	default:
		return &nodeError{node: node, msg: "package entry must be a string or a mapping"}
	}
}

// Target returns the name under which this dependency is materialized:
// its alias if set, otherwise its bare name.
func (p PackageSpec) Target() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Name
}

// splitNameVersion splits "name@version" into its parts, respecting a
// leading "@" scope marker (e.g. "@scope/name@1.0.0").
func splitNameVersion(spec string) (name, version string) {
	if spec == "" {
		return spec, ""
	}
	body := spec
	prefix := ""
	if spec[0] == '@' {
		prefix = "@"
		body = spec[1:]
	}
	for i := len(body) - 1; i >= 0; i-- {
		if body[i] == '@' {
			return prefix + body[:i], body[i+1:]
		}
	}
	return spec, ""
}

// AppDeps is an app's entry under the workspace manifest's "apps" map:
// either a bare ordered list of PackageSpec, or an object carrying its own
// ts_alias override alongside the list.
type AppDeps struct {
	TSAlias  *TSAlias
	Packages []PackageSpec
}

func (a *AppDeps) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		return node.Decode(&a.Packages)
	case yaml.MappingNode:
		var obj struct {
			TSAlias  *TSAlias      `yaml:"ts_alias"`
			Packages []PackageSpec `yaml:"packages"`
		}
		if err := node.Decode(&obj); err != nil {
			return err
		}
		a.TSAlias = obj.TSAlias
		a.Packages = obj.Packages
		return nil
	default:
		return &nodeError{node: node, msg: "app dependency entry must be a list or a mapping"}
	}
}

// WorkspaceManifest is the root manifest (spec.md §6).
type WorkspaceManifest struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	TSAlias     *TSAlias           `yaml:"ts_alias"`
	Apps        map[string]AppDeps `yaml:"apps"`
	Scripts     map[string]string  `yaml:"scripts"`
	Variables   VariableMap        `yaml:"variables"`

	// Path is the absolute path this manifest was loaded from, set by Load.
	Path string `yaml:"-"`
}

// AppManifest is a per-app manifest (spec.md §6).
type AppManifest struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	TSAlias     *TSAlias          `yaml:"ts_alias"`
	Packages    []PackageSpec     `yaml:"packages"`
	Build       string            `yaml:"build"`
	Scripts     map[string]string `yaml:"scripts"`
	Variables   VariableMap       `yaml:"variables"`

	Path string `yaml:"-"`
}

// PackageManifest is a per-package manifest (spec.md §6). Its own
// "packages" field (spec.md §3's "AppManifest / PackageManifest... carrying
// their own... packages") lets one local package depend on another,
// supplying the resolver's transitive edges for the dependency graph.
type PackageManifest struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Team        string            `yaml:"team"`
	Description string            `yaml:"description"`
	Tags        []string          `yaml:"tags"`
	Packages    []PackageSpec     `yaml:"packages"`
	Scripts     map[string]string `yaml:"scripts"`
	Variables   VariableMap       `yaml:"variables"`

	Path string `yaml:"-"`
}

type nodeError struct {
	node *yaml.Node
	msg  string
}

func (e *nodeError) Error() string {
	if e.node != nil {
		return fmt.Sprintf("line %d: %s", e.node.Line, e.msg)
	}
	return e.msg
}
