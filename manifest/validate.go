package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/knotspace/knot/knoterr"
)

var (
	tagPattern     = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	prereleasePart = regexp.MustCompile(`^[0-9A-Za-z-]+$`)
)

const maxNameLength = 100
const maxTagLength = 50

// ValidateName checks a project/app/package/team name per spec.md §4.1.
// field is used only to build the field path in the returned error.
func ValidateName(field, name string) error {
	if name == "" {
		return &knoterr.ValidationError{
			FieldPath: field,
			Reason:    "field required",
			Suggested: fmt.Sprintf("add `%s: <value>`", field),
		}
	}
	if len(name) > maxNameLength {
		return &knoterr.ValidationError{
			FieldPath: field,
			Value:     name,
			Reason:    fmt.Sprintf("name exceeds %d characters", maxNameLength),
		}
	}
	if strings.ContainsAny(name, "\x00") || strings.Contains(name, "..") ||
		strings.ContainsAny(name, "/\\") {
		return &knoterr.ValidationError{
			FieldPath: field,
			Value:     name,
			Reason:    "name must not contain path separators, \"..\", or NUL",
			Suggested: "remove any `/`, `\\`, `..`, or NUL characters",
		}
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "-") {
		return &knoterr.ValidationError{
			FieldPath: field,
			Value:     name,
			Reason:    "name must not start with '.' or '-'",
		}
	}
	return nil
}

// ValidateScriptName additionally rejects whitespace, per spec.md §4.1.
func ValidateScriptName(name string) error {
	if err := ValidateName("scripts", name); err != nil {
		return err
	}
	if strings.ContainsFunc(name, func(r rune) bool { return r == ' ' || r == '\t' }) {
		return &knoterr.ValidationError{
			FieldPath: "scripts",
			Value:     name,
			Reason:    "script names must not contain whitespace",
		}
	}
	return nil
}

// ValidatePackageName accepts an optional "@scope" or "@scope/name" prefix;
// local (non-remote) names must not contain "@" at all.
func ValidatePackageName(name string) error {
	if strings.HasPrefix(name, "@") {
		body := name[1:]
		if body == "" {
			return &knoterr.ValidationError{FieldPath: "name", Value: name, Reason: "scope must not be empty"}
		}
		parts := strings.SplitN(body, "/", 2)
		if err := validateBareSegment("name", parts[0]); err != nil {
			return err
		}
		if len(parts) == 2 {
			return validateBareSegment("name", parts[1])
		}
		return nil
	}
	if strings.Contains(name, "@") {
		return &knoterr.ValidationError{
			FieldPath: "name",
			Value:     name,
			Reason:    "local package names must not contain '@'",
			Suggested: "prefix the name with '@scope' to mark it as a registry package",
		}
	}
	return validateBareSegment("name", name)
}

func validateBareSegment(field, name string) error {
	if name == "" {
		return &knoterr.ValidationError{FieldPath: field, Reason: "field required"}
	}
	if len(name) > maxNameLength {
		return &knoterr.ValidationError{FieldPath: field, Value: name, Reason: fmt.Sprintf("name exceeds %d characters", maxNameLength)}
	}
	if strings.ContainsAny(name, "\x00") || strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return &knoterr.ValidationError{FieldPath: field, Value: name, Reason: "name must not contain path separators, \"..\", or NUL"}
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "-") {
		return &knoterr.ValidationError{FieldPath: field, Value: name, Reason: "name must not start with '.' or '-'"}
	}
	return nil
}

// ValidateSemver enforces strict X.Y.Z[-prerelease] with no leading zeros.
func ValidateSemver(version string) error {
	core, prerelease, hasPre := strings.Cut(version, "-")
	segs := strings.Split(core, ".")
	if len(segs) != 3 {
		return &knoterr.ValidationError{
			FieldPath: "version",
			Value:     version,
			Reason:    "must be strict X.Y.Z semver",
			Suggested: "use the form 1.2.3",
		}
	}
	for _, s := range segs {
		if s == "" || !isDigits(s) {
			return &knoterr.ValidationError{FieldPath: "version", Value: version, Reason: "version segments must be numeric"}
		}
		if len(s) > 1 && s[0] == '0' {
			return &knoterr.ValidationError{FieldPath: "version", Value: version, Reason: "numeric segments must not have leading zeros"}
		}
	}
	if hasPre {
		if prerelease == "" {
			return &knoterr.ValidationError{FieldPath: "version", Value: version, Reason: "prerelease must be non-empty"}
		}
		for _, part := range strings.Split(prerelease, ".") {
			if part == "" || !prereleasePart.MatchString(part) {
				return &knoterr.ValidationError{
					FieldPath: "version",
					Value:     version,
					Reason:    "prerelease must be alphanumeric, dot, or dash separated",
				}
			}
		}
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidateTag enforces spec.md §4.1's tag shape.
func ValidateTag(tag string) error {
	if tag == "" || len(tag) > maxTagLength || !tagPattern.MatchString(tag) {
		return &knoterr.ValidationError{
			FieldPath: "tags",
			Value:     tag,
			Reason:    "tags must be lowercase alphanumeric with single internal hyphens, <= 50 chars",
		}
	}
	return nil
}

// Validate runs the full rule set for the given manifest kind.
func Validate(kind Kind, m interface{}) error {
	switch kind {
	case KindWorkspace:
		wm := m.(*WorkspaceManifest)
		if err := ValidateName("name", wm.Name); err != nil {
			return err
		}
		for appName, deps := range wm.Apps {
			if err := ValidateName("apps", appName); err != nil {
				return err
			}
			for _, p := range deps.Packages {
				if err := ValidatePackageName(p.Name); err != nil {
					return err
				}
			}
		}
		for script := range wm.Scripts {
			if err := ValidateScriptName(script); err != nil {
				return err
			}
		}
		return nil
	case KindApp:
		am := m.(*AppManifest)
		if err := ValidateName("name", am.Name); err != nil {
			return err
		}
		for _, p := range am.Packages {
			if err := ValidatePackageName(p.Name); err != nil {
				return err
			}
		}
		for script := range am.Scripts {
			if err := ValidateScriptName(script); err != nil {
				return err
			}
		}
		return nil
	case KindPackage:
		pm := m.(*PackageManifest)
		if err := ValidatePackageName(pm.Name); err != nil {
			return err
		}
		if err := ValidateSemver(pm.Version); err != nil {
			return err
		}
		if pm.Team != "" {
			if err := ValidateName("team", pm.Team); err != nil {
				return err
			}
		}
		for _, tag := range pm.Tags {
			if err := ValidateTag(tag); err != nil {
				return err
			}
		}
		for _, p := range pm.Packages {
			if err := ValidatePackageName(p.Name); err != nil {
				return err
			}
		}
		for script := range pm.Scripts {
			if err := ValidateScriptName(script); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown manifest kind %v", kind)
	}
}
