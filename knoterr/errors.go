// Package knoterr carries the user-visible error taxonomy used across the
// core. Each exported type implements error and Render, so that downstream
// tooling can grep on the concrete type (or a stable Code()) per the
// "error-rendering surface must be stable" design note, instead of on the
// Error() string.
package knoterr

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable, greppable identifier for an error category.
type Code string

const (
	CodeVersionConflict       Code = "version_conflict"
	CodeCircularDependency    Code = "circular_dependency"
	CodePackageNotFound       Code = "package_not_found"
	CodeNetworkError          Code = "network_error"
	CodeInvalidVersion        Code = "invalid_version"
	CodeConfigurationError    Code = "configuration_error"
	CodeCacheError            Code = "cache_error"
	CodeIOError               Code = "io_error"
	CodeAliasConflict         Code = "alias_conflict"
	CodeUndefinedVariable     Code = "undefined_variable"
	CodeCircularVariable      Code = "circular_variable"
	CodeInterpolationDiverges Code = "interpolation_diverges"
	CodeValidationError       Code = "validation_error"
	CodeResolutionTooDeep     Code = "resolution_too_deep"
)

// Renderable is satisfied by every error type in this package: Render
// produces the full multi-line, user-facing explanation, while Error()
// remains a single-line summary suitable for log lines and wrapping.
type Renderable interface {
	error
	Code() Code
	Render() string
}

// VersionConstraint pairs a version range's textual form with the package
// that requested it, for VersionConflictError's conflict list.
type VersionConstraint struct {
	Range     string
	Requester string
}

type VersionConflictError struct {
	Package     string
	Conflicts   []VersionConstraint
	Suggestion  string
}

func (e *VersionConflictError) Code() Code { return CodeVersionConflict }

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict for package %q", e.Package)
}

func (e *VersionConflictError) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version conflict for package %q:\n", e.Package)
	for _, c := range e.Conflicts {
		fmt.Fprintf(&b, "  - %s (required by %s)\n", c.Range, c.Requester)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\nsuggestion: %s\n", e.Suggestion)
	} else {
		b.WriteString("\nsuggestion: align the requested version ranges or pin a version that satisfies all of them.\n")
	}
	return b.String()
}

type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Code() Code { return CodeCircularDependency }

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Cycle, " -> "))
}

func (e *CircularDependencyError) Render() string {
	return fmt.Sprintf(
		"circular dependency detected:\n  %s\n\nsuggestion: extract the shared functionality into a separate package to break the cycle.\n",
		strings.Join(e.Cycle, " -> "),
	)
}

type PackageNotFoundError struct {
	Package    string
	SearchedIn []string
	Similar    []string
}

func (e *PackageNotFoundError) Code() Code { return CodePackageNotFound }

func (e *PackageNotFoundError) Error() string {
	return fmt.Sprintf("package %q not found", e.Package)
}

func (e *PackageNotFoundError) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "package %q not found.\n\nsearched in:\n", e.Package)
	for _, loc := range e.SearchedIn {
		fmt.Fprintf(&b, "  - %s\n", loc)
	}
	if len(e.Similar) > 0 {
		b.WriteString("\ndid you mean:\n")
		for _, s := range e.Similar {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}
	return b.String()
}

type NetworkError struct {
	Package        string
	Err            error
	RetrySuggestion string
}

func (e *NetworkError) Code() Code { return CodeNetworkError }

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %q: %v", e.Package, e.Err)
}

func (e *NetworkError) Render() string {
	hint := e.RetrySuggestion
	if hint == "" {
		hint = "check your network connection and retry; the request may also be retried automatically."
	}
	return fmt.Sprintf("network error downloading %q: %v\n\nsuggestion: %s\n", e.Package, e.Err, hint)
}

type InvalidVersionError struct {
	Package string
	Value   string
	Reason  string
}

func (e *InvalidVersionError) Code() Code { return CodeInvalidVersion }

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q for package %q: %s", e.Value, e.Package, e.Reason)
}

func (e *InvalidVersionError) Render() string {
	return e.Error() + "\n"
}

type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Code() Code { return CodeConfigurationError }

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error in field %q: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Render() string { return e.Error() + "\n" }

type CacheError struct {
	Operation string
	Reason    string
}

func (e *CacheError) Code() Code { return CodeCacheError }

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache error during %s: %s", e.Operation, e.Reason)
}

func (e *CacheError) Render() string { return e.Error() + "\n" }

type IOError struct {
	Operation string
	Path      string
	Reason    string
}

func (e *IOError) Code() Code { return CodeIOError }

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("io error during %s: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("io error during %s (%s): %s", e.Operation, e.Path, e.Reason)
}

func (e *IOError) Render() string { return e.Error() + "\n" }

type AliasConflictError struct {
	App     string
	Target  string
	Sources []string
}

func (e *AliasConflictError) Code() Code { return CodeAliasConflict }

func (e *AliasConflictError) Error() string {
	return fmt.Sprintf("alias conflict in app %q: %q is claimed by %s", e.App, e.Target, strings.Join(e.Sources, ", "))
}

func (e *AliasConflictError) Render() string {
	return fmt.Sprintf(
		"app %q has two dependencies mapped to %q:\n  - %s\n\nsuggestion: give one of them a distinct alias.\n",
		e.App, e.Target, strings.Join(e.Sources, "\n  - "),
	)
}

type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Code() Code { return CodeUndefinedVariable }

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("variable %q is not defined", e.Name)
}

func (e *UndefinedVariableError) Render() string {
	return fmt.Sprintf("variable %q is not defined.\n\nsuggestion: add it under `variables:` or export it in the environment.\n", e.Name)
}

type CircularVariableError struct {
	Chain []string
}

func (e *CircularVariableError) Code() Code { return CodeCircularVariable }

func (e *CircularVariableError) Error() string {
	return fmt.Sprintf("circular variable reference: %s", strings.Join(e.Chain, " -> "))
}

func (e *CircularVariableError) Render() string {
	return fmt.Sprintf("circular variable reference:\n  %s\n", strings.Join(e.Chain, " -> "))
}

type InterpolationDivergesError struct {
	Passes int
}

func (e *InterpolationDivergesError) Code() Code { return CodeInterpolationDiverges }

func (e *InterpolationDivergesError) Error() string {
	return fmt.Sprintf("interpolation did not converge after %d passes", e.Passes)
}

func (e *InterpolationDivergesError) Render() string { return e.Error() + "\n" }

// ResolutionTooDeepError reports that the dependency closure exceeded
// ResolutionContext.MaxDepth while being walked breadth-first.
type ResolutionTooDeepError struct {
	Package  string
	Depth    int
	MaxDepth int
}

func (e *ResolutionTooDeepError) Code() Code { return CodeResolutionTooDeep }

func (e *ResolutionTooDeepError) Error() string {
	return fmt.Sprintf("dependency chain through %q exceeded max depth %d (reached %d)", e.Package, e.MaxDepth, e.Depth)
}

func (e *ResolutionTooDeepError) Render() string {
	return fmt.Sprintf(
		"dependency chain through %q exceeded the maximum depth of %d (reached %d).\n\nsuggestion: check for an unintended dependency cycle, or raise max_depth if this graph is genuinely this deep.\n",
		e.Package, e.MaxDepth, e.Depth,
	)
}

type ValidationError struct {
	FieldPath string
	Value     string
	Reason    string
	Suggested string
}

func (e *ValidationError) Code() Code { return CodeValidationError }

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.FieldPath, e.Reason)
}

func (e *ValidationError) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid value for %s: %s\n", e.FieldPath, e.Reason)
	if e.Value != "" {
		fmt.Fprintf(&b, "  got: %s\n", e.Value)
	}
	if e.Suggested != "" {
		fmt.Fprintf(&b, "  suggestion: %s\n", e.Suggested)
	}
	return b.String()
}

// ExitCode maps an error produced anywhere in the core to one of the
// process exit codes named in spec.md §6. Errors that don't implement
// Renderable map to the generic failure code. Uses errors.As rather than a
// direct type assertion so a Renderable wrapped via fmt.Errorf("...: %w", err)
// (as interpolate's resolveVariable does for nested variable lookups) is
// still found and routed to its real exit code instead of falling through
// to the generic one.
func ExitCode(err error) int {
	var r Renderable
	if !errors.As(err, &r) {
		return 1
	}
	switch r.Code() {
	case CodeValidationError, CodeAliasConflict:
		return 2
	case CodeVersionConflict, CodeCircularDependency, CodePackageNotFound,
		CodeInvalidVersion, CodeUndefinedVariable, CodeCircularVariable,
		CodeInterpolationDiverges, CodeResolutionTooDeep:
		return 3
	case CodeNetworkError:
		return 4
	default:
		return 1
	}
}
