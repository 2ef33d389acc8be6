package interpolate

import (
	"errors"
	"strings"
	"testing"

	"github.com/knotspace/knot/knoterr"
)

func scopeWith(vars map[string]string) *Scope {
	s := NewScope(false)
	s.PushLayer("test", vars)
	s.PushLayer("builtin", Builtins())
	return s
}

func TestInterpolateBasic(t *testing.T) {
	scope := scopeWith(map[string]string{"name": "test-project", "version": "1.0.0"})
	out, err := Interpolate(`Project ${name} version ${version}`, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Project test-project version 1.0.0" {
		t.Fatalf("got %q", out)
	}
}

func TestInterpolateNested(t *testing.T) {
	scope := scopeWith(map[string]string{
		"base_name": "my-app",
		"env":       "prod",
		"full_name": "${base_name}-${env}",
	})
	out, err := Interpolate(`name: ${full_name}`, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "name: my-app-prod" {
		t.Fatalf("got %q", out)
	}
}

func TestInterpolateUndefinedVariable(t *testing.T) {
	scope := scopeWith(nil)
	_, err := Interpolate(`name: ${undefined_var}`, scope)
	if err == nil {
		t.Fatal("expected error")
	}
	var uv *knoterr.UndefinedVariableError
	if !errors.As(err, &uv) {
		t.Fatalf("expected UndefinedVariableError, got %T: %v", err, err)
	}
	if uv.Name != "undefined_var" {
		t.Fatalf("got %q", uv.Name)
	}
}

func TestInterpolateCircular(t *testing.T) {
	scope := scopeWith(map[string]string{
		"var1": "${var2}",
		"var2": "${var1}",
	})
	_, err := Interpolate(`${var1}`, scope)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "circular") {
		t.Fatalf("expected circular variable error, got %v", err)
	}
}

func TestInterpolateBuiltins(t *testing.T) {
	scope := scopeWith(nil)
	out, err := Interpolate(`${OS}/${ARCH}`, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "/") {
		t.Fatalf("got %q", out)
	}
}

func TestInterpolatePrecedence(t *testing.T) {
	scope := NewScope(false)
	scope.PushLayer("package", map[string]string{"env": "pkg"})
	scope.PushLayer("app", map[string]string{"env": "app"})
	scope.PushLayer("project", map[string]string{"env": "project"})

	out, err := Interpolate(`${env}`, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "pkg" {
		t.Fatalf("expected package layer to win, got %q", out)
	}

	_, origin, ok := scope.Lookup("env")
	if !ok || origin != "package" {
		t.Fatalf("expected origin package, got %q", origin)
	}
}

func TestInterpolateFixedPoint(t *testing.T) {
	scope := scopeWith(map[string]string{"name": "stable"})
	once, err := Interpolate(`${name}`, scope)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := Interpolate(once, scope)
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Fatalf("interpolation is not a fixed point: %q != %q", once, twice)
	}
}

func TestValidateVariables(t *testing.T) {
	scope := NewScope(false)
	scope.PushLayer("test", map[string]string{"defined_var": "x"})
	undefined := Validate(`${defined_var} and ${undefined_var}`, scope)
	if len(undefined) != 1 || undefined[0] != "undefined_var" {
		t.Fatalf("got %v", undefined)
	}
}

func TestInterpolateMalformedSyntaxLeftAsIs(t *testing.T) {
	scope := scopeWith(map[string]string{"valid_var": "1.0.0"})
	out, err := Interpolate(`name: $incomplete, version: ${valid_var}`, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "$incomplete") {
		t.Fatalf("expected malformed token preserved, got %q", out)
	}
	if !strings.Contains(out, "1.0.0") {
		t.Fatalf("got %q", out)
	}
}
