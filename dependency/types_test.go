package dependency

import "testing"

func TestSpecIsApplicableDevOptional(t *testing.T) {
	ctx := DefaultResolutionContext()
	dev := Spec{ID: Local("a"), DevOnly: true}
	opt := Spec{ID: Local("b"), Optional: true}
	plain := Spec{ID: Local("c")}

	if dev.IsApplicable(ctx) {
		t.Fatal("dev-only spec should not apply without IncludeDev")
	}
	if opt.IsApplicable(ctx) {
		t.Fatal("optional spec should not apply without IncludeOptional")
	}
	if !plain.IsApplicable(ctx) {
		t.Fatal("plain spec should always apply")
	}

	ctx.IncludeDev = true
	ctx.IncludeOptional = true
	if !dev.IsApplicable(ctx) {
		t.Fatal("dev-only spec should apply with IncludeDev")
	}
	if !opt.IsApplicable(ctx) {
		t.Fatal("optional spec should apply with IncludeOptional")
	}
}

func TestSpecMatchesConditionsPlatform(t *testing.T) {
	s := Spec{ID: Local("a"), Conditions: &Conditions{Platform: []string{"linux", "darwin"}}}
	ctx := DefaultResolutionContext()
	ctx.Platform = "windows"
	if s.MatchesConditions(ctx) {
		t.Fatal("expected mismatch for windows")
	}
	ctx.Platform = "linux"
	if !s.MatchesConditions(ctx) {
		t.Fatal("expected match for linux")
	}
}

func TestSpecMatchesConditionsNilAlwaysMatches(t *testing.T) {
	s := Spec{ID: Local("a")}
	ctx := DefaultResolutionContext()
	ctx.Platform = "anything"
	if !s.MatchesConditions(ctx) {
		t.Fatal("nil conditions should always match")
	}
}

func TestVersionApplicableDependencies(t *testing.T) {
	v := Version{
		ID: Local("pkg"),
		Dependencies: []Spec{
			{ID: Local("runtime-dep")},
		},
		DevDependencies: []Spec{
			{ID: Local("dev-dep"), DevOnly: true},
		},
		OptionalDependencies: []Spec{
			{ID: Local("opt-dep"), Optional: true},
		},
	}

	ctx := DefaultResolutionContext()
	deps := v.ApplicableDependencies(ctx)
	if len(deps) != 1 || deps[0].ID.Name != "runtime-dep" {
		t.Fatalf("expected only runtime dep, got %+v", deps)
	}

	ctx.IncludeDev = true
	ctx.IncludeOptional = true
	deps = v.ApplicableDependencies(ctx)
	if len(deps) != 3 {
		t.Fatalf("expected all 3 deps, got %d", len(deps))
	}
}

func TestIsOpenRange(t *testing.T) {
	cases := map[string]bool{
		"":          true,
		RangeLatest: true,
		">=1.0.0":   false,
		"^1.2.3":    false,
	}
	for raw, want := range cases {
		if got := IsOpenRange(raw); got != want {
			t.Errorf("IsOpenRange(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestIdString(t *testing.T) {
	if Local("utils").String() != "utils" {
		t.Fatalf("got %q", Local("utils").String())
	}
	r := Remote("utils", "npm-registry")
	if r.String() != "utils@npm-registry" {
		t.Fatalf("got %q", r.String())
	}
}
