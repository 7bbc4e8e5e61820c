package adapter

import "testing"

func TestMatchForbiddenPaths_GlobAndPrefix(t *testing.T) {
	modified := []string{".github/workflows/deploy.yml", "internal/foo.go", "secrets/prod.env"}
	forbidden := []string{".github/", "secrets/**"}

	got := MatchForbiddenPaths(modified, forbidden)
	if len(got) != 2 {
		t.Fatalf("expected 2 violations, got %v", got)
	}
}

func TestMatchForbiddenPaths_NoMatch(t *testing.T) {
	got := MatchForbiddenPaths([]string{"internal/foo.go"}, []string{".github/"})
	if len(got) != 0 {
		t.Fatalf("expected no violations, got %v", got)
	}
}

func TestClassifyRisk_ForbiddenPathIsCritical(t *testing.T) {
	patch := PatchInfo{ForbiddenPathViolations: []string{".github/workflows/ci.yml"}}
	if got := classifyRisk(patch); got != "critical" {
		t.Fatalf("expected critical, got %s", got)
	}
}

func TestClassifyRisk_SensitivePatternIsHigh(t *testing.T) {
	patch := PatchInfo{FilesModified: []string{"internal/auth/login.go"}, Insertions: 5, Deletions: 1}
	if got := classifyRisk(patch); got != "high" {
		t.Fatalf("expected high for auth-path change, got %s", got)
	}
}

func TestClassifyRisk_LargeDiffIsHigh(t *testing.T) {
	patch := PatchInfo{Insertions: 400, Deletions: 200}
	if got := classifyRisk(patch); got != "high" {
		t.Fatalf("expected high for >500 changed lines, got %s", got)
	}
}

func TestClassifyRisk_MediumAndLow(t *testing.T) {
	if got := classifyRisk(PatchInfo{Insertions: 60, Deletions: 50}); got != "medium" {
		t.Fatalf("expected medium for 110 changed lines, got %s", got)
	}
	if got := classifyRisk(PatchInfo{Insertions: 10, Deletions: 5}); got != "low" {
		t.Fatalf("expected low for 15 changed lines, got %s", got)
	}
}
