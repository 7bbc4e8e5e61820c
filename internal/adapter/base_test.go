package adapter

import (
	"strings"
	"testing"
)

func TestBuildPrompt_IncludesTitleDescriptionAndCriteria(t *testing.T) {
	m := &Manifest{
		Issue: IssueSnapshot{
			Title:              "Fix login bug",
			Description:        "Users can't log in with SSO.",
			AcceptanceCriteria: []string{"SSO login succeeds", "No regression for password login"},
			ContextFiles:       []string{"internal/auth/sso.go"},
		},
	}
	prompt := buildPrompt(m)
	for _, want := range []string{"Fix login bug", "Users can't log in with SSO.", "SSO login succeeds", "internal/auth/sso.go"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected prompt to contain %q, got:\n%s", want, prompt)
		}
	}
}

func TestBuildPrompt_OmitsEmptySections(t *testing.T) {
	m := &Manifest{Issue: IssueSnapshot{Title: "t", Description: "d"}}
	prompt := buildPrompt(m)
	if strings.Contains(prompt, "## Acceptance criteria") {
		t.Fatal("did not expect acceptance criteria section without any criteria")
	}
	if strings.Contains(prompt, "## Context files") {
		t.Fatal("did not expect context files section without any files")
	}
}

func TestTrailingJSON_ParsesFinalLine(t *testing.T) {
	stdout := "Some transcript text\nmore output\n" + `{"confidence":0.85,"tokens_used":1200,"cost":0.42}`
	got := trailingJSON(stdout)
	if got == nil {
		t.Fatal("expected trailing JSON object to be parsed")
	}
	if got["confidence"].(float64) != 0.85 {
		t.Fatalf("expected confidence 0.85, got %v", got["confidence"])
	}
}

func TestTrailingJSON_NoTrailingObjectReturnsNil(t *testing.T) {
	got := trailingJSON("just a plain transcript with no json tail")
	if got != nil {
		t.Fatalf("expected nil for non-JSON trailing line, got %v", got)
	}
}

func TestTrailingJSON_IgnoresBlankTrailingLines(t *testing.T) {
	stdout := `{"confidence":0.5}` + "\n\n\n"
	got := trailingJSON(stdout)
	if got == nil {
		t.Fatal("expected trailing JSON object parsed even with trailing blank lines")
	}
}
