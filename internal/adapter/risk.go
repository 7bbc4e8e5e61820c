package adapter

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// sensitivePatterns are substrings (matched case-insensitively against
// modified file paths) that force a risk classification of at least "high",
// per adapter contract item 5.
var sensitivePatterns = []string{
	"auth", "security", "password", "secret", "key",
	"migration", "schema", "database", "payment", "billing",
}

// MatchForbiddenPaths returns the subset of modified that matches any
// forbidden doublestar glob pattern. Patterns without glob metacharacters
// match any path that contains them as a substring, which covers the
// path-prefix convention manifest.issue.forbidden_paths uses in practice
// (e.g. ".github/").
func MatchForbiddenPaths(modified, forbidden []string) []string {
	var violations []string
	for _, path := range modified {
		if matchesAny(path, forbidden) {
			violations = append(violations, path)
		}
	}
	return violations
}

func matchesAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchesPattern(path, pattern) {
			return true
		}
	}
	return false
}

func matchesPattern(path, pattern string) bool {
	if strings.ContainsAny(pattern, "*?[") {
		ok, err := doublestar.Match(pattern, path)
		return err == nil && ok
	}
	// Plain pattern: treat as a substring match, so a prefix such as
	// ".github/" matches ".github/workflows/deploy.yml" (and also
	// "docs/.github/x").
	return strings.HasPrefix(path, pattern) || strings.Contains(path, pattern)
}

// classifyRisk implements adapter contract item 5: critical on any forbidden
// path violation; else high on any sensitive-pattern match or >500 changed
// lines; else medium on >100; else low.
func classifyRisk(patch PatchInfo) string {
	if len(patch.ForbiddenPathViolations) > 0 {
		return "critical"
	}
	for _, path := range patch.FilesModified {
		lower := strings.ToLower(path)
		for _, pattern := range sensitivePatterns {
			if strings.Contains(lower, pattern) {
				return "high"
			}
		}
	}
	total := patch.Insertions + patch.Deletions
	switch {
	case total > 500:
		return "high"
	case total > 100:
		return "medium"
	default:
		return "low"
	}
}
