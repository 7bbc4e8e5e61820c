package gitutil

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func runGit(dir string, args ...string) (string, string, error) {
	// Disable Git's background auto-maintenance so concurrent workcell operations
	// stay deterministic and don't spawn long-running gc helpers mid-cycle.
	base := []string{
		"-C", dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	cmd := exec.Command("git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

func IsRepo(dir string) bool {
	out, _, err := runGit(dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

func HeadSHA(dir string) (string, error) {
	out, _, err := runGit(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func StatusPorcelain(dir string) (string, error) {
	out, _, err := runGit(dir, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	return out, nil
}

func IsClean(dir string) (bool, error) {
	out, err := StatusPorcelain(dir)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

func CreateBranchAt(dir, branch, baseSHA string) error {
	// Create or reset branch to baseSHA.
	_, _, err := runGit(dir, "branch", "--force", branch, baseSHA)
	return err
}

func AddWorktree(repoDir, worktreeDir, branch string) error {
	_, _, err := runGit(repoDir, "worktree", "add", worktreeDir, branch)
	return err
}

func RemoveWorktree(repoDir, worktreeDir string) error {
	_, _, err := runGit(repoDir, "worktree", "remove", "--force", worktreeDir)
	return err
}

// DeleteBranch force-deletes a local branch. Best-effort: callers typically
// swallow the error since a branch left behind after worktree removal is
// harmless clutter, not a correctness problem.
func DeleteBranch(repoDir, branch string) error {
	_, _, err := runGit(repoDir, "branch", "-D", branch)
	return err
}

func CheckoutBranch(worktreeDir, branch string) error {
	_, _, err := runGit(worktreeDir, "switch", branch)
	return err
}

func ResetHard(worktreeDir, sha string) error {
	_, _, err := runGit(worktreeDir, "reset", "--hard", sha)
	return err
}

func AddAll(worktreeDir string) error {
	_, _, err := runGit(worktreeDir, "add", "-A")
	return err
}

func CommitAllowEmpty(worktreeDir, message string) (string, error) {
	if err := AddAll(worktreeDir); err != nil {
		return "", err
	}
	_, _, err := runGit(worktreeDir, "commit", "--allow-empty", "-m", message)
	if err != nil {
		// If identity is missing, retry once with an explicit fallback committer identity
		// (without mutating repo config).
		if strings.Contains(err.Error(), "Author identity unknown") ||
			strings.Contains(err.Error(), "Please tell me who you are") ||
			strings.Contains(err.Error(), "unable to auto-detect email address") {
			_, _, err = runGit(
				worktreeDir,
				"-c", "user.name=devkernel",
				"-c", "user.email=devkernel@local",
				"commit", "--allow-empty", "-m", message,
			)
		}
		if err != nil {
			return "", err
		}
	}
	return HeadSHA(worktreeDir)
}

// MergeNoFF merges otherRef into the currently checked out branch with an explicit
// merge commit, even when a fast-forward would be possible. Used for workcell
// patch application, where a merge commit recording the winning branch is required.
func MergeNoFF(dir, otherRef, message string) (string, error) {
	_, _, err := runGit(dir, "merge", "--no-ff", "-m", message, otherRef)
	if err != nil {
		return "", err
	}
	return HeadSHA(dir)
}

// MergeBase returns the merge base commit of a and b.
func MergeBase(dir, a, b string) (string, error) {
	out, _, err := runGit(dir, "merge-base", a, b)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DiffStat holds the summary counts from `git diff --shortstat`.
type DiffStat struct {
	FilesChanged int
	Insertions   int
	Deletions    int
}

var diffStatPattern = regexp.MustCompile(`(\d+) files? changed(?:, (\d+) insertions?\(\+\))?(?:, (\d+) deletions?\(-\))?`)

// DiffStatBetween returns file/insertion/deletion counts between baseRef and
// the working tree (committed and uncommitted changes to tracked files).
func DiffStatBetween(dir, baseRef string) (DiffStat, error) {
	out, _, err := runGit(dir, "diff", "--shortstat", baseRef)
	if err != nil {
		return DiffStat{}, err
	}
	return parseDiffStat(out), nil
}

func parseDiffStat(out string) DiffStat {
	m := diffStatPattern.FindStringSubmatch(strings.TrimSpace(out))
	var ds DiffStat
	if m == nil {
		return ds
	}
	ds.FilesChanged, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		ds.Insertions, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		ds.Deletions, _ = strconv.Atoi(m[3])
	}
	return ds
}

// DiffNameOnly returns tracked file paths changed between baseRef and the
// working tree (committed or not) in the given directory.
func DiffNameOnly(dir, baseRef string) ([]string, error) {
	out, _, err := runGit(dir, "diff", "--name-only", baseRef)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	return files, nil
}

func ensureUserIdentity(worktreeDir string) error {
	name, _, err := runGit(worktreeDir, "config", "--get", "user.name")
	if err != nil {
		// config --get exits 1 when missing; treat as empty.
		name = ""
	}
	email, _, err := runGit(worktreeDir, "config", "--get", "user.email")
	if err != nil {
		email = ""
	}
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		_, _, _ = runGit(worktreeDir, "config", "user.name", "devkernel")
	}
	if email == "" {
		_, _, _ = runGit(worktreeDir, "config", "user.email", "devkernel@local")
	}
	return nil
}
