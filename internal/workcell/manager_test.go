package workcell

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test",
			"GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test",
			"GIT_COMMITTER_EMAIL=test@test",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.name", "test")
	run("config", "user.email", "test@test")
	if err := os.WriteFile(filepath.Join(dir, "initial.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	repo := initTestRepo(t)
	workDir := filepath.Join(t.TempDir(), "workcells")
	archiveDir := filepath.Join(t.TempDir(), "archive")
	return New(repo, workDir, archiveDir), repo
}

func TestCreate_ChecksOutIsolatedWorktree(t *testing.T) {
	m, repo := newTestManager(t)

	wc, err := m.Create("42", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wc.IssueID != "42" {
		t.Fatalf("expected issue id 42, got %s", wc.IssueID)
	}
	if wc.Branch != "wc/42/"+wc.ID {
		t.Fatalf("expected branch wc/42/%s, got %s", wc.ID, wc.Branch)
	}
	if _, err := os.Stat(wc.Path); err != nil {
		t.Fatalf("expected worktree dir to exist: %v", err)
	}
	for _, slot := range []string{"manifest.json", "proof.json"} {
		if _, err := os.Stat(filepath.Join(wc.Path, slot)); err != nil {
			t.Fatalf("expected %s slot initialized: %v", slot, err)
		}
	}

	cmd := exec.Command("git", "-C", repo, "worktree", "list")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git worktree list: %v", err)
	}
	if !strings.Contains(string(out), wc.Path) {
		t.Fatalf("expected repo's worktree list to include %s, got:\n%s", wc.Path, out)
	}
}

func TestCreate_SpeculateTagUsedAsIDSuffix(t *testing.T) {
	m, _ := newTestManager(t)
	wc, err := m.Create("42", "spec-claude-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wc.ID != "wc-42-spec-claude-1" {
		t.Fatalf("expected speculate tag used verbatim in workcell id, got %s", wc.ID)
	}
}

func TestCleanup_RemovesWorktreeAndBranch(t *testing.T) {
	m, repo := newTestManager(t)
	wc, err := m.Create("1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Cleanup(wc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(wc.Path); !os.IsNotExist(err) {
		t.Fatalf("expected worktree dir removed, stat err = %v", err)
	}

	cmd := exec.Command("git", "-C", repo, "rev-parse", "--verify", wc.Branch)
	if err := cmd.Run(); err == nil {
		t.Fatalf("expected branch %s deleted after cleanup", wc.Branch)
	}
}

func TestCleanup_KeepLogsArchivesBeforeRemoval(t *testing.T) {
	m, _ := newTestManager(t)
	wc, err := m.Create("1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logFile := filepath.Join(wc.Path, "logs", "claude-stdout.log")
	if err := os.WriteFile(logFile, []byte("output"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.Cleanup(wc, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	archived := filepath.Join(m.archiveDir, wc.ID, "logs", "claude-stdout.log")
	b, err := os.ReadFile(archived)
	if err != nil {
		t.Fatalf("expected archived log at %s: %v", archived, err)
	}
	if string(b) != "output" {
		t.Fatalf("expected archived log content preserved, got %q", b)
	}
}

func TestApplyPatch_MergesWorkcellBranchIntoMain(t *testing.T) {
	m, repo := newTestManager(t)
	wc, err := m.Create("1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(wc.Path, "change.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	commitInWorktree(t, wc.Path, "change.txt", "issue 1 change")

	if _, err := m.ApplyPatch(wc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(repo, "change.txt")); err != nil {
		t.Fatalf("expected merged file present on main: %v", err)
	}
}

func commitInWorktree(t *testing.T, dir, file, message string) {
	t.Helper()
	for _, args := range [][]string{{"add", "-A"}, {"commit", "-m", message}} {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test",
			"GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test",
			"GIT_COMMITTER_EMAIL=test@test",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
}
