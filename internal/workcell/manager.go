// Package workcell implements the workcell manager (spec §4.2): isolated
// per-task working copies of the repository, modeled as git worktrees.
package workcell

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/vsavkov/devkernel/internal/gitutil"
)

// Workcell is one isolated working copy: a dedicated branch checked out into
// its own directory, at a fixed base commit.
type Workcell struct {
	ID           string
	IssueID      string
	SpeculateTag string
	Path         string
	Branch       string
	BaseSHA      string
}

// Manager creates and destroys workcells and applies winning patches back to
// main. apply_patch is serialized across concurrent merges via applyMu, per
// spec §4.2/§5's "cross-process exclusion on main" requirement — within a
// single process a mutex is the equivalent; a real deployment would pair this
// with a filesystem lock for cross-process exclusion.
type Manager struct {
	repoRoot   string
	workDir    string
	archiveDir string
	mainBranch string

	applyMu sync.Mutex
}

// New returns a Manager. workDir holds live workcell checkouts; archiveDir
// holds retained logs after cleanup(keep_logs=true).
func New(repoRoot, workDir, archiveDir string) *Manager {
	return &Manager{
		repoRoot:   repoRoot,
		workDir:    workDir,
		archiveDir: archiveDir,
		mainBranch: "main",
	}
}

// RepoPath returns the repository root the workcells are created from.
func (m *Manager) RepoPath() string { return m.repoRoot }

// Create allocates a fresh worktree on branch wc/<issueID>/<workcellID> at
// the current main tip, with a logs/ subtree and empty manifest/proof slots.
func (m *Manager) Create(issueID, speculateTag string) (*Workcell, error) {
	id := newWorkcellID(issueID, speculateTag)
	branch := fmt.Sprintf("wc/%s/%s", issueID, id)

	baseSHA, err := gitutil.HeadSHA(m.repoRoot)
	if err != nil {
		return nil, fmt.Errorf("workcell create: reading main HEAD: %w", err)
	}
	if err := gitutil.CreateBranchAt(m.repoRoot, branch, baseSHA); err != nil {
		return nil, fmt.Errorf("workcell create: creating branch %s: %w", branch, err)
	}

	path := filepath.Join(m.workDir, id)
	if err := gitutil.AddWorktree(m.repoRoot, path, branch); err != nil {
		return nil, fmt.Errorf("workcell create: adding worktree: %w", err)
	}

	logsDir := filepath.Join(path, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("workcell create: creating logs dir: %w", err)
	}
	for _, slot := range []string{"manifest.json", "proof.json"} {
		p := filepath.Join(path, slot)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
				return nil, fmt.Errorf("workcell create: initializing %s: %w", slot, err)
			}
		}
	}

	return &Workcell{
		ID:           id,
		IssueID:      issueID,
		SpeculateTag: speculateTag,
		Path:         path,
		Branch:       branch,
		BaseSHA:      baseSHA,
	}, nil
}

func newWorkcellID(issueID, speculateTag string) string {
	suffix := speculateTag
	if suffix == "" {
		suffix = ulid.Make().String()[:10]
	}
	return fmt.Sprintf("wc-%s-%s", issueID, suffix)
}

// Cleanup removes the worktree. If keepLogs, the logs/ subtree is copied
// under the central archive directory before removal.
func (m *Manager) Cleanup(wc *Workcell, keepLogs bool) error {
	if keepLogs {
		if err := m.archiveLogs(wc); err != nil {
			return fmt.Errorf("workcell cleanup: archiving logs: %w", err)
		}
	}
	// Best-effort: discard any uncommitted state left by a failed or losing
	// speculate candidate before tearing the worktree down, so a dirty tree
	// never ends up the reason `worktree remove` has to fight with git.
	_ = gitutil.ResetHard(wc.Path, wc.BaseSHA)
	if err := gitutil.RemoveWorktree(m.repoRoot, wc.Path); err != nil {
		return fmt.Errorf("workcell cleanup: removing worktree: %w", err)
	}
	// Branch deletion is best-effort: a merged branch is safe to drop, and an
	// unmerged (losing-candidate) branch is no longer reachable from any live
	// workcell once its worktree is gone.
	_ = gitutil.DeleteBranch(m.repoRoot, wc.Branch)
	return nil
}

func (m *Manager) archiveLogs(wc *Workcell) error {
	src := filepath.Join(wc.Path, "logs")
	dst := filepath.Join(m.archiveDir, wc.ID, "logs")
	return copyDir(src, dst)
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// ApplyPatch checks out main and merges the workcell's branch with a merge
// commit (--no-ff). Serialized against concurrent merges on the same repo.
func (m *Manager) ApplyPatch(wc *Workcell) (string, error) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if err := gitutil.CheckoutBranch(m.repoRoot, m.mainBranch); err != nil {
		return "", fmt.Errorf("apply_patch: checking out %s: %w", m.mainBranch, err)
	}
	message := fmt.Sprintf("Merge %s", wc.Branch)
	sha, err := gitutil.MergeNoFF(m.repoRoot, wc.Branch, message)
	if err != nil {
		return "", fmt.Errorf("apply_patch: merging %s: %w", wc.Branch, err)
	}
	return sha, nil
}
