package graphstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vsavkov/devkernel/internal/graph"
)

// newTestStore returns a Store pointed at a fresh temp dir with a bd binary
// name guaranteed not to resolve on PATH, forcing every call onto the
// file-fallback path under test.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), "bd-does-not-exist-on-this-machine")
}

func TestCreateIssue_AssignsSequentialIDs(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.CreateIssue(map[string]any{"title": "first"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != "1" {
		t.Fatalf("expected first issue id 1, got %s", id1)
	}

	id2, err := s.CreateIssue(map[string]any{"title": "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id2 != "2" {
		t.Fatalf("expected second issue id 2, got %s", id2)
	}

	g, err := s.LoadGraph()
	if err != nil {
		t.Fatalf("unexpected error loading graph: %v", err)
	}
	if len(g.Issues) != 2 {
		t.Fatalf("expected 2 issues in graph, got %d", len(g.Issues))
	}
	if g.Issues["1"].Status != graph.StatusOpen {
		t.Fatalf("expected default status open, got %s", g.Issues["1"].Status)
	}
}

func TestUpdateIssue_MergesFields(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateIssue(map[string]any{"title": "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := s.UpdateIssue(id, map[string]any{"status": string(graph.StatusDone), "dk_attempts": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected update to report found=true")
	}

	g, err := s.LoadGraph()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	iss := g.Issues[id]
	if iss.Status != graph.StatusDone {
		t.Fatalf("expected status done after update, got %s", iss.Status)
	}
	if iss.Attempts != 3 {
		t.Fatalf("expected dk_attempts 3 after update, got %d", iss.Attempts)
	}
}

func TestUpdateIssue_NotFoundReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.UpdateIssue("missing", map[string]any{"status": "done"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected update of unknown id to report found=false")
	}
}

func TestAddEdge_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateIssue(map[string]any{"title": "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.CreateIssue(map[string]any{"title": "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.AddEdge("1", "2", graph.EdgeBlocks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AddEdge("1", "2", graph.EdgeBlocks); err != nil {
		t.Fatalf("unexpected error on duplicate add: %v", err)
	}

	g, err := s.LoadGraph()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Edges) != 1 {
		t.Fatalf("expected idempotent edge add to leave exactly 1 edge, got %d", len(g.Edges))
	}
}

func TestLoadGraph_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	issuesPath := filepath.Join(dir, "issues.jsonl")
	content := `{"id":"1","title":"good","status":"open","dk_attempts":0}
not valid json at all
{"id":"2","title":"also good","status":"open","dk_attempts":0}
`
	if err := os.WriteFile(issuesPath, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error writing fixture: %v", err)
	}

	s := New(dir, "bd-does-not-exist-on-this-machine")
	g, err := s.LoadGraph()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Issues) != 2 {
		t.Fatalf("expected malformed line skipped, 2 issues loaded, got %d", len(g.Issues))
	}
}

func TestLoadGraph_UnknownEdgeReferenceErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "issues.jsonl"), []byte(`{"id":"1","title":"a","status":"open"}`+"\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "deps.jsonl"), []byte(`{"from":"1","to":"nonexistent","type":"blocks"}`+"\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := New(dir, "bd-does-not-exist-on-this-machine")
	if _, err := s.LoadGraph(); err == nil {
		t.Fatal("expected error for edge referencing unknown issue")
	}
}

func TestLoadGraph_CycleDetectedErrors(t *testing.T) {
	dir := t.TempDir()
	issues := `{"id":"1","title":"a","status":"open"}
{"id":"2","title":"b","status":"open"}
`
	deps := `{"from":"1","to":"2","type":"blocks"}
{"from":"2","to":"1","type":"blocks"}
`
	if err := os.WriteFile(filepath.Join(dir, "issues.jsonl"), []byte(issues), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "deps.jsonl"), []byte(deps), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := New(dir, "bd-does-not-exist-on-this-machine")
	if _, err := s.LoadGraph(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestLoadGraph_MissingFilesTreatedAsEmpty(t *testing.T) {
	s := newTestStore(t)
	g, err := s.LoadGraph()
	if err != nil {
		t.Fatalf("unexpected error for missing jsonl files: %v", err)
	}
	if len(g.Issues) != 0 {
		t.Fatalf("expected empty graph, got %d issues", len(g.Issues))
	}
}
