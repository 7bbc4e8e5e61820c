package runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/vsavkov/devkernel/internal/adapter"
	"github.com/vsavkov/devkernel/internal/dispatcher"
	"github.com/vsavkov/devkernel/internal/graph"
	"github.com/vsavkov/devkernel/internal/graphstore"
	"github.com/vsavkov/devkernel/internal/kernel"
)

func newTestRunner(t *testing.T) (*Runner, *graphstore.Store) {
	t.Helper()
	store := graphstore.New(t.TempDir(), "bd-does-not-exist-on-this-machine")
	ctx := &kernel.Context{
		Config:     &kernel.RunConfig{},
		Clock:      kernel.SystemClock{},
		GraphStore: store,
	}
	events := graphstore.NewEventLog(t.TempDir())
	return &Runner{ctx: ctx, events: events, running: map[string]bool{}}, store
}

func TestRestrictToSubgraph_KeepsTargetAndTransitiveBlockers(t *testing.T) {
	issues := []*graph.Issue{
		{ID: "a", Status: graph.StatusOpen},
		{ID: "b", Status: graph.StatusOpen},
		{ID: "c", Status: graph.StatusOpen},
		{ID: "unrelated", Status: graph.StatusOpen},
	}
	edges := []graph.Edge{
		{From: "a", To: "b", Type: graph.EdgeBlocks},
		{From: "b", To: "c", Type: graph.EdgeBlocks},
	}
	g := graph.NewGraph(issues, edges)

	sub := restrictToSubgraph(g, "c")
	if len(sub.Issues) != 3 {
		t.Fatalf("expected 3 issues (c, b, a) kept, got %d: %+v", len(sub.Issues), sub.Issues)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := sub.Issues[id]; !ok {
			t.Fatalf("expected %s kept in restricted subgraph", id)
		}
	}
	if _, ok := sub.Issues["unrelated"]; ok {
		t.Fatal("did not expect unrelated issue in restricted subgraph")
	}
}

func TestRestrictToSubgraph_UnknownTargetYieldsEmptyGraph(t *testing.T) {
	g := graph.NewGraph([]*graph.Issue{{ID: "a", Status: graph.StatusOpen}}, nil)
	sub := restrictToSubgraph(g, "does-not-exist")
	if len(sub.Issues) != 0 {
		t.Fatalf("expected empty subgraph for unknown target, got %d issues", len(sub.Issues))
	}
}

func TestLoadManifest_ReadsPersistedManifest(t *testing.T) {
	dir := t.TempDir()
	b, err := json.Marshal(map[string]any{"schema_version": "1.0.0", "workcell_id": "wc-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), b, 0o644); err != nil {
		t.Fatal(err)
	}

	m := loadManifest(dir)
	if m.WorkcellID != "wc-1" {
		t.Fatalf("expected workcell_id wc-1, got %s", m.WorkcellID)
	}
}

func TestLoadManifest_MissingFileReturnsZeroValue(t *testing.T) {
	m := loadManifest(t.TempDir())
	if m == nil {
		t.Fatal("expected a non-nil zero-value manifest")
	}
	if m.WorkcellID != "" {
		t.Fatalf("expected empty workcell id, got %s", m.WorkcellID)
	}
}

func TestLoadManifest_MalformedFileReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := loadManifest(dir)
	if m.WorkcellID != "" {
		t.Fatalf("expected zero-value manifest on parse failure, got %+v", m)
	}
}

func TestSyntheticResult_CarriesIssueIDAndError(t *testing.T) {
	res := syntheticResult("42", "no winner")
	if res.Success {
		t.Fatal("expected synthetic result to report failure")
	}
	if res.IssueID != "42" || res.Error != "no winner" {
		t.Fatalf("expected issue id/error threaded through, got %+v", res)
	}
	if res.Workcell != nil {
		t.Fatal("expected no workcell on a synthetic result")
	}
}

func TestEscalate_TagsIncludeNeedsHumanAndInheritsPriority(t *testing.T) {
	r, store := newTestRunner(t)
	id, err := store.CreateIssue(map[string]any{
		"title":       "render a tree",
		"description": "make a tree asset",
		"dk_priority": int(graph.P2),
		"tags":        []string{"asset:prop"},
	})
	if err != nil {
		t.Fatal(err)
	}
	g, _ := store.LoadGraph()
	iss := g.Issues[id]

	r.escalate(iss, dispatcher.DispatchResult{}, "exhausted max attempts")

	g2, _ := store.LoadGraph()
	orig := g2.Issues[id]
	if orig.Status != graph.StatusEscalated {
		t.Fatalf("expected original issue status escalated, got %s", orig.Status)
	}

	var escalation *graph.Issue
	for _, other := range g2.Issues {
		if other.ParentID == id && other.HasTag("escalation") {
			escalation = other
		}
	}
	if escalation == nil {
		t.Fatal("expected an escalation child issue to be created")
	}
	if !escalation.HasTag("needs-human") {
		t.Fatalf("expected needs-human tag on escalation issue, got %v", escalation.Tags)
	}
	if !escalation.HasTag("asset:prop") {
		t.Fatalf("expected original tags carried forward, got %v", escalation.Tags)
	}
	if escalation.Priority != graph.P2 {
		t.Fatalf("expected inherited priority P2, got %s", escalation.Priority)
	}
}

func TestEscalate_AssetIssueWithNextActionsAlsoFilesRepairIssue(t *testing.T) {
	r, store := newTestRunner(t)
	id, err := store.CreateIssue(map[string]any{
		"title": "render a tree",
		"tags":  []string{"asset:prop"},
	})
	if err != nil {
		t.Fatal(err)
	}
	g, _ := store.LoadGraph()
	iss := g.Issues[id]

	proof := &adapter.Proof{
		WorkcellID: "wc-1",
		Verification: adapter.Verification{
			Gates: map[string]adapter.GateResult{
				"fab-godot": {
					Passed:      false,
					NextActions: []adapter.NextAction{{Priority: 1, FailCode: "import_failed", Instructions: "re-run import"}},
				},
			},
		},
	}

	r.escalate(iss, dispatcher.DispatchResult{Proof: proof}, "exhausted max attempts")

	g2, _ := store.LoadGraph()
	found := false
	for _, other := range g2.Issues {
		if other.ParentID == id && other.HasTag("repair") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a [REPAIR] child issue to be filed for an asset issue with leftover next_actions")
	}
}

func TestHandleFailure_RequeuesToReadyBelowMaxAttempts(t *testing.T) {
	r, store := newTestRunner(t)
	id, err := store.CreateIssue(map[string]any{
		"title":           "plain task",
		"dk_max_attempts": 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	g, _ := store.LoadGraph()
	iss := g.Issues[id]

	r.handleFailure(iss, dispatcher.DispatchResult{Error: "boom"}, nil)

	g2, _ := store.LoadGraph()
	if g2.Issues[id].Status != graph.StatusReady {
		t.Fatalf("expected status ready after a retryable failure, got %s", g2.Issues[id].Status)
	}
}
