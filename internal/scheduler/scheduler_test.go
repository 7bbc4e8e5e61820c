package scheduler

import (
	"testing"

	"github.com/vsavkov/devkernel/internal/graph"
	"github.com/vsavkov/devkernel/internal/kernel"
)

func baseConfig() *kernel.RunConfig {
	return &kernel.RunConfig{
		MaxConcurrentWorkcells: 4,
		MaxConcurrentTokens:    1_000_000,
	}
}

func TestSchedule_RanksByCriticalPathLength(t *testing.T) {
	// a blocks b: a sits on a longer chain (longest_path 2) than the
	// standalone issue c (longest_path 1), so a ranks first once b is
	// excluded from the ready set (it's not ready until a is done).
	issues := []*graph.Issue{
		{ID: "a", Status: graph.StatusOpen, EstimatedTokens: 100},
		{ID: "b", Status: graph.StatusOpen, EstimatedTokens: 100},
		{ID: "c", Status: graph.StatusOpen, EstimatedTokens: 100},
	}
	edges := []graph.Edge{{From: "a", To: "b", Type: graph.EdgeBlocks}}
	g := graph.NewGraph(issues, edges)

	sched := Schedule(g, nil, baseConfig())
	if len(sched.ScheduledLanes) != 2 {
		t.Fatalf("expected a and c scheduled (b not ready), got %d", len(sched.ScheduledLanes))
	}
	if sched.ScheduledLanes[0].ID != "a" {
		t.Fatalf("expected a ranked first for sitting on the longer chain, got %s", sched.ScheduledLanes[0].ID)
	}
}

func TestSchedule_SlotLimitSkipsExcess(t *testing.T) {
	issues := []*graph.Issue{
		{ID: "a", Status: graph.StatusOpen},
		{ID: "b", Status: graph.StatusOpen},
		{ID: "c", Status: graph.StatusOpen},
	}
	g := graph.NewGraph(issues, nil)
	cfg := baseConfig()
	cfg.MaxConcurrentWorkcells = 2

	sched := Schedule(g, nil, cfg)
	if len(sched.ScheduledLanes) != 2 {
		t.Fatalf("expected 2 scheduled lanes under slot limit, got %d", len(sched.ScheduledLanes))
	}
	if len(sched.SkippedIssues) != 1 {
		t.Fatalf("expected 1 skipped issue, got %d", len(sched.SkippedIssues))
	}
	if sched.SkippedIssues[0].Reason != SkipSlotLimit {
		t.Fatalf("expected slot_limit skip reason, got %s", sched.SkippedIssues[0].Reason)
	}
}

func TestSchedule_TokenLimitSkipsExcess(t *testing.T) {
	issues := []*graph.Issue{
		{ID: "a", Status: graph.StatusOpen, EstimatedTokens: 800, Priority: graph.P0},
		{ID: "b", Status: graph.StatusOpen, EstimatedTokens: 800, Priority: graph.P1},
	}
	g := graph.NewGraph(issues, nil)
	cfg := baseConfig()
	cfg.MaxConcurrentTokens = 1000

	sched := Schedule(g, nil, cfg)
	if len(sched.ScheduledLanes) != 1 {
		t.Fatalf("expected 1 scheduled lane under token limit, got %d", len(sched.ScheduledLanes))
	}
	if sched.ScheduledLanes[0].ID != "a" {
		t.Fatalf("expected higher priority issue a admitted first, got %s", sched.ScheduledLanes[0].ID)
	}
}

func TestSchedule_CycleDetected(t *testing.T) {
	issues := []*graph.Issue{
		{ID: "a", Status: graph.StatusOpen},
		{ID: "b", Status: graph.StatusOpen},
	}
	edges := []graph.Edge{
		{From: "a", To: "b", Type: graph.EdgeBlocks},
		{From: "b", To: "a", Type: graph.EdgeBlocks},
	}
	g := graph.NewGraph(issues, edges)

	sched := Schedule(g, nil, baseConfig())
	if !sched.CycleError {
		t.Fatal("expected cycle error to be reported")
	}
	if len(sched.ScheduledLanes) != 0 {
		t.Fatal("expected no lanes scheduled on cycle error")
	}
}

func TestSchedule_ForceSpeculateMarksEveryLane(t *testing.T) {
	issues := []*graph.Issue{{ID: "a", Status: graph.StatusOpen}}
	g := graph.NewGraph(issues, nil)
	cfg := baseConfig()
	cfg.ForceSpeculate = true

	sched := Schedule(g, nil, cfg)
	if !sched.SpeculateIssues["a"] {
		t.Fatal("expected force_speculate to mark every scheduled lane")
	}
}

func TestSchedule_SpeculateRequiresHighRiskOnCriticalPath(t *testing.T) {
	issues := []*graph.Issue{
		{ID: "a", Status: graph.StatusOpen, Risk: graph.RiskLow, MaxAttempts: 4},
		{ID: "b", Status: graph.StatusOpen, Risk: graph.RiskCritical, MaxAttempts: 4},
	}
	// b blocks a, so only b is ready, and b has a dependent (a).
	edges := []graph.Edge{{From: "b", To: "a", Type: graph.EdgeBlocks}}
	g := graph.NewGraph(issues, edges)

	sched := Schedule(g, nil, baseConfig())
	if sched.SpeculateIssues["b"] != true {
		t.Fatalf("expected critical-risk issue with a dependent to be marked speculate, schedule=%+v", sched)
	}
}
