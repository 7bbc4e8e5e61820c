// Package scheduler implements the Scheduler (spec §4.4): a pure function of
// (Graph, RunningSet, Config) that computes the ready set, ranks it by
// critical path, applies slot/token admission, and marks speculate
// candidates. No I/O, no global state — every input is a parameter.
package scheduler

import (
	"sort"

	"github.com/vsavkov/devkernel/internal/graph"
	"github.com/vsavkov/devkernel/internal/kernel"
)

// SkipReason is why a ready issue was not admitted.
type SkipReason string

const (
	SkipSlotLimit  SkipReason = "slot_limit"
	SkipTokenLimit SkipReason = "token_limit"
)

// Skipped pairs a skipped issue with the reason it wasn't admitted.
type Skipped struct {
	IssueID string
	Reason  SkipReason
}

// Schedule is the Scheduler's full output for one cycle.
type Schedule struct {
	ScheduledLanes  []*graph.Issue
	SpeculateIssues map[string]bool // subset of ScheduledLanes marked speculate
	SkippedIssues   []Skipped
	ReadyIssues     []*graph.Issue
	CriticalPath    []string // issue ids in critical-path rank order
	CycleError      bool
}

// Schedule computes one cycle's schedule. running holds issue ids currently
// being dispatched by a prior, still-in-flight cycle step; they're excluded
// from the ready set.
func Schedule(g *graph.Graph, running map[string]bool, cfg *kernel.RunConfig) Schedule {
	if g.HasCycle() {
		return Schedule{CycleError: true}
	}

	ready := g.ReadySet(running)
	ranked := rankByCriticalPath(g, ready)

	out := Schedule{
		ReadyIssues:     ready,
		SpeculateIssues: map[string]bool{},
	}
	for _, id := range ranked {
		out.CriticalPath = append(out.CriticalPath, id)
	}

	admittedTokens := 0
	for _, id := range ranked {
		iss := g.Issues[id]
		if len(out.ScheduledLanes) >= cfg.MaxConcurrentWorkcells {
			out.SkippedIssues = append(out.SkippedIssues, Skipped{IssueID: id, Reason: SkipSlotLimit})
			continue
		}
		if admittedTokens+iss.EstimatedTokens > cfg.MaxConcurrentTokens {
			out.SkippedIssues = append(out.SkippedIssues, Skipped{IssueID: id, Reason: SkipTokenLimit})
			continue
		}
		out.ScheduledLanes = append(out.ScheduledLanes, iss)
		admittedTokens += iss.EstimatedTokens
	}

	for _, iss := range out.ScheduledLanes {
		if shouldSpeculate(g, iss, cfg) {
			out.SpeculateIssues[iss.ID] = true
		}
	}

	return out
}

// rankByCriticalPath sorts ready issues descending by longest_path(v) = 1 +
// max(longest_path(u)) over dependents of v, breaking ties by priority, then
// risk, then estimated tokens ascending, then issue id ascending. The last
// key gives a total order, so repeated invocations on identical inputs
// produce identical output even though the ready set arrives in map order.
func rankByCriticalPath(g *graph.Graph, ready []*graph.Issue) []string {
	memo := map[string]int{}
	var longestPath func(id string) int
	longestPath = func(id string) int {
		if v, ok := memo[id]; ok {
			return v
		}
		memo[id] = 1 // guard against cycles revisiting mid-computation
		best := 0
		for _, dep := range g.Dependents(id) {
			if l := longestPath(dep); l > best {
				best = l
			}
		}
		result := 1 + best
		memo[id] = result
		return result
	}

	sorted := make([]*graph.Issue, len(ready))
	copy(sorted, ready)
	lengths := make(map[string]int, len(sorted))
	for _, iss := range sorted {
		lengths[iss.ID] = longestPath(iss.ID)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if lengths[a.ID] != lengths[b.ID] {
			return lengths[a.ID] > lengths[b.ID]
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority // P0 > P1 > ...
		}
		if graph.RiskRank(a.Risk) != graph.RiskRank(b.Risk) {
			return graph.RiskRank(a.Risk) > graph.RiskRank(b.Risk) // critical > high > ...
		}
		if a.EstimatedTokens != b.EstimatedTokens {
			return a.EstimatedTokens < b.EstimatedTokens // cheaper preferred
		}
		return a.ID < b.ID
	})

	ids := make([]string, len(sorted))
	for i, iss := range sorted {
		ids[i] = iss.ID
	}
	return ids
}

// shouldSpeculate implements the speculate decision (spec §4.4 step 4): mark
// speculate iff force_speculate OR (on critical path AND risk in
// {high,critical} AND attempts < max_attempts/2). "On critical path" is
// approximated as having at least one dependent, since the critical path
// proper is a ranking, not a fixed membership set; an issue with no
// dependents has longest_path == 1 and is never materially on a chain.
func shouldSpeculate(g *graph.Graph, iss *graph.Issue, cfg *kernel.RunConfig) bool {
	if cfg.ForceSpeculate {
		return true
	}
	onCriticalPath := len(g.Dependents(iss.ID)) > 0
	highRisk := iss.Risk == graph.RiskHigh || iss.Risk == graph.RiskCritical
	underHalfAttempts := iss.Attempts < iss.MaxAttempts/2
	return onCriticalPath && highRisk && underHalfAttempts
}
