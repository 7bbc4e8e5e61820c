// Package runner implements the Runner (spec §4.7): the outer control loop
// coordinating Scheduler, Dispatcher and Verifier against the graph store,
// handling success/failure transitions, repair hints and escalation.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vsavkov/devkernel/internal/adapter"
	"github.com/vsavkov/devkernel/internal/dispatcher"
	"github.com/vsavkov/devkernel/internal/graph"
	"github.com/vsavkov/devkernel/internal/graphstore"
	"github.com/vsavkov/devkernel/internal/kernel"
	"github.com/vsavkov/devkernel/internal/scheduler"
	"github.com/vsavkov/devkernel/internal/verifier"
)

// Options configures one Runner invocation, mirroring the CLI surface
// (spec §6): target issue, single-cycle, watch mode, dry-run.
type Options struct {
	TargetIssue string
	SingleCycle bool
	Watch       bool
	DryRun      bool
	WatchDelay  time.Duration
}

// Runner is the top-level cycle loop.
type Runner struct {
	ctx     *kernel.Context
	disp    *dispatcher.Dispatcher
	verify  *verifier.Verifier
	events  *graphstore.EventLog
	opts    Options
	running map[string]bool
	mu      sync.Mutex
}

// New returns a Runner.
func New(ctx *kernel.Context, disp *dispatcher.Dispatcher, verify *verifier.Verifier, events *graphstore.EventLog, opts Options) *Runner {
	if opts.WatchDelay <= 0 {
		opts.WatchDelay = 5 * time.Second
	}
	return &Runner{
		ctx:     ctx,
		disp:    disp,
		verify:  verify,
		events:  events,
		opts:    opts,
		running: map[string]bool{},
	}
}

// Run drives the cycle loop until a stop condition: empty schedule in
// non-watch mode, single_cycle, or ctx cancellation. Ctrl-C is expected to
// cancel ctx; in-flight dispatches are allowed to finish, no new cycle starts.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		hadWork, err := r.runCycle(ctx)
		if err != nil {
			return err
		}
		if r.opts.SingleCycle || r.opts.DryRun {
			return nil
		}
		if !hadWork {
			if !r.opts.Watch {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.opts.WatchDelay):
			}
		}
	}
}

// runCycle performs one cycle: load graph, schedule, dispatch, report
// whether any lanes were scheduled.
func (r *Runner) runCycle(ctx context.Context) (bool, error) {
	g, err := r.ctx.GraphStore.LoadGraph()
	if err != nil {
		return false, fmt.Errorf("graph data error: %w", err)
	}
	if r.opts.TargetIssue != "" {
		g = restrictToSubgraph(g, r.opts.TargetIssue)
	}

	r.mu.Lock()
	running := make(map[string]bool, len(r.running))
	for id := range r.running {
		running[id] = true
	}
	r.mu.Unlock()

	sched := scheduler.Schedule(g, running, r.ctx.Config)
	if sched.CycleError {
		_ = r.events.Append(graphstore.Event{
			Timestamp: r.ctx.Clock.Now(),
			Type:      "cycle_error",
			Data:      map[string]any{"reason": "cycle detected in blocks edges"},
		})
		return false, nil
	}

	if len(sched.ScheduledLanes) == 0 {
		return false, nil
	}
	if r.opts.DryRun {
		return true, nil
	}

	r.dispatchParallel(ctx, sched)
	return true, nil
}

// dispatchParallel fans out one goroutine per admitted issue (speculate or
// single), joining on an errgroup. No per-lane error aborts the others: each
// lane's outcome is handled and logged independently. Lanes run on a context
// detached from ctx's cancellation, so a Ctrl-C lets them finish.
func (r *Runner) dispatchParallel(ctx context.Context, sched scheduler.Schedule) {
	ctx = context.WithoutCancel(ctx)
	var eg errgroup.Group
	for _, iss := range sched.ScheduledLanes {
		iss := iss
		speculate := sched.SpeculateIssues[iss.ID]
		eg.Go(func() error {
			r.markRunning(iss.ID, true)
			defer r.markRunning(iss.ID, false)

			if speculate {
				r.dispatchSpeculateIssue(ctx, iss)
			} else {
				r.dispatchSingleIssue(ctx, iss)
			}
			return nil
		})
	}
	_ = eg.Wait()
}

func (r *Runner) markRunning(id string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if running {
		r.running[id] = true
	} else {
		delete(r.running, id)
	}
}

func (r *Runner) dispatchSingleIssue(ctx context.Context, iss *graph.Issue) {
	r.setStatus(iss.ID, graph.StatusRunning)
	_ = r.events.Append(graphstore.Event{Timestamp: r.ctx.Clock.Now(), Type: "started", IssueID: iss.ID})

	result := r.disp.DispatchSingle(iss)
	if result.Proof == nil {
		r.handleFailure(iss, result, []string{result.Error})
		return
	}

	manifest := loadManifest(result.Workcell.Path)
	r.verify.Verify(result.Proof, manifest, result.Workcell.Path)

	if result.Proof.Verification.AllPassed {
		r.handleSuccess(iss, result)
		return
	}
	r.handleFailure(iss, result, result.Proof.Verification.BlockingFailures)
}

func (r *Runner) dispatchSpeculateIssue(ctx context.Context, iss *graph.Issue) {
	r.setStatus(iss.ID, graph.StatusRunning)
	_ = r.events.Append(graphstore.Event{Timestamp: r.ctx.Clock.Now(), Type: "started", IssueID: iss.ID})

	maxParallel := r.ctx.Config.Speculation.MaxSpeculateParallel
	results, _ := r.disp.DispatchSpeculate(ctx, iss, maxParallel)

	var candidates []verifier.Candidate
	for _, res := range results {
		if res.Proof == nil || res.Workcell == nil {
			continue
		}
		manifest := loadManifest(res.Workcell.Path)
		r.verify.Verify(res.Proof, manifest, res.Workcell.Path)
		candidates = append(candidates, verifier.Candidate{WorkcellID: res.WorkcellID, Proof: res.Proof})
	}

	winner := verifier.Vote(candidates, r.ctx.Config.Speculation.VoteThreshold)
	if winner == nil {
		switch r.ctx.Config.Speculation.OnNoWinner {
		case kernel.OnNoWinnerFallback:
			winner = verifier.Fallback(candidates)
		case kernel.OnNoWinnerEscalate:
			r.escalate(iss, dispatcher.DispatchResult{}, "speculate vote found no winner")
			r.cleanupAll(results, "")
			return
		default: // fail
			r.handleFailure(iss, syntheticResult(iss.ID, "speculate vote found no winner"), nil)
			r.cleanupAll(results, "")
			return
		}
	}

	if winner == nil {
		r.handleFailure(iss, syntheticResult(iss.ID, "no successful speculate candidate"), nil)
		r.cleanupAll(results, "")
		return
	}

	var winningResult dispatcher.DispatchResult
	for _, res := range results {
		if res.WorkcellID == winner.WorkcellID {
			winningResult = res
			break
		}
	}
	r.handleSuccess(iss, winningResult)
	r.cleanupAll(results, winner.WorkcellID)
}

// syntheticResult builds a DispatchResult carrying only an error string, used
// when speculate dispatch has no candidate to report through handleFailure.
func syntheticResult(issueID, errMsg string) dispatcher.DispatchResult {
	return dispatcher.DispatchResult{Success: false, IssueID: issueID, Error: errMsg}
}

func (r *Runner) cleanupAll(results []dispatcher.DispatchResult, exceptWorkcellID string) {
	for _, res := range results {
		if res.Workcell == nil || res.WorkcellID == exceptWorkcellID {
			continue
		}
		_ = r.ctx.WorkcellManager.Cleanup(res.Workcell, false)
	}
}

// handleSuccess applies the winning patch to main and marks the issue done.
// If the merge itself fails (e.g. main moved and conflicts), the outcome is
// demoted to a failure rather than silently losing the work.
func (r *Runner) handleSuccess(iss *graph.Issue, result dispatcher.DispatchResult) {
	if _, err := r.disp.ApplyPatch(result); err != nil {
		r.ctx.Logger.Error().Err(err).Str("issue_id", iss.ID).Msg("apply_patch failed on otherwise-passing candidate")
		r.handleFailure(iss, result, []string{"apply_patch_failed"})
		return
	}
	r.setStatus(iss.ID, graph.StatusDone)
	_ = r.events.Append(graphstore.Event{
		Timestamp: r.ctx.Clock.Now(),
		Type:      "succeeded",
		IssueID:   iss.ID,
		Data:      map[string]any{"toolchain": result.Toolchain, "workcell_id": result.WorkcellID},
	})
	if result.Workcell != nil {
		_ = r.ctx.WorkcellManager.Cleanup(result.Workcell, true)
	}
}

// handleFailure records the failed attempt, surfaces repair hints back onto
// the issue, and either requeues it for another attempt or escalates once
// max_attempts is exhausted.
func (r *Runner) handleFailure(iss *graph.Issue, result dispatcher.DispatchResult, blockingFailures []string) {
	attempts := iss.Attempts + 1
	_ = r.events.Append(graphstore.Event{
		Timestamp: r.ctx.Clock.Now(),
		Type:      "failed",
		IssueID:   iss.ID,
		Data:      map[string]any{"error": result.Error, "blocking_failures": blockingFailures, "attempt": attempts},
	})

	if result.Workcell != nil {
		r.applyInlineRepairHints(iss, result, attempts)
		_ = r.ctx.WorkcellManager.Cleanup(result.Workcell, true)
	}

	if iss.MaxAttempts > 0 && attempts >= iss.MaxAttempts {
		reason := "exhausted max attempts"
		if len(blockingFailures) > 0 {
			reason = fmt.Sprintf("exhausted max attempts after failing: %s", strings.Join(blockingFailures, ", "))
		}
		r.escalate(iss, result, reason)
		return
	}

	_, _ = r.ctx.GraphStore.UpdateIssue(iss.ID, map[string]any{
		"status":      string(graph.StatusReady),
		"dk_attempts": attempts,
	})
}

// escalate creates a human-facing escalation issue and marks the original
// issue escalated so the scheduler stops offering it. It runs when
// max_attempts is exhausted and when a speculate vote finds no winner under
// on_no_winner=escalate. Escalation is the one case where a full child repair
// issue is synthesized (as opposed to the inline repair-hints block
// applyInlineRepairHints writes on ordinary retries): for an asset: issue
// whose final proof still carries next_actions, a separate [REPAIR n] issue
// is filed with them. The escalation issue body itself does not include the
// next_actions.
func (r *Runner) escalate(iss *graph.Issue, result dispatcher.DispatchResult, reason string) {
	tags := append([]string{}, iss.Tags...)
	tags = append(tags, "escalation", "needs-human")
	sort.Strings(tags)
	tags = dedupeStrings(tags)

	_, _ = r.ctx.GraphStore.CreateIssue(map[string]any{
		"title":       fmt.Sprintf("[ESCALATION] %s", iss.Title),
		"description": r.buildEscalationBody(iss, reason),
		"dk_priority": int(iss.Priority),
		"dk_parent":   iss.ID,
		"tags":        tags,
	})

	// An asset: issue that still carries fab gate next_actions at the point
	// of escalation would otherwise lose that structured guidance once the
	// issue moves out of the normal retry loop; file a playbook-driven
	// repair child so it isn't discarded.
	if result.Proof != nil && graph.ParseRoutingHints(iss.Tags).HasAsset() {
		if actions := collectNextActions(result.Proof); len(actions) > 0 {
			r.createRepairIssue(iss, result.Proof, actions)
		}
	}

	_, _ = r.ctx.GraphStore.UpdateIssue(iss.ID, map[string]any{"status": string(graph.StatusEscalated)})
	_ = r.events.Append(graphstore.Event{
		Timestamp: r.ctx.Clock.Now(),
		Type:      "escalated",
		IssueID:   iss.ID,
		Data:      map[string]any{"reason": reason},
	})
}

// buildEscalationBody mirrors the original/failure-details/action-required
// template: original issue section, failure details, action required.
func (r *Runner) buildEscalationBody(iss *graph.Issue, reason string) string {
	description := iss.Description
	if description == "" {
		description = "(no description)"
	}
	return fmt.Sprintf(
		"Automated processing failed after %d attempts.\n\n"+
			"## Original Issue #%s\n%s\n\n"+
			"## Failure Details\n%s\n\n"+
			"## Action Required\nManual review and intervention needed.",
		iss.MaxAttempts, iss.ID, description, reason,
	)
}

// dedupeStrings removes adjacent duplicates from a sorted slice in place.
func dedupeStrings(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, s := range sorted {
		if i > 0 && s == prev {
			continue
		}
		out = append(out, s)
		prev = s
	}
	return out
}

func (r *Runner) setStatus(id string, status graph.Status) {
	_, _ = r.ctx.GraphStore.UpdateIssue(id, map[string]any{"status": string(status)})
}

// loadManifest reads manifest.json back out of a workcell, tolerating a
// missing or malformed file by returning a zero-value Manifest (quality
// gates then just come up empty rather than aborting verification).
func loadManifest(workcellPath string) *adapter.Manifest {
	b, err := os.ReadFile(filepath.Join(workcellPath, "manifest.json"))
	if err != nil {
		return &adapter.Manifest{}
	}
	var m adapter.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return &adapter.Manifest{}
	}
	return &m
}

// restrictToSubgraph narrows g down to targetID plus every transitive
// blocker, for `devkernel run --issue <id>`: only that issue's dependency
// chain is ever scheduled, everything else in the store is ignored for the
// run.
func restrictToSubgraph(g *graph.Graph, targetID string) *graph.Graph {
	keep := map[string]bool{}
	var collect func(id string)
	collect = func(id string) {
		if keep[id] {
			return
		}
		if _, ok := g.Issues[id]; !ok {
			return
		}
		keep[id] = true
		for _, b := range g.Blockers(id) {
			collect(b)
		}
	}
	collect(targetID)

	issues := make([]*graph.Issue, 0, len(keep))
	for id := range keep {
		issues = append(issues, g.Issues[id])
	}
	var edges []graph.Edge
	for _, e := range g.Edges {
		if keep[e.From] && keep[e.To] {
			edges = append(edges, e)
		}
	}
	return graph.NewGraph(issues, edges)
}
