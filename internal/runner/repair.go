package runner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/vsavkov/devkernel/internal/adapter"
	"github.com/vsavkov/devkernel/internal/dispatcher"
	"github.com/vsavkov/devkernel/internal/graph"
)

const (
	repairHintsStartMarker = "<!-- AUTOGEN_REPAIR -->"
	repairHintsEndMarker   = "<!-- /AUTOGEN_REPAIR -->"

	// maxActionsPerGate caps how many next_actions are rendered for a single
	// failing gate in the inline repair-hints block.
	maxActionsPerGate = 12
)

// applyInlineRepairHints writes the latest failing fab gate's next_actions
// back onto iss's own description, delimited by marker comments so a repeat
// failure replaces the previous hints in place rather than accumulating
// stale guidance (spec §4.7 item 6, Scenario F). Only fires for asset:
// issues, since fab gates are the only gates that currently emit
// next_actions; a no-op otherwise.
func (r *Runner) applyInlineRepairHints(iss *graph.Issue, result dispatcher.DispatchResult, attempt int) {
	if result.Proof == nil {
		return
	}
	if !graph.ParseRoutingHints(iss.Tags).HasAsset() {
		return
	}

	failing := collectFailingGatesWithActions(result.Proof)
	if len(failing) == 0 {
		return
	}

	newDescription := replaceRepairHintsBlock(iss.Description, renderRepairHintsBlock(attempt, failing))
	_, _ = r.ctx.GraphStore.UpdateIssue(iss.ID, map[string]any{"description": newDescription})
}

// gateActions pairs a gate name with its (already non-empty) next_actions,
// in the gate's natural reporting order.
type gateActions struct {
	gate    string
	actions []adapter.NextAction
}

// collectFailingGatesWithActions returns every gate that did not pass and
// carried at least one next_action, sorted by gate name.
func collectFailingGatesWithActions(proof *adapter.Proof) []gateActions {
	var out []gateActions
	names := make([]string, 0, len(proof.Verification.Gates))
	for name := range proof.Verification.Gates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		gate := proof.Verification.Gates[name]
		if gate.Passed {
			continue
		}
		if len(gate.NextActions) == 0 {
			continue
		}
		out = append(out, gateActions{gate: name, actions: gate.NextActions})
	}
	return out
}

// renderRepairHintsBlock renders the marker-delimited region: a heading,
// then one "### <gate>" section per failing gate with up to
// maxActionsPerGate bulleted "[P<priority>] `<fail_code>`: <instructions>"
// lines.
func renderRepairHintsBlock(attempt int, failing []gateActions) string {
	var sb strings.Builder
	sb.WriteString(repairHintsStartMarker + "\n")
	fmt.Fprintf(&sb, "## Kernel Repair Hints (Attempt %d)\n", attempt)
	sb.WriteString("These instructions were generated from the most recent failed fab gate run.\n\n")

	for _, ga := range failing {
		fmt.Fprintf(&sb, "### %s\n", ga.gate)
		actions := ga.actions
		if len(actions) > maxActionsPerGate {
			actions = actions[:maxActionsPerGate]
		}
		for _, a := range actions {
			instructions := strings.TrimSpace(a.Instructions)
			if instructions == "" {
				instructions = fmt.Sprintf("Fix %s", a.FailCode)
			}
			fmt.Fprintf(&sb, "- [P%d] `%s`: %s\n", a.Priority, a.FailCode, instructions)
		}
		sb.WriteString("\n")
	}
	sb.WriteString(repairHintsEndMarker)
	return sb.String()
}

// replaceRepairHintsBlock strips any existing marker-delimited region out of
// description, then appends the freshly rendered block, so a repeat failure
// replaces the prior hints rather than piling them up.
func replaceRepairHintsBlock(description, block string) string {
	base := strings.TrimSpace(description)
	if start := strings.Index(base, repairHintsStartMarker); start != -1 {
		if end := strings.Index(base[start:], repairHintsEndMarker); end != -1 {
			endAbs := start + end + len(repairHintsEndMarker)
			base = strings.TrimSpace(base[:start] + base[endAbs:])
		}
	}
	if base == "" {
		return block
	}
	return base + "\n\n" + block
}

// createRepairIssue synthesizes a follow-up child issue from a proof's gate
// next_actions, reserved for the case where escalation would otherwise
// discard an asset: issue's structured fab gate guidance (spec §9 Open
// Questions resolution): unlike applyInlineRepairHints, this fires once, at
// escalation time, rather than on every ordinary retry.
func (r *Runner) createRepairIssue(iss *graph.Issue, proof *adapter.Proof, actions []adapter.NextAction) {
	n := r.nextRepairNumber(iss.ID)
	batchID := uuid.New().String()[:8]

	_, _ = r.ctx.GraphStore.CreateIssue(map[string]any{
		"title":       fmt.Sprintf("[REPAIR %d] %s", n, iss.Title),
		"description": r.buildRepairBody(iss, proof, actions),
		"dk_priority": int(graph.P1),
		"dk_parent":   iss.ID,
		"tags":        []string{"repair", "repair-batch:" + batchID},
	})
}

func collectNextActions(proof *adapter.Proof) []adapter.NextAction {
	var actions []adapter.NextAction
	for _, gate := range proof.Verification.Gates {
		actions = append(actions, gate.NextActions...)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Priority < actions[j].Priority })
	return actions
}

// buildRepairBody renders a gate-by-gate pass/fail checklist followed by
// fail_code-bucketed instructions, pulling playbook text from config where a
// fail_code has a configured entry.
func (r *Runner) buildRepairBody(iss *graph.Issue, proof *adapter.Proof, actions []adapter.NextAction) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Automated repair hints for %s (workcell %s).\n\n", iss.ID, proof.WorkcellID)

	sb.WriteString("Gate summary:\n")
	names := make([]string, 0, len(proof.Verification.Gates))
	for name := range proof.Verification.Gates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		gate := proof.Verification.Gates[name]
		mark := "✓"
		switch {
		case gate.Skipped:
			mark = "-"
		case !gate.Passed:
			mark = "✗"
		}
		fmt.Fprintf(&sb, "  %s %s\n", mark, name)
	}
	sb.WriteString("\n")

	byCode := map[string][]adapter.NextAction{}
	var codes []string
	for _, a := range actions {
		if _, seen := byCode[a.FailCode]; !seen {
			codes = append(codes, a.FailCode)
		}
		byCode[a.FailCode] = append(byCode[a.FailCode], a)
	}
	sort.Strings(codes)

	for _, code := range codes {
		fmt.Fprintf(&sb, "## %s\n", code)
		if entry, ok := r.ctx.Config.RepairPlaybook[code]; ok {
			fmt.Fprintf(&sb, "%s\n", entry.Instructions)
		}
		for _, a := range byCode[code] {
			fmt.Fprintf(&sb, "- (priority %d) %s\n", a.Priority, a.Instructions)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// nextRepairNumber counts existing repair issues already filed against
// parentID, for the "[REPAIR n]" sequence number.
func (r *Runner) nextRepairNumber(parentID string) int {
	g, err := r.ctx.GraphStore.LoadGraph()
	if err != nil {
		return 1
	}
	n := 0
	for _, iss := range g.Issues {
		if iss.ParentID == parentID && iss.HasTag("repair") {
			n++
		}
	}
	return n + 1
}
