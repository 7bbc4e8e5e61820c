// Package dispatcher implements the Dispatcher (spec §4.5): manifest
// construction, toolchain routing, single/speculate dispatch, and patch
// application.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vsavkov/devkernel/internal/adapter"
	"github.com/vsavkov/devkernel/internal/graph"
	"github.com/vsavkov/devkernel/internal/kernel"
	"github.com/vsavkov/devkernel/internal/schema"
	"github.com/vsavkov/devkernel/internal/workcell"
)

// DispatchResult is the per-workcell outcome of a single dispatch.
type DispatchResult struct {
	Success      bool
	Proof        *adapter.Proof
	WorkcellID   string
	IssueID      string
	Toolchain    string
	DurationMs   int64
	Error        string
	SpeculateTag string
	Workcell     *workcell.Workcell
}

// Dispatcher routes admitted issues to toolchain adapters and drives
// workcell lifecycle around each dispatch.
type Dispatcher struct {
	ctx      *kernel.Context
	registry *adapter.Registry
	wcm      *workcell.Manager

	// setupMu serializes speculate candidates' workcell creation (git branch
	// + worktree add) while their adapter runs proceed concurrently.
	setupMu sync.Mutex
}

// New returns a Dispatcher.
func New(ctx *kernel.Context, registry *adapter.Registry, wcm *workcell.Manager) *Dispatcher {
	return &Dispatcher{ctx: ctx, registry: registry, wcm: wcm}
}

// DispatchSingle creates one workcell, routes to a toolchain, and executes
// synchronously. success = proof.status in {success, partial}.
func (d *Dispatcher) DispatchSingle(iss *graph.Issue) DispatchResult {
	toolchain := d.routeToolchain(iss)
	if toolchain == "" {
		return DispatchResult{
			Success: false,
			IssueID: iss.ID,
			Error:   "No adapter available for dispatch",
		}
	}

	wc, err := d.wcm.Create(iss.ID, "")
	if err != nil {
		return DispatchResult{Success: false, IssueID: iss.ID, Toolchain: toolchain, Error: err.Error()}
	}

	manifest := d.buildManifest(iss, wc, toolchain, false, "")
	if err := writeManifest(wc.Path, manifest); err != nil {
		return DispatchResult{Success: false, IssueID: iss.ID, Toolchain: toolchain, Workcell: wc, Error: err.Error()}
	}

	tc := d.toolchainConfig(toolchain)
	started := time.Now()
	proof := d.registry.Get(toolchain).ExecuteSync(manifest, wc.Path, tc.Timeout())
	duration := time.Since(started).Milliseconds()

	return DispatchResult{
		Success:    proof.Status == adapter.StatusSuccess || proof.Status == adapter.StatusPartial,
		Proof:      proof,
		WorkcellID: wc.ID,
		IssueID:    iss.ID,
		Toolchain:  toolchain,
		DurationMs: duration,
		Workcell:   wc,
	}
}

// DispatchSpeculate creates one workcell per speculate candidate (see
// buildSpeculateCandidates: up to maxParallel, repeating available toolchains
// when needed) and runs them concurrently to completion: no early-stop,
// since voting needs every candidate's verified proof.
func (d *Dispatcher) DispatchSpeculate(ctx context.Context, iss *graph.Issue, maxParallel int) ([]DispatchResult, error) {
	available := d.registry.AvailableToolchains()
	if len(available) == 0 {
		return []DispatchResult{{
			Success: false,
			IssueID: iss.ID,
			Error:   "No adapter available for dispatch",
		}}, nil
	}

	candidates := buildSpeculateCandidates(available, maxParallel)

	results := make([]DispatchResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			results[i] = d.dispatchSpeculateCandidate(gctx, iss, cand)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// speculateCandidate is one adapter slot in a speculate dispatch.
type speculateCandidate struct {
	Toolchain string
	Tag       string
}

// buildSpeculateCandidates expands the available-adapter list into up to
// maxParallel candidates, repeating adapters with distinguishing tags when
// maxParallel exceeds adapter diversity (spec §9's decoupling direction,
// recorded as an Open Question resolution).
func buildSpeculateCandidates(available []string, maxParallel int) []speculateCandidate {
	if maxParallel <= 0 || maxParallel > len(available)*4 {
		maxParallel = len(available)
	}
	var out []speculateCandidate
	counts := map[string]int{}
	for len(out) < maxParallel {
		name := available[len(out)%len(available)]
		counts[name]++
		tag := fmt.Sprintf("spec-%s-%d", name, counts[name])
		out = append(out, speculateCandidate{Toolchain: name, Tag: tag})
	}
	return out
}

func (d *Dispatcher) dispatchSpeculateCandidate(ctx context.Context, iss *graph.Issue, candidate speculateCandidate) DispatchResult {
	toolchain, tag := candidate.Toolchain, candidate.Tag

	d.setupMu.Lock()
	wc, err := d.wcm.Create(iss.ID, tag)
	d.setupMu.Unlock()
	if err != nil {
		return DispatchResult{Success: false, IssueID: iss.ID, Toolchain: toolchain, SpeculateTag: tag, Error: err.Error()}
	}

	manifest := d.buildManifest(iss, wc, toolchain, true, tag)
	if err := writeManifest(wc.Path, manifest); err != nil {
		return DispatchResult{Success: false, IssueID: iss.ID, Toolchain: toolchain, SpeculateTag: tag, Workcell: wc, Error: err.Error()}
	}

	tc := d.toolchainConfig(toolchain)
	started := time.Now()
	proof := d.registry.Get(toolchain).ExecuteAsync(ctx, manifest, wc.Path, tc.Timeout())
	duration := time.Since(started).Milliseconds()

	return DispatchResult{
		Success:      proof.Status == adapter.StatusSuccess || proof.Status == adapter.StatusPartial,
		Proof:        proof,
		WorkcellID:   wc.ID,
		IssueID:      iss.ID,
		Toolchain:    toolchain,
		DurationMs:   duration,
		SpeculateTag: tag,
		Workcell:     wc,
	}
}

// ApplyPatch merges the winning workcell's branch into main.
func (d *Dispatcher) ApplyPatch(result DispatchResult) (string, error) {
	if result.Workcell == nil {
		return "", fmt.Errorf("apply_patch: no workcell on dispatch result")
	}
	return d.wcm.ApplyPatch(result.Workcell)
}

// routeToolchain implements spec §4.5 toolchain routing: tool_hint first,
// else priority order, else none.
func (d *Dispatcher) routeToolchain(iss *graph.Issue) string {
	return d.registry.Route(iss.ToolHint)
}

func (d *Dispatcher) toolchainConfig(name string) kernel.ToolchainConfig {
	if tc, ok := d.ctx.Config.Toolchains[name]; ok {
		return tc
	}
	return kernel.ToolchainConfig{}
}

func writeManifest(workcellPath string, m *adapter.Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := schema.ValidateManifest(b); err != nil {
		return fmt.Errorf("manifest failed schema validation: %w", err)
	}
	return os.WriteFile(filepath.Join(workcellPath, "manifest.json"), b, 0o644)
}
