package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/vsavkov/devkernel/internal/gitutil"
	"github.com/vsavkov/devkernel/internal/procutil"
)

// cliSpec is the fixed shape every CLI-driven adapter (Claude, Codex,
// OpenCode) shares: a binary name, a command-line builder, an output
// parser and a cost table. Concrete adapters are thin configuration over
// this shared executor, matching spec §9's "tagged-variant plus dispatch
// table" guidance and the teacher's ToolHandler/codergen_router subprocess
// plumbing (CommandContext rooted at the workcell, captured stdout/stderr).
type cliSpec struct {
	name         string
	binary       string
	defaultModel string
	costPerMTok  map[string]float64 // USD per 1M tokens, keyed by model
	buildArgs    func(promptFile, model string, extra []string) []string
	// extraArgs derives adapter-specific extra args from the manifest (e.g.
	// the asset category for the Blender adapter). Optional.
	extraArgs func(manifest *Manifest) []string
}

// cliAdapter implements Toolchain for any cliSpec.
type cliAdapter struct {
	spec cliSpec
}

func newCLIAdapter(spec cliSpec) *cliAdapter {
	return &cliAdapter{spec: spec}
}

func (a *cliAdapter) Name() string { return a.spec.name }

func (a *cliAdapter) Available() bool {
	_, err := exec.LookPath(a.spec.binary)
	return err == nil
}

func (a *cliAdapter) HealthCheck() bool {
	cmd := exec.Command(a.spec.binary, "--version")
	return cmd.Run() == nil
}

func (a *cliAdapter) ExecuteSync(manifest *Manifest, workcellPath string, timeout time.Duration) *Proof {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.run(ctx, manifest, workcellPath, timeout)
}

func (a *cliAdapter) ExecuteAsync(ctx context.Context, manifest *Manifest, workcellPath string, timeout time.Duration) *Proof {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.run(runCtx, manifest, workcellPath, timeout)
}

func (a *cliAdapter) EstimateCost(manifest *Manifest) CostEstimate {
	model := manifest.ToolchainConfig.Model
	if model == "" {
		model = a.spec.defaultModel
	}
	costPerM, ok := a.spec.costPerMTok[model]
	if !ok {
		costPerM = a.spec.costPerMTok[a.spec.defaultModel]
	}
	tokens := manifest.Issue.EstimatedTokens
	if tokens == 0 {
		tokens = 10000
	}
	return CostEstimate{
		Tokens:  tokens,
		Dollars: (float64(tokens) / 1_000_000) * costPerM,
		Model:   model,
	}
}

func (a *cliAdapter) run(ctx context.Context, manifest *Manifest, workcellPath string, timeout time.Duration) *Proof {
	started := time.Now().UTC()

	logsDir := filepath.Join(workcellPath, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return a.errorProof(manifest, started, fmt.Errorf("creating logs dir: %w", err))
	}

	promptFile := filepath.Join(workcellPath, "prompt.md")
	if err := os.WriteFile(promptFile, []byte(buildPrompt(manifest)), 0o644); err != nil {
		return a.errorProof(manifest, started, fmt.Errorf("writing prompt: %w", err))
	}

	model := manifest.ToolchainConfig.Model
	if model == "" {
		model = a.spec.defaultModel
	}
	var extra []string
	if a.spec.extraArgs != nil {
		extra = a.spec.extraArgs(manifest)
	}
	args := a.spec.buildArgs(promptFile, model, extra)

	cmd := exec.CommandContext(ctx, a.spec.binary, args...)
	cmd.Dir = workcellPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return a.errorProof(manifest, started, fmt.Errorf("launching %s: %w", a.spec.binary, err))
	}
	pid := cmd.Process.Pid
	runErr := cmd.Wait()
	completed := time.Now().UTC()

	_ = os.WriteFile(filepath.Join(logsDir, a.spec.name+"-stdout.log"), stdout.Bytes(), 0o644)
	_ = os.WriteFile(filepath.Join(logsDir, a.spec.name+"-stderr.log"), stderr.Bytes(), 0o644)

	if ctx.Err() == context.DeadlineExceeded {
		// CommandContext already sent the kill signal; confirm the child
		// actually exited rather than leaving an orphaned/zombie process
		// behind in the workcell.
		stalled := procutil.PIDAlive(pid)
		return a.timeoutProof(manifest, started, completed, timeout, stalled)
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return a.errorProof(manifest, started, fmt.Errorf("waiting for %s: %w", a.spec.binary, runErr))
		}
	}

	patch := a.getPatchInfo(workcellPath, manifest)
	proof := a.parseOutput(manifest, stdout.String(), exitCode, patch, model, started, completed)
	proof.ClampConfidence()

	if err := writeProofJSON(workcellPath, proof); err != nil {
		proof.Metadata.Error = fmt.Sprintf("persisting proof: %v", err)
	}
	return proof
}

func buildPrompt(m *Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", m.Issue.Title, m.Issue.Description)
	if len(m.Issue.AcceptanceCriteria) > 0 {
		b.WriteString("## Acceptance criteria\n")
		for _, c := range m.Issue.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(m.Issue.ContextFiles) > 0 {
		b.WriteString("\n## Context files\n")
		for _, f := range m.Issue.ContextFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func (a *cliAdapter) getPatchInfo(workcellPath string, manifest *Manifest) PatchInfo {
	patch := PatchInfo{BranchName: manifest.BranchName}
	base, err := gitutil.MergeBase(workcellPath, "main", "HEAD")
	if err != nil {
		base, _ = gitutil.HeadSHA(workcellPath)
	}
	patch.BaseCommit = base
	head, err := gitutil.HeadSHA(workcellPath)
	if err == nil {
		patch.HeadCommit = head
	}
	stat, err := gitutil.DiffStatBetween(workcellPath, base)
	if err == nil {
		patch.FilesChanged = stat.FilesChanged
		patch.Insertions = stat.Insertions
		patch.Deletions = stat.Deletions
	}
	modified, err := gitutil.DiffNameOnly(workcellPath, base)
	if err == nil {
		patch.FilesModified = modified
	}
	patch.ForbiddenPathViolations = MatchForbiddenPaths(patch.FilesModified, manifest.Issue.ForbiddenPaths)
	return patch
}

// trailingJSON parses a best-effort trailing JSON object from the adapter's
// stdout, the convention CLI coding agents use to emit structured metadata
// (confidence, tokens, cost) after their human-readable transcript.
func trailingJSON(stdout string) map[string]any {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(line), &out); err == nil {
			return out
		}
		break
	}
	return nil
}

func (a *cliAdapter) parseOutput(manifest *Manifest, stdout string, exitCode int, patch PatchInfo, model string, started, completed time.Time) *Proof {
	var status ProofStatus
	var confidence float64
	switch exitCode {
	case 0:
		status, confidence = StatusSuccess, 0.8
	case 1:
		status, confidence = StatusPartial, 0.5
	default:
		status, confidence = StatusFailed, 0.2
	}

	tokensUsed := 0
	costUSD := 0.0
	if extra := trailingJSON(stdout); extra != nil {
		if c, ok := extra["confidence"].(float64); ok {
			confidence = c
		}
		if t, ok := extra["tokens_used"].(float64); ok {
			tokensUsed = int(t)
		}
		if c, ok := extra["cost"].(float64); ok {
			costUSD = c
		}
	}

	proof := &Proof{
		SchemaVersion: "1.0.0",
		WorkcellID:    manifest.WorkcellID,
		IssueID:       manifest.Issue.ID,
		Status:        status,
		Patch:         patch,
		Verification: Verification{
			Gates:     map[string]GateResult{},
			AllPassed: false,
		},
		Metadata: ProofMetadata{
			Toolchain:   a.spec.name,
			Model:       model,
			StartedAt:   started,
			CompletedAt: completed,
			DurationMs:  completed.Sub(started).Milliseconds(),
			ExitCode:    exitCode,
			TokensUsed:  tokensUsed,
			CostUSD:     costUSD,
		},
		Confidence:         confidence,
		RiskClassification: classifyRisk(patch),
	}
	return proof
}

func (a *cliAdapter) timeoutProof(manifest *Manifest, started, completed time.Time, timeout time.Duration, stalled bool) *Proof {
	errMsg := fmt.Sprintf("adapter timed out after %s", timeout)
	if stalled {
		errMsg += " (process still alive after kill signal, possible stall)"
	}
	return &Proof{
		SchemaVersion: "1.0.0",
		WorkcellID:    manifest.WorkcellID,
		IssueID:       manifest.Issue.ID,
		Status:        StatusTimeout,
		Verification:  Verification{Gates: map[string]GateResult{}},
		Metadata: ProofMetadata{
			Toolchain:   a.spec.name,
			StartedAt:   started,
			CompletedAt: completed,
			DurationMs:  completed.Sub(started).Milliseconds(),
			ExitCode:    -1,
			Error:       errMsg,
		},
		Confidence:         0,
		RiskClassification: "low",
	}
}

func (a *cliAdapter) errorProof(manifest *Manifest, started time.Time, err error) *Proof {
	return newErrorProof(manifest, a.spec.name, err)
}

// newErrorProof builds a minimal error Proof for failures that occur before
// (or independent of) a concrete adapter run, e.g. a circuit breaker refusing
// to dispatch. Never raises; the failure is always captured as data.
func newErrorProof(manifest *Manifest, toolchain string, err error) *Proof {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Proof{
		SchemaVersion: "1.0.0",
		WorkcellID:    manifest.WorkcellID,
		IssueID:       manifest.Issue.ID,
		Status:        StatusError,
		Verification:  Verification{Gates: map[string]GateResult{}},
		Metadata: ProofMetadata{
			Toolchain:   toolchain,
			StartedAt:   now,
			CompletedAt: now,
			ExitCode:    -1,
			Error:       msg,
		},
		Confidence:         0,
		RiskClassification: "low",
	}
}

func writeProofJSON(workcellPath string, proof *Proof) error {
	b, err := json.MarshalIndent(proof, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workcellPath, "proof.json"), b, 0o644)
}
