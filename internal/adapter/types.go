// Package adapter defines the toolchain adapter interface (spec §4.3) and
// the Manifest/Proof document types adapters read and write.
package adapter

import (
	"context"
	"time"
)

// ProofStatus is the closed set of adapter-reported outcomes.
type ProofStatus string

const (
	StatusSuccess ProofStatus = "success"
	StatusPartial ProofStatus = "partial"
	StatusFailed  ProofStatus = "failed"
	StatusTimeout ProofStatus = "timeout"
	StatusError   ProofStatus = "error"
)

// IssueSnapshot is the issue fields copied into a Manifest (spec §3): a
// point-in-time snapshot, not a live reference to the graph.
type IssueSnapshot struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	ContextFiles       []string `json:"context_files,omitempty"`
	ForbiddenPaths     []string `json:"forbidden_paths,omitempty"`
	EstimatedTokens    int      `json:"dk_estimated_tokens,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// ToolchainConfig is the toolchain-specific slice of a Manifest.
type ToolchainConfig struct {
	Model string `json:"model,omitempty"`
}

// GateDef is a value inside Manifest.QualityGates: either a code gate
// (Command set, a shell command string) or a fab gate (Type set, a
// structured record with type-specific parameters).
type GateDef struct {
	// Code gate fields.
	Command string `json:"command,omitempty"`

	// Fab gate fields.
	Type         string `json:"type,omitempty"` // "fab-realism" | "fab-godot"
	Category     string `json:"category,omitempty"`
	GateConfigID string `json:"gate_config_id,omitempty"`
	TemplateDir  string `json:"template_dir,omitempty"`
}

// IsFabGate reports whether this gate definition is a structured fab gate
// rather than a plain shell-command code gate.
func (g GateDef) IsFabGate() bool {
	return g.Type != ""
}

// Manifest is the self-contained, immutable-once-written per-task input
// document (spec §3).
type Manifest struct {
	SchemaVersion   string             `json:"schema_version"`
	WorkcellID      string             `json:"workcell_id"`
	BranchName      string             `json:"branch_name"`
	Issue           IssueSnapshot      `json:"issue"`
	Toolchain       string             `json:"toolchain"`
	ToolchainConfig ToolchainConfig    `json:"toolchain_config"`
	QualityGates    map[string]GateDef `json:"quality_gates"`
	SpeculateMode   bool               `json:"speculate_mode"`
	SpeculateTag    string             `json:"speculate_tag,omitempty"`
}

// PatchInfo describes the diff produced by an adapter run.
type PatchInfo struct {
	BranchName              string   `json:"branch_name"`
	BaseCommit              string   `json:"base_commit"`
	HeadCommit              string   `json:"head_commit"`
	FilesChanged            int      `json:"files_changed"`
	Insertions              int      `json:"insertions"`
	Deletions               int      `json:"deletions"`
	FilesModified           []string `json:"files_modified"`
	ForbiddenPathViolations []string `json:"forbidden_path_violations,omitempty"`
}

// GateResult is the outcome of executing one gate.
type GateResult struct {
	Passed     bool           `json:"passed"`
	Skipped    bool           `json:"skipped,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	ExitCode   int            `json:"exit_code"`
	DurationMs int64          `json:"duration_ms"`
	Verdict    string         `json:"verdict,omitempty"` // "pass" | "fail" | "escalate"
	Scores     map[string]any `json:"scores,omitempty"`
	NextActions []NextAction  `json:"next_actions,omitempty"`
	Error      string         `json:"error,omitempty"`
	Artifacts  []string       `json:"artifacts,omitempty"`
}

// NextAction is one repair hint surfaced by a failed fab gate.
type NextAction struct {
	Priority     int    `json:"priority"`
	FailCode     string `json:"fail_code"`
	Instructions string `json:"instructions"`
}

// Verification is the proof's gate-results block, filled in by the verifier.
type Verification struct {
	Gates            map[string]GateResult `json:"gates"`
	AllPassed        bool                  `json:"all_passed"`
	BlockingFailures []string              `json:"blocking_failures,omitempty"`
}

// ProofMetadata carries run provenance: toolchain, model, timing, exit code.
type ProofMetadata struct {
	Toolchain   string    `json:"toolchain"`
	Model       string    `json:"model,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	ExitCode    int       `json:"exit_code"`
	TokensUsed  int       `json:"tokens_used,omitempty"`
	CostUSD     float64   `json:"cost_usd,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Proof is the per-task output document produced by an adapter and updated
// in place by the Verifier (spec §3).
type Proof struct {
	SchemaVersion      string         `json:"schema_version"`
	WorkcellID         string         `json:"workcell_id"`
	IssueID            string         `json:"issue_id"`
	Status             ProofStatus    `json:"status"`
	Patch              PatchInfo      `json:"patch"`
	Verification       Verification   `json:"verification"`
	Metadata           ProofMetadata  `json:"metadata"`
	CommandsExecuted   []string       `json:"commands_executed,omitempty"`
	Confidence         float64        `json:"confidence"`
	RiskClassification string         `json:"risk_classification"`
}

// ClampConfidence clamps p.Confidence to [0,1], per adapter contract item 7.
func (p *Proof) ClampConfidence() {
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}
}

// CostEstimate is the return type of Toolchain.EstimateCost.
type CostEstimate struct {
	Tokens  int     `json:"tokens"`
	Dollars float64 `json:"dollars"`
	Model   string  `json:"model"`
}

// Toolchain is the uniform adapter contract every concrete coding-agent
// binding implements (spec §4.3). Concrete adapters are constructed from a
// config record and carry their own binary path + env — an explicit
// tagged-variant-plus-dispatch-table design rather than deep inheritance
// (spec §9 Design Notes).
type Toolchain interface {
	Name() string
	Available() bool
	HealthCheck() bool
	ExecuteSync(manifest *Manifest, workcellPath string, timeout time.Duration) *Proof
	ExecuteAsync(ctx context.Context, manifest *Manifest, workcellPath string, timeout time.Duration) *Proof
	EstimateCost(manifest *Manifest) CostEstimate
}
