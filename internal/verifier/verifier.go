// Package verifier implements the Verifier (spec §4.6): gate execution
// against a proof, and candidate scoring/voting for speculate dispatch.
package verifier

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/vsavkov/devkernel/internal/adapter"
	"github.com/vsavkov/devkernel/internal/schema"
)

// Verifier runs quality gates and selects winners among speculate candidates.
type Verifier struct {
	gateTimeoutSeconds int
}

// New returns a Verifier. gateTimeoutSeconds bounds each code-gate command;
// 0 defaults to 1800s, matching the adapter default timeout.
func New(gateTimeoutSeconds int) *Verifier {
	if gateTimeoutSeconds <= 0 {
		gateTimeoutSeconds = 1800
	}
	return &Verifier{gateTimeoutSeconds: gateTimeoutSeconds}
}

// Verify runs the manifest's quality gates against proof in place, updating
// proof.Verification, and returns the overall pass/fail. It never returns an
// error: every failure mode becomes part of the verification record
// (spec §9 "failure proofs, not exceptions").
func (v *Verifier) Verify(proof *adapter.Proof, manifest *adapter.Manifest, workcellPath string) bool {
	if len(proof.Patch.ForbiddenPathViolations) > 0 {
		proof.Verification = adapter.Verification{
			Gates:            map[string]adapter.GateResult{},
			AllPassed:        false,
			BlockingFailures: []string{"forbidden_path_violations"},
		}
		proof.RiskClassification = "critical"
		v.persist(proof, workcellPath)
		return false
	}
	if proof.Verification.AllPassed {
		return true
	}

	codeGates, fabGates := partitionGates(manifest.QualityGates)
	results := map[string]adapter.GateResult{}

	for name, gate := range codeGates {
		results[name] = v.runCodeGate(name, gate, workcellPath)
	}

	var nonGodot []string
	godotName := ""
	for name, gate := range fabGates {
		if gate.Type == "fab-godot" {
			godotName = name
			continue
		}
		nonGodot = append(nonGodot, name)
	}
	upstreamFailed := false
	for _, name := range nonGodot {
		res := v.runFabGate(name, fabGates[name], workcellPath)
		results[name] = res
		if !res.Passed && !res.Skipped {
			upstreamFailed = true
		}
	}
	if godotName != "" {
		if upstreamFailed {
			results[godotName] = adapter.GateResult{
				Passed:  true,
				Skipped: true,
				Reason:  "Skipped fab-godot because an upstream fab gate failed",
			}
		} else {
			results[godotName] = v.runFabGate(godotName, fabGates[godotName], workcellPath)
		}
	}

	allPassed := true
	var blocking []string
	for name, res := range results {
		if !(res.Passed || res.Skipped) {
			allPassed = false
			blocking = append(blocking, name)
		}
	}
	sort.Strings(blocking)

	proof.Verification = adapter.Verification{
		Gates:            results,
		AllPassed:        allPassed,
		BlockingFailures: blocking,
	}
	v.persist(proof, workcellPath)
	return allPassed
}

func partitionGates(gates map[string]adapter.GateDef) (code, fab map[string]adapter.GateDef) {
	code = map[string]adapter.GateDef{}
	fab = map[string]adapter.GateDef{}
	for name, g := range gates {
		if g.IsFabGate() {
			fab[name] = g
		} else {
			code[name] = g
		}
	}
	return code, fab
}

func (v *Verifier) persist(proof *adapter.Proof, workcellPath string) {
	b, err := json.MarshalIndent(proof, "", "  ")
	if err != nil {
		return
	}
	// Schema validation is advisory here: a malformed proof still needs to
	// reach disk so the failure is visible, rather than vanishing silently.
	_ = schema.ValidateProof(b)
	_ = os.WriteFile(filepath.Join(workcellPath, "proof.json"), b, 0o644)
}
