package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/vsavkov/devkernel/internal/adapter"
)

// runCodeGate launches gate.Command as a shell command rooted at the
// workcell, capturing stdout/stderr to logs/. Grounded on the generic
// timeout-bounded shell-command pattern used for tool-invocation handlers in
// the wider pack.
func (v *Verifier) runCodeGate(name string, gate adapter.GateDef, workcellPath string) adapter.GateResult {
	timeout := time.Duration(v.gateTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	started := time.Now()
	cmd := exec.CommandContext(ctx, "bash", "-c", gate.Command)
	cmd.Dir = workcellPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	duration := time.Since(started).Milliseconds()

	logsDir := filepath.Join(workcellPath, "logs")
	_ = os.MkdirAll(logsDir, 0o755)
	_ = os.WriteFile(filepath.Join(logsDir, name+"-stdout.log"), stdout.Bytes(), 0o644)
	_ = os.WriteFile(filepath.Join(logsDir, name+"-stderr.log"), stderr.Bytes(), 0o644)

	if ctx.Err() == context.DeadlineExceeded {
		return adapter.GateResult{Passed: false, ExitCode: -1, DurationMs: duration, Error: "timeout"}
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return adapter.GateResult{Passed: false, ExitCode: -1, DurationMs: duration, Error: err.Error()}
		}
	}
	return adapter.GateResult{Passed: exitCode == 0, ExitCode: exitCode, DurationMs: duration}
}

// fabGateOutput is the JSON document a fab gate subprocess prints to stdout.
type fabGateOutput struct {
	Verdict     string                 `json:"verdict"`
	Scores      map[string]any         `json:"scores"`
	Failures    []string               `json:"failures"`
	NextActions []adapter.NextAction   `json:"next_actions"`
	Artifacts   []string               `json:"artifacts"`
}

// runFabGate invokes the realism/engine gate pipeline as a subprocess with
// JSON output; verdict overrides exit-code-based pass/fail (spec §4.6 item 6).
func (v *Verifier) runFabGate(name string, gate adapter.GateDef, workcellPath string) adapter.GateResult {
	timeout := time.Duration(v.gateTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	asset := findAssetFile(workcellPath)
	args := []string{"-m", fabGateModule(gate.Type), "--asset", asset, "--config", gate.GateConfigID, "--json"}
	if gate.TemplateDir != "" {
		args = append(args, "--template-dir", gate.TemplateDir)
	}

	started := time.Now()
	cmd := exec.CommandContext(ctx, "python3", args...)
	cmd.Dir = workcellPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	duration := time.Since(started).Milliseconds()

	logsDir := filepath.Join(workcellPath, "logs")
	_ = os.MkdirAll(logsDir, 0o755)
	_ = os.WriteFile(filepath.Join(logsDir, name+"-stdout.log"), stdout.Bytes(), 0o644)
	_ = os.WriteFile(filepath.Join(logsDir, name+"-stderr.log"), stderr.Bytes(), 0o644)

	if ctx.Err() == context.DeadlineExceeded {
		return adapter.GateResult{Passed: false, ExitCode: -1, DurationMs: duration, Error: "Gate timeout"}
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return adapter.GateResult{Passed: false, ExitCode: -1, DurationMs: duration, Error: err.Error()}
		}
	}

	var out fabGateOutput
	if jsonErr := json.Unmarshal(stdout.Bytes(), &out); jsonErr != nil {
		return adapter.GateResult{
			Passed:     exitCode == 0,
			ExitCode:   exitCode,
			DurationMs: duration,
			Error:      fmt.Sprintf("parsing gate output: %v", jsonErr),
		}
	}

	passed := exitCode == 0
	if out.Verdict == "pass" || out.Verdict == "fail" || out.Verdict == "escalate" {
		passed = out.Verdict == "pass"
	}
	return adapter.GateResult{
		Passed:      passed,
		ExitCode:    exitCode,
		DurationMs:  duration,
		Verdict:     out.Verdict,
		Scores:      out.Scores,
		NextActions: out.NextActions,
		Artifacts:   out.Artifacts,
	}
}

func fabGateModule(gateType string) string {
	if gateType == "fab-godot" {
		return "dev_kernel.fab.godot"
	}
	return "dev_kernel.fab.gate"
}

var assetExtensions = []string{".glb", ".gltf", ".blend"}
var assetSubdirs = []string{"", "output", "assets", "export"}

// findAssetFile looks for a produced asset in the workcell root or common
// output subdirectories, matching common naming conventions (output.glb,
// asset.glb) when no more specific location is recorded.
func findAssetFile(workcellPath string) string {
	candidates := []string{"asset.glb", "output.glb"}
	for _, sub := range assetSubdirs {
		dir := filepath.Join(workcellPath, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			for _, ext := range assetExtensions {
				if filepath.Ext(e.Name()) == ext {
					return filepath.Join(dir, e.Name())
				}
			}
		}
	}
	for _, name := range candidates {
		p := filepath.Join(workcellPath, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
