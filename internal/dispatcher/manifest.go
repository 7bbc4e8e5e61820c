package dispatcher

import (
	"fmt"

	"github.com/vsavkov/devkernel/internal/adapter"
	"github.com/vsavkov/devkernel/internal/graph"
	"github.com/vsavkov/devkernel/internal/workcell"
)

// buildManifest fills every field of the Manifest schema from the issue and
// config (spec §3, §4.5): deterministic given the same issue + config.
func (d *Dispatcher) buildManifest(iss *graph.Issue, wc *workcell.Workcell, toolchain string, speculate bool, speculateTag string) *adapter.Manifest {
	return &adapter.Manifest{
		SchemaVersion: "1.0.0",
		WorkcellID:    wc.ID,
		BranchName:    wc.Branch,
		Issue: adapter.IssueSnapshot{
			ID:                 iss.ID,
			Title:              iss.Title,
			Description:        iss.Description,
			AcceptanceCriteria: iss.AcceptanceCriteria,
			ForbiddenPaths:     iss.ForbiddenPaths,
			EstimatedTokens:    iss.EstimatedTokens,
			Tags:               iss.Tags,
		},
		Toolchain:       toolchain,
		ToolchainConfig: adapter.ToolchainConfig{Model: d.modelFor(toolchain)},
		QualityGates:    d.buildQualityGates(iss.Tags),
		SpeculateMode:   speculate,
		SpeculateTag:    speculateTag,
	}
}

// modelFor resolves the model name for toolchain: config override, else the
// adapter's own default (estimate_cost's table covers the latter; here we
// only surface an explicit override when configured).
func (d *Dispatcher) modelFor(toolchain string) string {
	if tc, ok := d.ctx.Config.Toolchains[toolchain]; ok {
		return tc.Model
	}
	return ""
}

// buildQualityGates derives manifest.quality_gates from an issue's tags
// (spec §4.5): default code gates from config, plus fab-realism/fab-godot
// additions driven by asset:/gate: tag prefixes, minus the code gates when
// gate:asset-only is present.
func (d *Dispatcher) buildQualityGates(tags []string) map[string]adapter.GateDef {
	hints := graph.ParseRoutingHints(tags)
	gates := map[string]adapter.GateDef{}

	for name, command := range d.ctx.Config.CodeGates {
		gates[name] = adapter.GateDef{Command: command}
	}

	if hints.HasAsset() || hints.Flags["realism"] {
		category := hints.Category
		if category == "" {
			category = "car"
		}
		gateConfigID := fmt.Sprintf("%s_realism_v001", category)
		if override, ok := hints.GateOverrides["fab-realism"]; ok {
			gateConfigID = override
		}
		gates["fab-realism"] = adapter.GateDef{
			Type:         "fab-realism",
			Category:     category,
			GateConfigID: gateConfigID,
		}
	}

	if hints.Flags["godot"] || hints.Flags["engine"] {
		gateConfigID := "godot_integration_v001"
		if override, ok := hints.GateOverrides["fab-godot"]; ok {
			gateConfigID = override
		}
		gates["fab-godot"] = adapter.GateDef{
			Type:         "fab-godot",
			GateConfigID: gateConfigID,
			TemplateDir:  "templates/godot",
		}
	}

	if hints.Flags["asset-only"] {
		for _, name := range []string{"test", "typecheck", "lint"} {
			delete(gates, name)
		}
	}

	return gates
}
