package adapter

import (
	"path/filepath"

	"github.com/vsavkov/devkernel/internal/graph"
)

// NewBlender returns the Blender-based asset adapter used for asset:<category>
// issues: instead of a prompt-driven coding agent, it invokes Blender in
// background mode against a category-specific scaffold script.
func NewBlender(scaffoldDir string) Toolchain {
	return newCLIAdapter(cliSpec{
		name:         "blender",
		binary:       "blender",
		defaultModel: "",
		costPerMTok:  map[string]float64{"": 0},
		extraArgs: func(manifest *Manifest) []string {
			hints := graph.ParseRoutingHints(manifest.Issue.Tags)
			category := hints.Category
			if category == "" {
				category = "generic"
			}
			return []string{category}
		},
		buildArgs: func(promptFile, model string, extra []string) []string {
			category := "generic"
			if len(extra) > 0 {
				category = extra[0]
			}
			script := filepath.Join(scaffoldDir, category+".py")
			return []string{"--background", "--python", script, "--", "--category", category, "--prompt", promptFile}
		},
	})
}
