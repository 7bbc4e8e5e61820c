package adapter

// NewCodex returns the Codex CLI adapter.
func NewCodex() Toolchain {
	return newCLIAdapter(cliSpec{
		name:         "codex",
		binary:       "codex",
		defaultModel: "o3",
		costPerMTok: map[string]float64{
			"o3":      12.0,
			"o3-mini": 3.0,
		},
		buildArgs: func(promptFile, model string, extra []string) []string {
			args := []string{"exec", "--full-auto", "--prompt-file", promptFile}
			if model != "" {
				args = append(args, "--model", model)
			}
			return append(args, extra...)
		},
	})
}
