package adapter

// NewOpenCode returns the OpenCode CLI adapter.
func NewOpenCode() Toolchain {
	return newCLIAdapter(cliSpec{
		name:         "opencode",
		binary:       "opencode",
		defaultModel: "gpt-4.1",
		costPerMTok: map[string]float64{
			"gpt-4.1": 5.0,
		},
		buildArgs: func(promptFile, model string, extra []string) []string {
			args := []string{"run", "--file", promptFile, "--non-interactive"}
			if model != "" {
				args = append(args, "--model", model)
			}
			return append(args, extra...)
		},
	})
}
