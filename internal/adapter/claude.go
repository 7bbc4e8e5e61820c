package adapter

// NewClaude returns the Claude CLI adapter, grounded on the "claude --print"
// invocation style (prompt file, --model, --dangerously-skip-permissions).
func NewClaude() Toolchain {
	return newCLIAdapter(cliSpec{
		name:         "claude",
		binary:       "claude",
		defaultModel: "claude-sonnet-4-20250514",
		costPerMTok: map[string]float64{
			"claude-sonnet-4-20250514": 9.0,
			"claude-opus-4-20250514":   45.0,
		},
		buildArgs: func(promptFile, model string, extra []string) []string {
			args := []string{"--print", "@" + promptFile}
			if model != "" {
				args = append(args, "--model", model)
			}
			args = append(args, "--dangerously-skip-permissions")
			return append(args, extra...)
		},
	})
}
