package kernel

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// OnNoWinner governs what the Runner does when speculate voting returns no
// winner (every eligible candidate scored below vote_threshold).
type OnNoWinner string

const (
	OnNoWinnerFallback OnNoWinner = "fallback"
	OnNoWinnerFail     OnNoWinner = "fail"
	OnNoWinnerEscalate OnNoWinner = "escalate"
)

// ToolchainConfig is the per-adapter slice of RunConfig: model name, timeout,
// and free-form extra CLI args.
type ToolchainConfig struct {
	Model          string        `yaml:"model" json:"model"`
	TimeoutSeconds int           `yaml:"timeout_seconds" json:"timeout_seconds"`
	ExtraArgs      []string      `yaml:"extra_args,omitempty" json:"extra_args,omitempty"`
	BinaryPath     string        `yaml:"binary_path,omitempty" json:"binary_path,omitempty"`
	SkipPermissions bool         `yaml:"skip_permissions,omitempty" json:"skip_permissions,omitempty"`
}

// Timeout returns the configured timeout, defaulting to 30 minutes per spec §5.
func (t ToolchainConfig) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// SpeculationConfig governs vote selection and speculate parallelism.
type SpeculationConfig struct {
	VoteThreshold        float64    `yaml:"vote_threshold" json:"vote_threshold"`
	OnNoWinner           OnNoWinner `yaml:"on_no_winner" json:"on_no_winner"`
	MaxSpeculateParallel int        `yaml:"max_speculate_parallel" json:"max_speculate_parallel"`
}

// RunConfig is devkernel's top-level configuration document, loaded from a
// YAML file at startup. Field set and nesting follow the teacher's
// RunConfigFile convention (nested structs, yaml+json tags).
type RunConfig struct {
	Repo struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"repo" json:"repo"`

	GraphStore struct {
		Path string `yaml:"path" json:"path"`
		BdBinary string `yaml:"bd_binary,omitempty" json:"bd_binary,omitempty"`
	} `yaml:"graph_store" json:"graph_store"`

	MaxConcurrentWorkcells int `yaml:"max_concurrent_workcells" json:"max_concurrent_workcells"`
	MaxConcurrentTokens    int `yaml:"max_concurrent_tokens" json:"max_concurrent_tokens"`

	ToolchainPriority []string                   `yaml:"toolchain_priority" json:"toolchain_priority"`
	Toolchains        map[string]ToolchainConfig `yaml:"toolchains" json:"toolchains"`

	CodeGates map[string]string `yaml:"code_gates" json:"code_gates"`

	Speculation SpeculationConfig `yaml:"speculation" json:"speculation"`

	Watch          bool `yaml:"watch,omitempty" json:"watch,omitempty"`
	DryRun         bool `yaml:"dry_run,omitempty" json:"dry_run,omitempty"`
	ForceSpeculate bool `yaml:"force_speculate,omitempty" json:"force_speculate,omitempty"`
	SingleCycle    bool `yaml:"single_cycle,omitempty" json:"single_cycle,omitempty"`

	RepairPlaybook map[string]RepairPlaybookEntry `yaml:"repair_playbook,omitempty" json:"repair_playbook,omitempty"`
}

// RepairPlaybookEntry maps a fail_code to an instruction template and priority,
// used by repair-issue synthesis (spec §4.7 second paragraph).
type RepairPlaybookEntry struct {
	Priority     int    `yaml:"priority" json:"priority"`
	Instructions string `yaml:"instructions" json:"instructions"`
}

// LoadConfig reads and parses a YAML RunConfig document, applying defaults.
func LoadConfig(path string) (*RunConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg RunConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RunConfig) applyDefaults() {
	if c.MaxConcurrentWorkcells <= 0 {
		c.MaxConcurrentWorkcells = 4
	}
	if c.MaxConcurrentTokens <= 0 {
		c.MaxConcurrentTokens = 200000
	}
	if len(c.ToolchainPriority) == 0 {
		c.ToolchainPriority = []string{"claude", "codex", "opencode"}
	}
	if c.CodeGates == nil {
		c.CodeGates = map[string]string{}
	}
	if len(c.CodeGates) == 0 {
		c.CodeGates["test"] = "go test ./..."
		c.CodeGates["typecheck"] = "go vet ./..."
		c.CodeGates["lint"] = "gofmt -l ."
	}
	if c.Speculation.VoteThreshold <= 0 {
		c.Speculation.VoteThreshold = 0.6
	}
	if c.Speculation.OnNoWinner == "" {
		c.Speculation.OnNoWinner = OnNoWinnerFallback
	}
	if c.Speculation.MaxSpeculateParallel <= 0 {
		c.Speculation.MaxSpeculateParallel = len(c.ToolchainPriority)
	}
	if c.Toolchains == nil {
		c.Toolchains = map[string]ToolchainConfig{}
	}
}

func (c *RunConfig) validate() error {
	if c.Repo.Path == "" {
		return fmt.Errorf("config error: repo.path is required")
	}
	if c.GraphStore.Path == "" {
		return fmt.Errorf("config error: graph_store.path is required")
	}
	if c.Speculation.VoteThreshold < 0 || c.Speculation.VoteThreshold > 1 {
		return fmt.Errorf("config error: speculation.vote_threshold must be in [0,1], got %v", c.Speculation.VoteThreshold)
	}
	switch c.Speculation.OnNoWinner {
	case OnNoWinnerFallback, OnNoWinnerFail, OnNoWinnerEscalate:
	default:
		return fmt.Errorf("config error: invalid speculation.on_no_winner %q", c.Speculation.OnNoWinner)
	}
	return nil
}
