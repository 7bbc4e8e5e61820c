package main

import (
	"os"
	"path/filepath"

	"github.com/vsavkov/devkernel/internal/adapter"
	"github.com/vsavkov/devkernel/internal/dispatcher"
	"github.com/vsavkov/devkernel/internal/graphstore"
	"github.com/vsavkov/devkernel/internal/kernel"
	"github.com/vsavkov/devkernel/internal/verifier"
	"github.com/vsavkov/devkernel/internal/workcell"
)

// assembly bundles every wired-up component a command needs, built once from
// a loaded RunConfig.
type assembly struct {
	ctx    *kernel.Context
	disp   *dispatcher.Dispatcher
	verify *verifier.Verifier
	events *graphstore.EventLog
}

func build(cfg *kernel.RunConfig, verbose bool) (*assembly, error) {
	devkernelDir := filepath.Join(cfg.Repo.Path, ".devkernel")
	workDir := filepath.Join(devkernelDir, "workcells")
	archiveDir := filepath.Join(devkernelDir, "archive")
	logsDir := filepath.Join(devkernelDir, "logs")
	for _, dir := range []string{workDir, archiveDir, logsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	store := graphstore.New(cfg.GraphStore.Path, cfg.GraphStore.BdBinary)
	wcm := workcell.New(cfg.Repo.Path, workDir, archiveDir)
	logger := kernel.NewLogger(os.Stderr, verbose)
	kctx := kernel.New(cfg, kernel.SystemClock{}, logger, store, wcm)

	registry := adapter.NewRegistry(cfg.ToolchainPriority, map[string]adapter.Toolchain{
		"claude":   adapter.NewClaude(),
		"codex":    adapter.NewCodex(),
		"opencode": adapter.NewOpenCode(),
		"blender":  adapter.NewBlender(filepath.Join(cfg.Repo.Path, "scripts", "blender")),
	})

	disp := dispatcher.New(kctx, registry, wcm)
	verify := verifier.New(0)
	events := graphstore.NewEventLog(logsDir)

	return &assembly{ctx: kctx, disp: disp, verify: verify, events: events}, nil
}
