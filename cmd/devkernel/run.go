package main

import (
	"fmt"
	"os"

	"github.com/vsavkov/devkernel/internal/kernel"
	"github.com/vsavkov/devkernel/internal/runner"
)

func cmdRun(args []string) {
	var configPath string
	var issue string
	var dryRun, watch, singleCycle, forceSpeculate, verbose bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--issue":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--issue requires a value")
				os.Exit(1)
			}
			issue = args[i]
		case "--dry-run":
			dryRun = true
		case "--watch":
			watch = true
		case "--single-cycle":
			singleCycle = true
		case "--force-speculate":
			forceSpeculate = true
		case "--verbose":
			verbose = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if configPath == "" {
		usage()
		os.Exit(1)
	}

	cfg, err := kernel.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if dryRun {
		cfg.DryRun = true
	}
	if watch {
		cfg.Watch = true
	}
	if singleCycle {
		cfg.SingleCycle = true
	}
	if forceSpeculate {
		cfg.ForceSpeculate = true
	}

	asm, err := build(cfg, verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	r := runner.New(asm.ctx, asm.disp, asm.verify, asm.events, runner.Options{
		TargetIssue: issue,
		SingleCycle: cfg.SingleCycle,
		Watch:       cfg.Watch,
		DryRun:      cfg.DryRun,
	})

	ctx, cleanup := signalCancelContext()
	defer cleanup()
	if err := r.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
