package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/vsavkov/devkernel/internal/graphstore"
	"github.com/vsavkov/devkernel/internal/kernel"
	"github.com/vsavkov/devkernel/internal/scheduler"
)

func cmdStatus(args []string) {
	os.Exit(runStatus(args, os.Stdout, os.Stderr))
}

type statusReport struct {
	Counts       map[string]int `json:"counts"`
	Ready        []string       `json:"ready"`
	CriticalPath []string       `json:"critical_path"`
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	var configPath string
	var asJSON bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--config requires a value")
				return 1
			}
			configPath = args[i]
		case "--json":
			asJSON = true
		default:
			fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
			return 1
		}
	}
	if configPath == "" {
		fmt.Fprintln(stderr, "--config is required")
		return 1
	}

	cfg, err := kernel.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	store := graphstore.New(cfg.GraphStore.Path, cfg.GraphStore.BdBinary)
	g, err := store.LoadGraph()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	report := statusReport{Counts: map[string]int{}}
	for _, iss := range g.Issues {
		report.Counts[string(iss.Status)]++
	}
	sched := scheduler.Schedule(g, nil, cfg)
	for _, iss := range sched.ReadyIssues {
		report.Ready = append(report.Ready, iss.ID)
	}
	sort.Strings(report.Ready)
	report.CriticalPath = sched.CriticalPath

	if asJSON {
		b, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, string(b))
		return 0
	}

	fmt.Fprintf(stdout, "issues by status:\n")
	statuses := make([]string, 0, len(report.Counts))
	for s := range report.Counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(stdout, "  %-10s %d\n", s, report.Counts[s])
	}
	fmt.Fprintf(stdout, "ready (%d): %v\n", len(report.Ready), report.Ready)
	fmt.Fprintf(stdout, "critical path rank: %v\n", report.CriticalPath)
	return 0
}
