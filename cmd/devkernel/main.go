package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vsavkov/devkernel/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("devkernel %s\n", version.Version)
		os.Exit(0)
	case "run":
		cmdRun(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  devkernel --version")
	fmt.Fprintln(os.Stderr, "  devkernel run --config <run.yaml> [--issue <id>] [--dry-run] [--watch] [--single-cycle] [--force-speculate] [--verbose]")
	fmt.Fprintln(os.Stderr, "  devkernel status --config <run.yaml> [--json]")
}

// signalCancelContext cancels ctx on SIGINT/SIGTERM, letting an in-flight
// cycle finish its current dispatches rather than killing them mid-flight.
func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, cleanup
}
