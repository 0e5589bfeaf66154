// Package uilaunch starts the visualizer process a diff run can hand its
// results to, and serves those results over a websocket so the
// visualizer can render matches as they stream in rather than waiting
// for the whole run to finish.
package uilaunch

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Hooks for testing: replacing these lets tests observe what Launch would
// have run without actually spawning a process.
var (
	lookPathFunc = exec.LookPath
	execCmdFunc  = exec.CommandContext
)

// Config describes the visualizer process to launch.
type Config struct {
	// Binary is the visualizer executable name or path, resolved via
	// exec.LookPath if it isn't already absolute.
	Binary string
	// Args are extra arguments passed to the visualizer, after the
	// websocket URL it should connect back to.
	Args []string
}

// Launch starts cfg.Binary, passing it wsURL as its final argument so it
// knows where to connect back for the live match stream, and wires its
// stdout/stderr to the given writers. It returns once the process exits;
// callers that want to keep matching while the visualizer runs should
// call Launch from its own goroutine.
func Launch(ctx context.Context, cfg Config, wsURL string, stdout, stderr io.Writer) error {
	binPath, err := lookPathFunc(cfg.Binary)
	if err != nil {
		return fmt.Errorf("uilaunch: %q not found in PATH: %w", cfg.Binary, err)
	}

	args := append(append([]string(nil), cfg.Args...), wsURL)
	cmd := execCmdFunc(ctx, binPath, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("uilaunch: running %q: %w", cfg.Binary, err)
	}
	return nil
}
