package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/AliverAnme/bindiff/pkg/outwriter"
	"github.com/AliverAnme/bindiff/pkg/uilaunch"
)

// launchVisualizerOnce starts an ephemeral websocket server, launches the
// visualizer binary pointed at it, waits briefly for it to connect, pushes
// report once, and blocks until the visualizer process exits.
func launchVisualizerOnce(ctx context.Context, log zerolog.Logger, binary string, report *outwriter.Report) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("opening visualizer listener: %w", err)
	}

	hub := uilaunch.NewHub(log)
	srv := &http.Server{Handler: hub}
	go srv.Serve(ln)
	defer srv.Close()

	wsURL := fmt.Sprintf("ws://%s/", ln.Addr().String())

	launched := make(chan error, 1)
	go func() {
		launched <- uilaunch.Launch(ctx, uilaunch.Config{Binary: binary}, wsURL, os.Stdout, os.Stderr)
	}()

	// Give the visualizer a moment to connect before pushing the only
	// report it will ever receive in this one-shot mode.
	time.Sleep(500 * time.Millisecond)
	if err := hub.Broadcast(report); err != nil {
		log.Warn().Err(err).Msg("bindiff: broadcasting report to visualizer failed")
	}

	return <-launched
}
