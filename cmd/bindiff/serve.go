package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/AliverAnme/bindiff/pkg/config"
	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/ingest"
	"github.com/AliverAnme/bindiff/pkg/matchctx"
	"github.com/AliverAnme/bindiff/pkg/matching"
	"github.com/AliverAnme/bindiff/pkg/outwriter"
	"github.com/AliverAnme/bindiff/pkg/storage"
	"github.com/AliverAnme/bindiff/pkg/uilaunch"
)

func newServeCmd(log *zerolog.Logger) *cobra.Command {
	var (
		addr       string
		storeBack  string
		storePath  string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a long-running diff server with a live visualizer feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *log, serveOptions{
				addr:         addr,
				storeBackend: storeBack,
				storePath:    storePath,
				configPath:   configPath,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "address to listen on")
	cmd.Flags().StringVar(&storeBack, "store", "json", "result store backend: json or pebbledb")
	cmd.Flags().StringVar(&storePath, "store-path", "bindiff-runs.json", "path to the result store")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML engine config (default: built-in defaults)")

	return cmd
}

type serveOptions struct {
	addr                    string
	storeBackend, storePath string
	configPath              string
}

// diffRequest is the POST /diff body: paths to two already-written
// disassembly exports on the server's filesystem.
type diffRequest struct {
	PrimaryPath   string `json:"primary_path"`
	SecondaryPath string `json:"secondary_path"`
}

type server struct {
	log   zerolog.Logger
	cfg   config.EngineConfig
	hub   *uilaunch.Hub
	store storage.ResultStore
}

func runServe(ctx context.Context, log zerolog.Logger, opts serveOptions) error {
	cfg := config.DefaultEngineConfig()
	if opts.configPath != "" {
		f, err := os.Open(opts.configPath)
		if err != nil {
			return fmt.Errorf("opening config: %w", err)
		}
		loaded, err := config.Load(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = *loaded
	}

	store, err := openStore(opts.storeBackend, opts.storePath)
	if err != nil {
		return fmt.Errorf("opening result store: %w", err)
	}
	defer store.Close()

	s := &server{log: log, cfg: cfg, hub: uilaunch.NewHub(log), store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.ServeHTTP)
	mux.HandleFunc("/diff", s.handleDiff)
	mux.HandleFunc("/runs/", s.handleGetRun)

	httpSrv := &http.Server{Addr: opts.addr, Handler: mux}
	go func() {
		<-ctx.Done()
		httpSrv.Close()
	}()

	log.Info().Str("addr", opts.addr).Msg("bindiff: serving")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func (s *server) handleDiff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req diffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}

	report, run, err := s.runOneDiff(r.Context(), req)
	if err != nil {
		s.log.Error().Err(err).Msg("bindiff: diff request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.hub.Broadcast(report); err != nil {
		s.log.Warn().Err(err).Msg("bindiff: broadcasting report failed")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/runs/"):]
	if id == "" {
		http.Error(w, "missing run id", http.StatusBadRequest)
		return
	}
	run, err := s.store.GetRun(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

func (s *server) runOneDiff(ctx context.Context, req diffRequest) (*outwriter.Report, *storage.DiffRun, error) {
	cache := graph.NewInstructionCache(func(prime uint32, have, got string) {
		s.log.Info().Uint32("prime", prime).Str("have", have).Str("got", got).Msg("prime signature collision")
	})

	primary, primaryHash, err := decodeExportHashed(req.PrimaryPath, cache)
	if err != nil {
		return nil, nil, fmt.Errorf("primary: %w", err)
	}
	secondary, secondaryHash, err := decodeExportHashed(req.SecondaryPath, cache)
	if err != nil {
		return nil, nil, fmt.Errorf("secondary: %w", err)
	}

	mc := matchctx.New(primary, secondary, s.log)
	mc.Parallelism = s.cfg.Parallelism

	functionSteps := s.cfg.ApplyFunctionSteps(matching.DefaultFunctionSteps())
	basicBlockSteps := s.cfg.ApplyBasicBlockSteps(matching.DefaultBasicBlockSteps())

	if err := matching.Run(ctx, mc, functionSteps, basicBlockSteps); err != nil {
		return nil, nil, fmt.Errorf("matching: %w", err)
	}

	report := s.cfg.FilterReport(outwriter.BuildReport(mc, req.PrimaryPath, req.SecondaryPath))

	run := &storage.DiffRun{
		PrimaryBinary:   req.PrimaryPath,
		SecondaryBinary: req.SecondaryPath,
		PrimaryHash:     primaryHash,
		SecondaryHash:   secondaryHash,
		CreatedAtUnix:   time.Now().Unix(),
		Report:          report,
	}
	if err := s.store.SaveRun(run); err != nil {
		return nil, nil, fmt.Errorf("saving run: %w", err)
	}

	return report, run, nil
}

func decodeExportHashed(path string, cache *graph.InstructionCache) (*graph.CallGraph, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	cg, err := ingest.Decode(io.TeeReader(f, h), cache)
	if err != nil {
		return nil, "", fmt.Errorf("decoding %q: %w", path, err)
	}
	return cg, hex.EncodeToString(h.Sum(nil)), nil
}
