package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/AliverAnme/bindiff/pkg/config"
	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/matchctx"
	"github.com/AliverAnme/bindiff/pkg/matching"
	"github.com/AliverAnme/bindiff/pkg/outwriter"
	"github.com/AliverAnme/bindiff/pkg/sourcecompat"
	"github.com/AliverAnme/bindiff/pkg/storage"
)

func newDiffCmd(log *zerolog.Logger) *cobra.Command {
	var (
		configPath    string
		format        string
		outPath       string
		storeBack     string
		storePath     string
		visualizer    string
		primarySource string
		secondSource  string
	)

	cmd := &cobra.Command{
		Use:   "diff [<primary.json> <secondary.json>]",
		Short: "Diff two disassembly exports (or two Go source trees) and report the resulting matches",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := diffOptions{
				configPath:      configPath,
				format:          format,
				outPath:         outPath,
				storeBackend:    storeBack,
				storePath:       storePath,
				visualizer:      visualizer,
				primarySource:   primarySource,
				secondarySource: secondSource,
			}
			if len(args) == 2 {
				opts.primaryPath, opts.secondaryPath = args[0], args[1]
			}
			if opts.primaryPath == "" && opts.primarySource == "" {
				return fmt.Errorf("need either two export paths or --primary-source/--secondary-source")
			}
			return runDiff(cmd.Context(), *log, opts)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML engine config (default: built-in defaults)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json, yaml, or csv")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default: stdout)")
	cmd.Flags().StringVar(&storeBack, "store", "", "persist the run to a result store: json or pebbledb (default: don't persist)")
	cmd.Flags().StringVar(&storePath, "store-path", "", "path to the result store")
	cmd.Flags().StringVar(&visualizer, "visualizer", "", "path to a visualizer executable to launch with the finished report")
	cmd.Flags().StringVar(&primarySource, "primary-source", "", "diff a Go source tree instead of a disassembly export (primary side)")
	cmd.Flags().StringVar(&secondSource, "secondary-source", "", "diff a Go source tree instead of a disassembly export (secondary side)")

	return cmd
}

type diffOptions struct {
	primaryPath, secondaryPath     string
	primarySource, secondarySource string
	configPath                     string
	format, outPath                string
	storeBackend, storePath        string
	visualizer                     string
}

func runDiff(ctx context.Context, log zerolog.Logger, opts diffOptions) error {
	cfg := config.DefaultEngineConfig()
	if opts.configPath != "" {
		f, err := os.Open(opts.configPath)
		if err != nil {
			return fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()
		loaded, err := config.Load(f)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = *loaded
	}

	cache := graph.NewInstructionCache(func(prime uint32, have, got string) {
		log.Info().Uint32("prime", prime).Str("have", have).Str("got", got).Msg("prime signature collision")
	})

	primary, primaryHash, primaryName, err := resolveDiffSide(opts.primaryPath, opts.primarySource, cache)
	if err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	secondary, secondaryHash, secondaryName, err := resolveDiffSide(opts.secondaryPath, opts.secondarySource, cache)
	if err != nil {
		return fmt.Errorf("secondary: %w", err)
	}

	mc := matchctx.New(primary, secondary, log)
	mc.Parallelism = cfg.Parallelism

	functionSteps := cfg.ApplyFunctionSteps(matching.DefaultFunctionSteps())
	basicBlockSteps := cfg.ApplyBasicBlockSteps(matching.DefaultBasicBlockSteps())

	start := time.Now()
	if err := matching.Run(ctx, mc, functionSteps, basicBlockSteps); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("bindiff: matching run complete")

	report := outwriter.BuildReport(mc, primaryName, secondaryName)
	report = cfg.FilterReport(report)

	if err := writeReport(report, opts.format, opts.outPath); err != nil {
		return err
	}

	if opts.storeBackend != "" {
		if err := persistRun(opts.storeBackend, opts.storePath, primaryName, secondaryName, primaryHash, secondaryHash, report); err != nil {
			return fmt.Errorf("persisting run: %w", err)
		}
	}

	if opts.visualizer != "" {
		if err := launchVisualizerOnce(ctx, log, opts.visualizer, report); err != nil {
			log.Error().Err(err).Msg("bindiff: visualizer launch failed")
		}
	}

	return nil
}

// resolveDiffSide loads one side of a diff from either an exportPath
// (disassembly export JSON) or a sourceDir (a Go source tree loaded via the
// source bridge), depending on which the caller set. exportPath wins if
// both are somehow set, since it's the cheaper, deterministic path.
func resolveDiffSide(exportPath, sourceDir string, cache *graph.InstructionCache) (cg *graph.CallGraph, hash, name string, err error) {
	if exportPath != "" {
		cg, hash, err = decodeExportHashed(exportPath, cache)
		return cg, hash, exportPath, err
	}
	cg, hash, err = decodeSourceHashed(sourceDir, cache)
	return cg, hash, sourceDir, err
}

// decodeSourceHashed loads every Go package under dir and synthesizes a
// graph.CallGraph from its SSA form via pkg/sourcecompat. The "hash" here
// isn't a content hash of a single file the way decodeExportHashed's is --
// it identifies the loaded package set by digesting each compiled file's
// path, which is enough to tell two distinct snapshots of the same tree
// apart in a result store without re-reading every byte of source.
func decodeSourceHashed(dir string, cache *graph.InstructionCache) (*graph.CallGraph, string, error) {
	pkgs, err := sourcecompat.LoadPackages(dir, "./...")
	if err != nil {
		return nil, "", err
	}
	_, ssaPkg, err := sourcecompat.BuildSSA(pkgs)
	if err != nil {
		return nil, "", err
	}

	h := sha256.New()
	for _, pkg := range pkgs {
		for _, f := range pkg.CompiledGoFiles {
			h.Write([]byte(f))
		}
	}

	cg, err := sourcecompat.BuildCallGraph(ssaPkg, cache)
	if err != nil {
		return nil, "", err
	}
	return cg, fmt.Sprintf("%x", h.Sum(nil)), nil
}

func writeReport(report *outwriter.Report, format, outPath string) error {
	out := io.Writer(os.Stdout)
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating %q: %w", outPath, err)
		}
		defer f.Close()
		out = f
	}

	var w outwriter.Writer
	switch format {
	case "", "json":
		w = outwriter.NewJSONWriter(out)
	case "yaml":
		w = outwriter.NewYAMLWriter(out)
	case "csv":
		w = outwriter.NewCSVWriter(out)
	default:
		return fmt.Errorf("unknown output format %q (want json, yaml, or csv)", format)
	}
	return w.Write(report)
}

func persistRun(backend, path, primaryName, secondaryName, primaryHash, secondaryHash string, report *outwriter.Report) error {
	store, err := openStore(backend, path)
	if err != nil {
		return err
	}
	defer store.Close()

	run := &storage.DiffRun{
		PrimaryBinary:   primaryName,
		SecondaryBinary: secondaryName,
		PrimaryHash:     primaryHash,
		SecondaryHash:   secondaryHash,
		CreatedAtUnix:   time.Now().Unix(),
		Report:          report,
	}
	return store.SaveRun(run)
}
