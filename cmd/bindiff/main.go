// Command bindiff is the engine's CLI entry point: diff two disassembly
// exports, serve a long-running diff+visualize loop over HTTP, or migrate
// a JSON result store into PebbleDB.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/AliverAnme/bindiff/pkg/version"
)

func main() {
	var logLevel string

	root := &cobra.Command{
		Use:   "bindiff",
		Short: "Binary diffing matching engine",
		Long: `bindiff compares two disassembled binaries (or, via the source bridge,
two versions of Go source) and produces a correspondence between their
functions and, within matched functions, their basic blocks.`,
		Version:       version.EngineVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		lvl, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			lvl = zerolog.InfoLevel
		}
		log = log.Level(lvl)
	}

	root.AddCommand(newDiffCmd(&log))
	root.AddCommand(newServeCmd(&log))
	root.AddCommand(newMigrateCmd(&log))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
