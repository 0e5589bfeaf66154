package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/AliverAnme/bindiff/pkg/storage/jsondb"
	"github.com/AliverAnme/bindiff/pkg/storage/pebbledb"
)

func newMigrateCmd(log *zerolog.Logger) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate a JSON result store into PebbleDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(*log, from, to)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "source JSON database path (required)")
	cmd.Flags().StringVar(&to, "to", "", "destination PebbleDB database path (required)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")

	return cmd
}

func runMigrate(log zerolog.Logger, from, to string) error {
	src, err := jsondb.Open(from)
	if err != nil {
		return fmt.Errorf("opening source %q: %w", from, err)
	}

	dst, err := pebbledb.Open(to, pebbledb.DefaultOptions())
	if err != nil {
		return fmt.Errorf("opening destination %q: %w", to, err)
	}
	defer dst.Close()

	runs := src.AllRuns()
	count := 0
	for i := range runs {
		run := runs[i]
		if err := dst.SaveRun(&run); err != nil {
			return fmt.Errorf("migrating run %q: %w", run.ID, err)
		}
		count++
	}
	log.Info().Int("runs_migrated", count).Str("from", from).Str("to", to).Msg("bindiff: migration complete")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Source       string `json:"source"`
		Destination  string `json:"destination"`
		RunsMigrated int    `json:"runs_migrated"`
	}{Source: from, Destination: to, RunsMigrated: count})
}
