package pebbledb_test

import (
	"testing"

	"github.com/AliverAnme/bindiff/pkg/outwriter"
	"github.com/AliverAnme/bindiff/pkg/storage"
	"github.com/AliverAnme/bindiff/pkg/storage/pebbledb"
)

func TestStoreSaveAndGetRun(t *testing.T) {
	dbPath := t.TempDir()

	s, err := pebbledb.Open(dbPath, pebbledb.DefaultOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	run := &storage.DiffRun{
		PrimaryBinary:   "a.bin",
		SecondaryBinary: "b.bin",
		PrimaryHash:     "hash-a",
		SecondaryHash:   "hash-b",
		Report:          &outwriter.Report{Similarity: 0.8},
	}
	if err := s.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if run.ID == "" {
		t.Fatal("SaveRun did not populate run.ID")
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.PrimaryBinary != "a.bin" || got.Report.Similarity != 0.8 {
		t.Errorf("unexpected round-tripped run: %+v", got)
	}
}

func TestStoreGetRunMissingID(t *testing.T) {
	dbPath := t.TempDir()
	s, err := pebbledb.Open(dbPath, pebbledb.DefaultOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if _, err := s.GetRun("does-not-exist"); err == nil {
		t.Fatal("expected GetRun to fail for an unknown ID")
	}
}

func TestStoreFindRunsForPairOrdersMostRecentFirst(t *testing.T) {
	dbPath := t.TempDir()
	s, err := pebbledb.Open(dbPath, pebbledb.DefaultOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	older := &storage.DiffRun{PrimaryHash: "x", SecondaryHash: "y", CreatedAtUnix: 100}
	newer := &storage.DiffRun{PrimaryHash: "x", SecondaryHash: "y", CreatedAtUnix: 200}
	unrelated := &storage.DiffRun{PrimaryHash: "other", SecondaryHash: "y", CreatedAtUnix: 300}

	for _, run := range []*storage.DiffRun{older, newer, unrelated} {
		if err := s.SaveRun(run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	runs, err := s.FindRunsForPair("x", "y")
	if err != nil {
		t.Fatalf("FindRunsForPair failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs for the (x, y) pair, got %d", len(runs))
	}
	if runs[0].ID != newer.ID {
		t.Fatalf("expected the newer run first, got %+v", runs[0])
	}
}

func TestStoreReopenKeepsSavedRuns(t *testing.T) {
	dbPath := t.TempDir()

	s1, err := pebbledb.Open(dbPath, pebbledb.DefaultOptions())
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	run := &storage.DiffRun{ID: "fixed-id", PrimaryHash: "p", SecondaryHash: "s"}
	if err := s1.SaveRun(run); err != nil {
		t.Fatal(err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := pebbledb.Open(dbPath, pebbledb.DefaultOptions())
	if err != nil {
		t.Fatalf("reopening an existing database should succeed: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetRun("fixed-id")
	if err != nil {
		t.Fatalf("GetRun after reopen failed: %v", err)
	}
	if got.PrimaryHash != "p" {
		t.Errorf("unexpected run after reopen: %+v", got)
	}
}
