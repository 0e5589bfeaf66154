// Package storage defines the persistence contract a completed matching
// run is saved under, and the record shape both backends (pkg/storage/
// jsondb, pkg/storage/pebbledb) store.
package storage

import "github.com/AliverAnme/bindiff/pkg/outwriter"

// DiffRun is one persisted matching run: which two binaries were
// compared, when, and the report it produced. PrimaryHash/SecondaryHash
// are content hashes of the two inputs (not addresses), used to find a
// previous run over the same pair without re-matching.
type DiffRun struct {
	ID              string `json:"id"`
	PrimaryBinary   string `json:"primary_binary"`
	SecondaryBinary string `json:"secondary_binary"`
	PrimaryHash     string `json:"primary_hash"`
	SecondaryHash   string `json:"secondary_hash"`
	CreatedAtUnix   int64  `json:"created_at_unix"`

	Report *outwriter.Report `json:"report"`
}

// ResultStore is the contract the engine persists diff runs through. Both
// implementations in this module (jsondb, pebbledb) are safe for
// concurrent use: a single ResultStore is shared across however many
// concurrent diff requests a serving process handles.
type ResultStore interface {
	// SaveRun persists run, assigning run.ID if it is empty.
	SaveRun(run *DiffRun) error
	// GetRun returns the run recorded under id, or an error if none exists.
	GetRun(id string) (*DiffRun, error)
	// FindRunsForPair returns every run recorded for the given content
	// hash pair, most recent first.
	FindRunsForPair(primaryHash, secondaryHash string) ([]*DiffRun, error)
	// Close releases any resources the store holds open.
	Close() error
}
