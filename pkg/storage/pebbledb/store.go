// Package pebbledb implements storage.ResultStore on top of CockroachDB's
// Pebble, an LSM-tree key-value store, for deployments that need high
// write throughput and range scans a flat JSON file can't offer.
package pebbledb

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/AliverAnme/bindiff/pkg/storage"
)

// Key prefixes simulate logical buckets in Pebble's flat key space. Keep
// these short to minimize storage overhead per key.
var (
	prefixRun     = []byte("run:")   // Master storage: run:ID -> Gob blob
	prefixPairIdx = []byte("pair:")  // Index: pair:PrimaryHash:SecondaryHash:ID -> ID
	prefixMeta    = []byte("meta:")  // Metadata: meta:key -> value
)

const (
	// CurrentSchemaVersion enforces binary compatibility. Increment this
	// only if the fundamental serialization format (the Gob struct shape)
	// changes.
	CurrentSchemaVersion = 1
)

// Store is a Pebble-backed storage.ResultStore.
type Store struct {
	db *pebble.DB
	mu sync.RWMutex
}

// Options configures Store initialization.
type Options struct {
	ReadOnly  bool
	CacheSize int64
}

// DefaultOptions returns sensible defaults for a standard deployment.
func DefaultOptions() Options {
	return Options{CacheSize: 8 << 20}
}

// Open opens or creates a Pebble-backed store at dbPath.
func Open(dbPath string, opts Options) (*Store, error) {
	// Path sanitization: refuse to initialize the database in a system
	// root. A misconfigured path here could let an attacker with write
	// access to the store clobber binaries or configuration the process
	// can otherwise only read.
	absPath, err := filepath.EvalSymlinks(dbPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("pebbledb: resolving %q: %w", dbPath, err)
		}
		absPath, _ = filepath.Abs(dbPath)
	}
	if runtime.GOOS == "linux" {
		sensitivePrefixes := []string{"/etc", "/root", "/usr", "/bin", "/sbin", "/boot"}
		for _, sp := range sensitivePrefixes {
			if strings.HasPrefix(absPath, sp) {
				return nil, fmt.Errorf("pebbledb: refusing to initialize a database in system directory %q", absPath)
			}
		}
	}

	if opts.CacheSize == 0 {
		opts.CacheSize = 8 << 20
	}
	if opts.ReadOnly {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("pebbledb: database does not exist: %s", dbPath)
		}
	}

	pebbleOpts := &pebble.Options{Cache: pebble.NewCache(opts.CacheSize)}
	pebbleOpts.ReadOnly = opts.ReadOnly

	// PebbleDB can hold its lock file for a few milliseconds after a rapid
	// restart; retry with exponential backoff rather than failing outright.
	var db *pebble.DB
	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		db, err = pebble.Open(dbPath, pebbleOpts)
		if err == nil {
			break
		}
		if strings.Contains(err.Error(), "lock") || strings.Contains(err.Error(), "temporarily unavailable") {
			time.Sleep(100 * time.Millisecond * time.Duration(1<<i))
			continue
		}
		return nil, fmt.Errorf("pebbledb: opening %q: %w", dbPath, err)
	}
	if err != nil {
		return nil, fmt.Errorf("pebbledb: acquiring lock for %q after %d attempts: %w", dbPath, maxRetries, err)
	}

	s := &Store{db: db}

	metaVer, err := s.getMetadataLocked("schema_version")
	if err == nil && metaVer != "" {
		var dbVer int
		if _, scanErr := fmt.Sscanf(metaVer, "%d", &dbVer); scanErr == nil && dbVer > CurrentSchemaVersion {
			db.Close()
			return nil, fmt.Errorf("pebbledb: database schema version %d is newer than this binary supports (%d)", dbVer, CurrentSchemaVersion)
		}
	} else if !opts.ReadOnly {
		if err := s.setMetadataLocked("schema_version", fmt.Sprintf("%d", CurrentSchemaVersion)); err != nil {
			return nil, fmt.Errorf("pebbledb: initializing schema version: %w", err)
		}
	}

	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildRunKey(id string) []byte {
	return append(append([]byte(nil), prefixRun...), []byte(id)...)
}

func buildPairIndexKey(primaryHash, secondaryHash, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixPairIdx, primaryHash, secondaryHash, id))
}

func buildPairIndexPrefix(primaryHash, secondaryHash string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:", prefixPairIdx, primaryHash, secondaryHash))
}

func buildMetaKey(key string) []byte {
	return append(append([]byte(nil), prefixMeta...), []byte(key)...)
}

func encodeRun(run *storage.DiffRun) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(run); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRun(data []byte) (*storage.DiffRun, error) {
	var run storage.DiffRun
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SaveRun persists run and indexes it by its (PrimaryHash, SecondaryHash)
// pair so FindRunsForPair can range-scan instead of reading every record.
func (s *Store) SaveRun(run *storage.DiffRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run == nil {
		return fmt.Errorf("pebbledb: cannot save a nil run")
	}
	if run.ID == "" {
		id, err := randomID()
		if err != nil {
			return fmt.Errorf("pebbledb: generating run id: %w", err)
		}
		run.ID = id
	}

	data, err := encodeRun(run)
	if err != nil {
		return fmt.Errorf("pebbledb: encoding run %q: %w", run.ID, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(buildRunKey(run.ID), data, nil); err != nil {
		return fmt.Errorf("pebbledb: storing run %q: %w", run.ID, err)
	}
	if err := batch.Set(buildPairIndexKey(run.PrimaryHash, run.SecondaryHash, run.ID), []byte(run.ID), nil); err != nil {
		return fmt.Errorf("pebbledb: indexing run %q: %w", run.ID, err)
	}

	return batch.Commit(pebble.Sync)
}

// GetRun returns the run stored under id.
func (s *Store) GetRun(id string) (*storage.DiffRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, closer, err := s.db.Get(buildRunKey(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, fmt.Errorf("pebbledb: run %q not found", id)
		}
		return nil, fmt.Errorf("pebbledb: reading run %q: %w", id, err)
	}
	defer closer.Close()

	return decodeRun(data)
}

// FindRunsForPair range-scans the pair index for (primaryHash,
// secondaryHash), loads every matching run, and returns them most
// recently saved first.
func (s *Store) FindRunsForPair(primaryHash, secondaryHash string) ([]*storage.DiffRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := buildPairIndexPrefix(primaryHash, secondaryHash)
	upper := incrementLastByte(lower)
	if upper == nil {
		return nil, fmt.Errorf("pebbledb: pair index prefix overflow")
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("pebbledb: creating iterator: %w", err)
	}
	defer iter.Close()

	var out []*storage.DiffRun
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Value())
		data, closer, err := s.db.Get(buildRunKey(id))
		if err != nil {
			continue
		}
		run, decodeErr := decodeRun(data)
		closer.Close()
		if decodeErr != nil {
			continue
		}
		out = append(out, run)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebbledb: scanning pair index: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtUnix > out[j].CreatedAtUnix })
	return out, nil
}

func (s *Store) setMetadataLocked(key, value string) error {
	return s.db.Set(buildMetaKey(key), []byte(value), pebble.Sync)
}

func (s *Store) getMetadataLocked(key string) (string, error) {
	data, closer, err := s.db.Get(buildMetaKey(key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return "", fmt.Errorf("pebbledb: metadata key %q not found", key)
		}
		return "", err
	}
	defer closer.Close()
	return string(data), nil
}

// incrementLastByte returns the smallest byte string greater than every
// string sharing prefix, used as the exclusive upper bound of a
// prefix-scoped range scan. Returns nil if prefix is all 0xff bytes.
func incrementLastByte(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

func randomID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "run-" + hex.EncodeToString(b), nil
}
