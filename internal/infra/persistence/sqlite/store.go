// Package sqlite persists analysed datasets to a single SQLite table as JSON
// payload buckets, one bucket per dataset facet.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"lhecore/pkg/domain"
)

// Store is a snapshotting SQLite-backed dataset sink.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (creating if needed) a dataset store at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "lhecore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

var buckets = []string{"observables", "columns", "observations", "weights"}

// Save replaces the stored dataset with ds and its observable definitions.
func (s *Store) Save(ctx context.Context, ds domain.Dataset, defs []domain.ObservableDefinition) (retErr error) {
	if err := ds.Validate(); err != nil {
		return fmt.Errorf("refusing to persist malformed dataset: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		var data []byte
		switch bucket {
		case "observables":
			data, err = json.Marshal(defs)
		case "columns":
			data, err = json.Marshal(ds.Names)
		case "observations":
			data, err = json.Marshal(encodeObservations(ds.Observations))
		case "weights":
			data, err = json.Marshal(ds.Weights)
		}
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load hydrates the stored dataset. An empty store yields a zero dataset and
// nil definitions without error.
func (s *Store) Load(ctx context.Context) (domain.Dataset, []domain.ObservableDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return domain.Dataset{}, nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ds domain.Dataset
	var defs []domain.ObservableDefinition
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return domain.Dataset{}, nil, fmt.Errorf("scan state: %w", err)
		}
		found = true
		switch bucket {
		case "observables":
			err = json.Unmarshal(payload, &defs)
		case "columns":
			err = json.Unmarshal(payload, &ds.Names)
		case "observations":
			var cells map[string][]*float64
			if err = json.Unmarshal(payload, &cells); err == nil {
				ds.Observations = decodeObservations(cells)
			}
		case "weights":
			err = json.Unmarshal(payload, &ds.Weights)
		}
		if err != nil {
			return domain.Dataset{}, nil, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Dataset{}, nil, fmt.Errorf("iterate state: %w", err)
	}
	if !found {
		return domain.Dataset{}, nil, nil
	}
	if err := ds.Validate(); err != nil {
		return domain.Dataset{}, nil, fmt.Errorf("stored dataset malformed: %w", err)
	}
	return ds, defs, nil
}

// encoding/json rejects NaN, the missing-cell marker, so observation columns
// persist with null cells and are rehydrated on load.
func encodeObservations(obs map[string][]float64) map[string][]*float64 {
	out := make(map[string][]*float64, len(obs))
	for name, col := range obs {
		cells := make([]*float64, len(col))
		for i, v := range col {
			if !math.IsNaN(v) {
				value := v
				cells[i] = &value
			}
		}
		out[name] = cells
	}
	return out
}

func decodeObservations(cells map[string][]*float64) map[string][]float64 {
	out := make(map[string][]float64, len(cells))
	for name, col := range cells {
		values := make([]float64, len(col))
		for i, cell := range col {
			if cell == nil {
				values[i] = math.NaN()
			} else {
				values[i] = *cell
			}
		}
		out[name] = values
	}
	return out
}

// checkDefinitions rejects definition sets whose names diverge from the
// dataset columns. Nil definitions are allowed and persisted as-is.
func checkDefinitions(defs []domain.ObservableDefinition, names []string) error {
	if len(defs) == 0 {
		return nil
	}
	if len(defs) != len(names) {
		return fmt.Errorf("%d observable definitions for %d dataset columns", len(defs), len(names))
	}
	byName := make(map[string]bool, len(defs))
	for _, def := range defs {
		byName[def.Name] = true
	}
	for _, name := range names {
		if !byName[name] {
			return fmt.Errorf("no definition for observable %q", name)
		}
	}
	return nil
}

// SaveMerged appends ds to the already stored dataset, subject to the same
// key-set and weight-width checks as an in-process merge, then persists the
// combined rows. With an empty store it behaves like Save.
func (s *Store) SaveMerged(ctx context.Context, ds domain.Dataset, defs []domain.ObservableDefinition) error {
	existing, existingDefs, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if existing.Observations == nil {
		if err := checkDefinitions(defs, ds.Names); err != nil {
			return err
		}
		return s.Save(ctx, ds, defs)
	}
	if err := existing.Append(ds, s.path); err != nil {
		return err
	}
	if len(defs) == 0 {
		defs = existingDefs
	}
	if err := checkDefinitions(defs, existing.Names); err != nil {
		return err
	}
	return s.Save(ctx, existing, defs)
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
