package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"lhecore/pkg/domain"
)

func testDataset(e0 []float64, weights [][]float64) domain.Dataset {
	return domain.Dataset{
		Names:        []string{"e0"},
		Observations: map[string][]float64{"e0": e0},
		Weights:      weights,
	}
}

func testDefs() []domain.ObservableDefinition {
	return []domain.ObservableDefinition{{Name: "e0", Formula: "p[0].e", Required: true}}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "data", "lhecore.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ds := testDataset([]float64{50, 60}, [][]float64{{1.0}, {2.0}})
	if err := store.Save(ctx, ds, testDefs()); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, defs, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Rows() != 2 || got.Observations["e0"][1] != 60 || got.Weights[0][0] != 1.0 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(defs) != 1 || defs[0].Formula != "p[0].e" || !defs[0].Required {
		t.Fatalf("definitions lost: %+v", defs)
	}
}

func TestRoundTripPreservesMissingCells(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ds := domain.Dataset{
		Names: []string{"e0", "eta1"},
		Observations: map[string][]float64{
			"e0":   {50, 60},
			"eta1": {1.2, math.NaN()},
		},
		Weights: [][]float64{{1.0}, {2.0}},
	}
	if err := store.Save(ctx, ds, nil); err != nil {
		t.Fatalf("save with missing cell: %v", err)
	}

	got, _, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !math.IsNaN(got.Observations["eta1"][1]) {
		t.Fatalf("missing cell lost: %v", got.Observations["eta1"])
	}
	if got.Observations["eta1"][0] != 1.2 || got.Observations["e0"][1] != 60 {
		t.Fatalf("present cells corrupted: %+v", got.Observations)
	}
}

func TestLoadEmptyStore(t *testing.T) {
	store := newTestStore(t)
	ds, defs, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ds.Rows() != 0 || defs != nil {
		t.Fatalf("expected empty result, got %+v %+v", ds, defs)
	}
}

func TestSaveRejectsMalformedDataset(t *testing.T) {
	store := newTestStore(t)
	bad := domain.Dataset{
		Names:        []string{"e0"},
		Observations: map[string][]float64{"e0": {1}},
		Weights:      [][]float64{{1.0}, {2.0}}, // column shorter than weights
	}
	if err := store.Save(context.Background(), bad, testDefs()); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSaveMergedAppendsRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveMerged(ctx, testDataset([]float64{50}, [][]float64{{1.0}}), testDefs()); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if err := store.SaveMerged(ctx, testDataset([]float64{60, 70}, [][]float64{{2.0}, {3.0}}), nil); err != nil {
		t.Fatalf("second merge: %v", err)
	}

	got, defs, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Rows() != 3 {
		t.Fatalf("expected 3 rows after merge, got %d", got.Rows())
	}
	want := []float64{50, 60, 70}
	for i, v := range want {
		if got.Observations["e0"][i] != v {
			t.Fatalf("append order broken: %v", got.Observations["e0"])
		}
	}
	if len(defs) != 1 {
		t.Fatalf("definitions should survive merge without redefinition: %+v", defs)
	}
}

func TestSaveMergedRejectsWidthMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveMerged(ctx, testDataset([]float64{50}, [][]float64{{1.0, 1.1}}), testDefs()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := store.SaveMerged(ctx, testDataset([]float64{60}, [][]float64{{2.0}}), nil)
	if err == nil {
		t.Fatalf("expected weight width mismatch error")
	}

	got, _, loadErr := store.Load(ctx)
	if loadErr != nil {
		t.Fatalf("load: %v", loadErr)
	}
	if got.Rows() != 1 {
		t.Fatalf("failed merge mutated stored dataset: %d rows", got.Rows())
	}
}

func TestSaveMergedRejectsForeignDefinitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveMerged(ctx, testDataset([]float64{50}, [][]float64{{1.0}}), testDefs()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	foreign := []domain.ObservableDefinition{{Name: "pt0", Formula: "p[0].pt"}}
	if err := store.SaveMerged(ctx, testDataset([]float64{60}, [][]float64{{2.0}}), foreign); err == nil {
		t.Fatalf("expected definition/column mismatch error")
	}

	got, defs, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Rows() != 1 || len(defs) != 1 || defs[0].Name != "e0" {
		t.Fatalf("rejected merge mutated store: %+v %+v", got, defs)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lhecore.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := store.Save(context.Background(), testDataset([]float64{50}, [][]float64{{1.0}}), testDefs()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	got, _, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Rows() != 1 || got.Observations["e0"][0] != 50 {
		t.Fatalf("dataset did not survive reopen: %+v", got)
	}
}
