package domain

// Dataset pairs the per-observable columns with the event weight matrix for
// one or more merged samples. Names preserves observable registration order
// so downstream consumers iterate columns deterministically.
//
// Invariant: len(Observations[name]) == len(Weights) for every name, and all
// weight rows share one length (the weight-variation count of the run).
type Dataset struct {
	Names        []string             `json:"names"`
	Observations map[string][]float64 `json:"observations"`
	Weights      [][]float64          `json:"weights"`
}

// NewDataset returns an empty dataset carrying the full key set for the given
// definitions. A run over zero samples yields exactly this shape.
func NewDataset(defs []ObservableDefinition) Dataset {
	ds := Dataset{Observations: make(map[string][]float64, len(defs))}
	for _, def := range defs {
		ds.Names = append(ds.Names, def.Name)
		ds.Observations[def.Name] = nil
	}
	return ds
}

// Rows returns the number of retained events.
func (d Dataset) Rows() int { return len(d.Weights) }

// WeightVariations returns the weight-column count, or zero for an empty
// dataset that has not seen a sample yet.
func (d Dataset) WeightVariations() int {
	if len(d.Weights) == 0 {
		return 0
	}
	return len(d.Weights[0])
}

// Column returns the named observable column.
func (d Dataset) Column(name string) ([]float64, bool) {
	col, ok := d.Observations[name]
	return col, ok
}

// Validate checks the shape invariant: every column as long as the weight
// matrix, every weight row of equal width, key list matching the map.
func (d Dataset) Validate() error {
	if len(d.Names) != len(d.Observations) {
		return &ConsistencyError{Reason: "observable name list does not match column map"}
	}
	rows := len(d.Weights)
	width := d.WeightVariations()
	for _, row := range d.Weights {
		if len(row) != width {
			return &ConsistencyError{Reason: "ragged weight matrix"}
		}
	}
	for _, name := range d.Names {
		col, ok := d.Observations[name]
		if !ok {
			return &ConsistencyError{Reason: "observable " + name + " missing from column map"}
		}
		if len(col) != rows {
			return &ConsistencyError{Reason: "observable " + name + " column length does not match weight rows"}
		}
	}
	return nil
}

// Clone returns a deep copy of the dataset.
func (d Dataset) Clone() Dataset {
	out := Dataset{
		Names:        append([]string(nil), d.Names...),
		Observations: make(map[string][]float64, len(d.Observations)),
	}
	for name, col := range d.Observations {
		out.Observations[name] = append([]float64(nil), col...)
	}
	if d.Weights != nil {
		out.Weights = make([][]float64, len(d.Weights))
		for i, row := range d.Weights {
			out.Weights[i] = append([]float64(nil), row...)
		}
	}
	return out
}

// Append folds src into dst row-wise, in place. The first non-empty source
// seeds the weight width; afterwards src must carry the same weight-variation
// count and the identical observable key set, otherwise a *ConsistencyError
// describing the mismatch (including path for diagnostics) is returned and
// dst is left untouched.
func (d *Dataset) Append(src Dataset, path string) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if d.Rows() > 0 && src.Rows() > 0 && d.WeightVariations() != src.WeightVariations() {
		return &ConsistencyError{
			Path:     path,
			Reason:   "weight variation count mismatch",
			Expected: d.WeightVariations(),
			Actual:   src.WeightVariations(),
		}
	}
	if err := d.checkKeySet(src, path); err != nil {
		return err
	}
	for _, name := range d.Names {
		d.Observations[name] = append(d.Observations[name], src.Observations[name]...)
	}
	for _, row := range src.Weights {
		d.Weights = append(d.Weights, append([]float64(nil), row...))
	}
	return nil
}

// checkKeySet enforces exact key-set equality, not just equal size: a missing
// key is fatal rather than silently zero-filled.
func (d Dataset) checkKeySet(src Dataset, path string) error {
	if len(d.Observations) != len(src.Observations) {
		return &ConsistencyError{
			Path:     path,
			Reason:   "observable count mismatch",
			Expected: len(d.Observations),
			Actual:   len(src.Observations),
		}
	}
	for _, name := range d.Names {
		if _, ok := src.Observations[name]; !ok {
			return &ConsistencyError{Path: path, Reason: "observable " + name + " missing from sample"}
		}
	}
	return nil
}
