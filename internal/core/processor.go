// Package core drives observable extraction: it walks registered LHE samples,
// evaluates the registered observable formulas per event, and folds the
// per-sample tables into one merged dataset with strict shape validation.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"lhecore/internal/lhe"
	"lhecore/internal/logging"
	"lhecore/pkg/domain"
	"lhecore/pkg/formula"
)

// observable pairs a definition with its compiled program.
type observable struct {
	def  domain.ObservableDefinition
	prog *formula.Program
}

// Processor accumulates sample filenames and observable definitions, then
// produces the merged dataset. Registration is closed once Run begins;
// further Add calls fail instead of racing a running extraction.
type Processor struct {
	logger  *slog.Logger
	metrics MetricsRecorder

	mu      sync.Mutex
	started bool
	samples []string
	order   []string
	defs    map[string]observable
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor logger. Defaults to a no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithMetrics attaches a metrics recorder. Defaults to no recording.
func WithMetrics(rec MetricsRecorder) Option {
	return func(p *Processor) { p.metrics = rec }
}

// NewProcessor constructs an empty processor.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		logger: logging.NewNop(),
		defs:   make(map[string]observable),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddSample registers one LHE sample filename. Order is preserved and
// duplicates are allowed; a duplicate is simply processed twice.
func (p *Processor) AddSample(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("add sample %s: registration closed, run already started", path)
	}
	if path == "" {
		return fmt.Errorf("add sample: empty filename")
	}
	p.samples = append(p.samples, path)
	p.logger.Info("registered lhe sample", "path", path)
	return nil
}

// AddObservable registers one observable definition, compiling the formula
// immediately so that a bad registration fails before any file is touched.
// Re-registering a name overwrites the earlier definition (last write wins),
// letting late configuration override defaults; registration order of the
// first occurrence is preserved for column layout.
func (p *Processor) AddObservable(name, formulaSrc string, required bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("add observable %s: registration closed, run already started", name)
	}
	if name == "" {
		return fmt.Errorf("add observable: empty name")
	}
	prog, err := formula.Compile(formulaSrc)
	if err != nil {
		return fmt.Errorf("add observable %s: %w", name, err)
	}
	if _, exists := p.defs[name]; !exists {
		p.order = append(p.order, name)
	}
	p.defs[name] = observable{
		def:  domain.ObservableDefinition{Name: name, Formula: formulaSrc, Required: required},
		prog: prog,
	}
	p.logger.Info("registered observable", "name", name, "formula", formulaSrc, "required", required)
	return nil
}

// Definitions returns the registered observable definitions in column order.
func (p *Processor) Definitions() []domain.ObservableDefinition {
	p.mu.Lock()
	defer p.mu.Unlock()
	defs := make([]domain.ObservableDefinition, 0, len(p.order))
	for _, name := range p.order {
		defs = append(defs, p.defs[name].def)
	}
	return defs
}

// Run processes every registered sample in registration order and returns the
// merged dataset. Any fatal error (IO, format, consistency) aborts the whole
// run; no partial dataset is returned alongside an error.
func (p *Processor) Run(ctx context.Context) (domain.Dataset, error) {
	p.mu.Lock()
	p.started = true
	samples := append([]string(nil), p.samples...)
	order := append([]string(nil), p.order...)
	defs := make([]observable, 0, len(order))
	for _, name := range order {
		defs = append(defs, p.defs[name])
	}
	p.mu.Unlock()

	merged := domain.NewDataset(definitionsOf(defs))
	weightCount := -1 // unknown until the first sample header

	for _, path := range samples {
		start := time.Now()
		table, wc, err := p.analyseSample(ctx, path, defs, weightCount)
		p.observe(ctx, "analyse_sample", err == nil, time.Since(start))
		if err != nil {
			return domain.Dataset{}, err
		}
		weightCount = wc
		if err := merged.Append(table, path); err != nil {
			return domain.Dataset{}, err
		}
	}
	return merged, nil
}

func definitionsOf(defs []observable) []domain.ObservableDefinition {
	out := make([]domain.ObservableDefinition, 0, len(defs))
	for _, o := range defs {
		out = append(out, o.def)
	}
	return out
}

// analyseSample builds the per-sample table: one column per observable plus
// the weight matrix, dropping events whose required observables fail.
// wantWeights is the weight-variation count established by earlier samples,
// or negative for the first sample; a header mismatch is rejected before any
// event is parsed.
func (p *Processor) analyseSample(ctx context.Context, path string, defs []observable, wantWeights int) (domain.Dataset, int, error) {
	p.logger.Info("analysing lhe sample", "path", path)

	reader, err := lhe.Open(path)
	if err != nil {
		return domain.Dataset{}, 0, err
	}
	defer func() { _ = reader.Close() }()

	wc := reader.WeightCount()
	if wantWeights >= 0 && wc != wantWeights {
		return domain.Dataset{}, 0, &domain.ConsistencyError{
			Path:     path,
			Reason:   "weight variation count mismatch",
			Expected: wantWeights,
			Actual:   wc,
		}
	}

	table := domain.NewDataset(definitionsOf(defs))
	row := make([]float64, len(defs))
	retained, dropped := 0, 0

	for {
		if err := ctx.Err(); err != nil {
			return domain.Dataset{}, 0, fmt.Errorf("analyse sample %s: %w", path, err)
		}
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return domain.Dataset{}, 0, err
		}

		keep := true
		for i, obs := range defs {
			v, evalErr := obs.prog.Eval(ev)
			if evalErr != nil {
				if obs.def.Required {
					keep = false
					break
				}
				v = math.NaN()
			}
			row[i] = v
		}
		if !keep {
			dropped++
			continue
		}
		for i, obs := range defs {
			table.Observations[obs.def.Name] = append(table.Observations[obs.def.Name], row[i])
		}
		table.Weights = append(table.Weights, append([]float64(nil), ev.Weights...))
		retained++
	}

	p.logger.Info("analysed lhe sample",
		"path", path,
		"events", retained,
		"dropped", dropped,
		"weight_variations", wc,
	)
	p.countEvents(ctx, path, retained, dropped)
	return table, wc, nil
}

func (p *Processor) observe(ctx context.Context, op string, success bool, d time.Duration) {
	if p.metrics != nil {
		p.metrics.Observe(ctx, op, success, d)
	}
}

func (p *Processor) countEvents(ctx context.Context, sample string, retained, dropped int) {
	if p.metrics != nil {
		p.metrics.CountEvents(ctx, sample, retained, dropped)
	}
}
