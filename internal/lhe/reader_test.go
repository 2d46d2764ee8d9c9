package lhe

import (
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"lhecore/pkg/domain"
)

const singleWeightSample = `<LesHouchesEvents version="3.0">
<header>
generated for tests
</header>
<init>
2212 2212 6.5e+03 6.5e+03 0 0 247000 247000 -4 1
1.0e+00 1.0e-02 1.0e+00 1
</init>
<event>
2 1 0.5 91.18 0.0078 0.118
11 1 0 0 0 0 3.0 4.0 12.0 50.0 0.0 0.0 1.0
-11 1 0 0 0 0 -3.0 -4.0 5.0 30.0 0.0 0.0 -1.0
</event>
<event>
1 1 0.25 91.18 0.0078 0.118
22 1 0 0 0 0 0.0 0.0 10.0 10.0 0.0 0.0 0.0
</event>
</LesHouchesEvents>
`

const reweightedSample = `<LesHouchesEvents version="3.0">
<header>
<initrwgt>
<weightgroup name="scale">
<weight id='w0'>nominal</weight>
<weight id='w1'>mu=2.0</weight>
</weightgroup>
</initrwgt>
</header>
<init>
2212 2212 6.5e+03 6.5e+03 0 0 247000 247000 -4 1
1.0e+00 1.0e-02 1.0e+00 1
</init>
<event>
1 1 0.5 91.18 0.0078 0.118
22 1 0 0 0 0 1.0 0.0 0.0 1.0 0.0 0.0 0.0
<rwgt>
<wgt id='w0'> 0.5 </wgt>
<wgt id='w1'> 0.75 </wgt>
</rwgt>
</event>
</LesHouchesEvents>
`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.lhe")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []domain.Event {
	t.Helper()
	var events []domain.Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		events = append(events, ev)
	}
}

func TestReadSingleWeightSample(t *testing.T) {
	r, err := Open(writeSample(t, singleWeightSample))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = r.Close() }()

	if got := r.WeightCount(); got != 1 {
		t.Fatalf("weight count: got %d want 1", got)
	}
	events := readAll(t, r)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	first := events[0]
	if len(first.Particles) != 2 {
		t.Fatalf("expected 2 particles, got %d", len(first.Particles))
	}
	p := first.Particles[0]
	if p.PDGID != 11 || p.Status != domain.StatusOutgoing {
		t.Fatalf("unexpected particle identity: %+v", p)
	}
	// PUP order is px py pz E m.
	if p.Px != 3 || p.Py != 4 || p.Pz != 12 || p.E != 50 {
		t.Fatalf("unexpected four-momentum: %+v", p)
	}
	if len(first.Weights) != 1 || first.Weights[0] != 0.5 {
		t.Fatalf("unexpected weights: %v", first.Weights)
	}
	if len(events[1].Particles) != 1 || events[1].Weights[0] != 0.25 {
		t.Fatalf("unexpected second event: %+v", events[1])
	}

	// Stream is single-pass: exhausted readers keep returning EOF.
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after exhaustion, got %v", err)
	}
}

func TestReadReweightedSample(t *testing.T) {
	r, err := Open(writeSample(t, reweightedSample))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = r.Close() }()

	if got := r.WeightCount(); got != 2 {
		t.Fatalf("weight count: got %d want 2", got)
	}
	ids := r.WeightIDs()
	if len(ids) != 2 || ids[0] != "w0" || ids[1] != "w1" {
		t.Fatalf("unexpected weight ids: %v", ids)
	}
	events := readAll(t, r)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	w := events[0].Weights
	if len(w) != 2 || w[0] != 0.5 || w[1] != 0.75 {
		t.Fatalf("unexpected weights: %v", w)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.lhe"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected wrapped fs.ErrNotExist, got %v", err)
	}
}

func TestFormatErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no root", "just some text\n"},
		{"no init", "<LesHouchesEvents>\n</LesHouchesEvents>\n"},
		{
			"short particle line",
			"<LesHouchesEvents>\n<init>\nx\nx\n</init>\n<event>\n1 1 0.5 0 0 0\n11 1 0 0\n</event>\n</LesHouchesEvents>\n",
		},
		{
			"non numeric momentum",
			"<LesHouchesEvents>\n<init>\nx\nx\n</init>\n<event>\n1 1 0.5 0 0 0\n11 1 0 0 0 0 bad 0.0 0.0 1.0 0.0 0 0\n</event>\n</LesHouchesEvents>\n",
		},
		{
			"missing particle lines",
			"<LesHouchesEvents>\n<init>\nx\nx\n</init>\n<event>\n2 1 0.5 0 0 0\n11 1 0 0 0 0 0.0 0.0 0.0 1.0 0.0 0 0\n</event>\n</LesHouchesEvents>\n",
		},
		{
			"unterminated event",
			"<LesHouchesEvents>\n<init>\nx\nx\n</init>\n<event>\n1 1 0.5 0 0 0\n11 1 0 0 0 0 0.0 0.0 0.0 1.0 0.0 0 0\n",
		},
		{
			"non numeric event header",
			"<LesHouchesEvents>\n<init>\nx\nx\n</init>\n<event>\nnope 1 0.5 0 0 0\n</event>\n</LesHouchesEvents>\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := Open(writeSample(t, tc.content))
			if err == nil {
				defer func() { _ = r.Close() }()
				for {
					if _, err = r.Next(); err != nil {
						break
					}
				}
			}
			if errors.Is(err, io.EOF) {
				t.Fatalf("expected format error, stream ended cleanly")
			}
			var ferr *domain.FormatError
			if !errors.As(err, &ferr) {
				t.Fatalf("expected FormatError, got %v", err)
			}
			if ferr.Path == "" || ferr.Line == 0 {
				t.Fatalf("format error lacks location: %+v", ferr)
			}
		})
	}
}

func TestFortranExponents(t *testing.T) {
	content := "<LesHouchesEvents>\n<init>\nx\nx\n</init>\n<event>\n1 1 0.5D+00 0 0 0\n22 1 0 0 0 0 0.1D+01 0.0 0.0 0.1D+01 0.0 0 0\n</event>\n</LesHouchesEvents>\n"
	r, err := Open(writeSample(t, content))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = r.Close() }()
	events := readAll(t, r)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if math.Abs(events[0].Particles[0].Px-1.0) > 1e-12 {
		t.Fatalf("D exponent not normalized: %+v", events[0].Particles[0])
	}
	if events[0].Weights[0] != 0.5 {
		t.Fatalf("unexpected weight: %v", events[0].Weights)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r, err := Open(writeSample(t, singleWeightSample))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
