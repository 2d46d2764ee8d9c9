package formula

import (
	"errors"
	"math"
	"testing"

	"lhecore/pkg/domain"
)

func testEvent() domain.Event {
	return domain.Event{
		Particles: []domain.Particle{
			{E: 50, Px: 3, Py: 4, Pz: 12, PDGID: 11, Status: domain.StatusOutgoing},
			{E: 30, Px: -3, Py: -4, Pz: 5, PDGID: -11, Status: domain.StatusOutgoing},
		},
		Weights: []float64{1},
	}
}

func TestEvalExpressions(t *testing.T) {
	ev := testEvent()
	cases := []struct {
		src  string
		want float64
	}{
		{"p[0].e", 50},
		{"p[0].e + p[1].e", 80},
		{"p[0].px * p[0].px + p[0].py * p[0].py", 25},
		{"sqrt(p[0].px*p[0].px + p[0].py*p[0].py)", 5},
		{"p[0].pt", 5},
		{"p[1].pdgid", -11},
		{"nparticles", 2},
		{"-p[0].pz / 2", -6},
		{"2 * (p[0].e - p[1].e)", 40},
		{"atan2(p[0].py, p[0].px)", math.Atan2(4, 3)},
		{"min(p[0].e, p[1].e)", 30},
		{"max(p[0].e, p[1].e)", 50},
		{"abs(p[1].px)", 3},
		{"1.5e2", 150},
		{"p[2-1].e", 30},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			prog, err := Compile(tc.src)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got, err := prog.Eval(ev)
			if err != nil {
				t.Fatalf("eval: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	cases := []string{
		"",
		"p[0]",
		"p[0].unknown",
		"q[0].e",
		"sqrt(1,2)",
		"atan2(1)",
		"p[0].e +",
		"(p[0].e",
		"1 $ 2",
		"nosuchfn(1)",
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			if _, err := Compile(src); err == nil {
				t.Fatalf("expected compile error for %q", src)
			}
		})
	}
}

func TestEvalIndexOutOfRange(t *testing.T) {
	prog, err := Compile("p[5].e")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, err = prog.Eval(testEvent())
	var everr *EvalError
	if !errors.As(err, &everr) {
		t.Fatalf("expected EvalError, got %v", err)
	}
}

func TestEvalNonIntegerIndex(t *testing.T) {
	prog, err := Compile("p[0.5].e")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := prog.Eval(testEvent()); err == nil {
		t.Fatalf("expected error for fractional particle index")
	}
}

func TestEvalNonFiniteResultFails(t *testing.T) {
	// Pseudorapidity is undefined for a beam-axis particle; the evaluator must
	// report a failure instead of propagating Inf into the dataset.
	prog, err := Compile("p[0].eta")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ev := domain.Event{Particles: []domain.Particle{{E: 10, Pz: 10}}, Weights: []float64{1}}
	_, err = prog.Eval(ev)
	var everr *EvalError
	if !errors.As(err, &everr) {
		t.Fatalf("expected EvalError for non-finite result, got %v", err)
	}

	if _, err := Compile("log(0-1)"); err != nil {
		t.Fatalf("compile: %v", err)
	}
	logProg, _ := Compile("log(0-1)")
	if _, err := logProg.Eval(testEvent()); err == nil {
		t.Fatalf("expected error for NaN result")
	}
}

func TestEvalIsDeterministic(t *testing.T) {
	prog, err := Compile("sqrt(p[0].e * p[1].e) + p[0].phi")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ev := testEvent()
	first, err := prog.Eval(ev)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	for i := 0; i < 100; i++ {
		got, err := prog.Eval(ev)
		if err != nil || got != first {
			t.Fatalf("eval drifted: got %v (%v), want %v", got, err, first)
		}
	}
}
