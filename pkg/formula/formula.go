// Package formula compiles observable definitions into small expression
// programs evaluated against one event. A formula is an arithmetic expression
// over particle kinematics, e.g.
//
//	p[0].e + p[1].e
//	sqrt(p[0].px*p[0].px + p[0].py*p[0].py)
//	atan2(p[2].py, p[2].px)
//
// Available particle fields: e, px, py, pz, pt, eta, phi, m, p, rapidity,
// theta, pdgid, status. The bare identifier nparticles yields the particle
// count. Supported functions: abs, sqrt, log, exp, cos, sin, atan2, min, max.
//
// Evaluation is pure and deterministic: the same event and program always
// produce the same value. A particle index outside the event's particle list,
// or a non-finite result (NaN or Inf), yields an evaluation error; the caller
// decides whether that drops the event or blanks a single cell.
package formula

import (
	"fmt"
	"math"

	"lhecore/pkg/domain"
)

// Program is a compiled observable formula. Programs are immutable and safe
// for concurrent use.
type Program struct {
	src  string
	root node
}

// Compile parses src into a Program. Syntax errors, unknown fields, unknown
// functions, and arity mistakes are reported at compile time so that a bad
// registration fails before any file is processed.
func Compile(src string) (*Program, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, &CompileError{Src: src, Pos: p.tok.pos, Reason: fmt.Sprintf("unexpected %q", p.tok.text)}
	}
	return &Program{src: src, root: root}, nil
}

// Source returns the original formula text.
func (p *Program) Source() string { return p.src }

// Eval computes the formula against one event.
func (p *Program) Eval(ev domain.Event) (float64, error) {
	v, err := p.root.eval(ev)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &EvalError{Src: p.src, Reason: "result is not finite"}
	}
	return v, nil
}

// CompileError reports a formula rejected at registration time.
type CompileError struct {
	Src    string
	Pos    int
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("formula %q: offset %d: %s", e.Src, e.Pos, e.Reason)
}

// EvalError reports a formula that could not be evaluated against one event,
// e.g. a particle index beyond the event's particle count. It never escapes
// the sample builder; the required/optional policy absorbs it.
type EvalError struct {
	Src    string
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("formula %q: %s", e.Src, e.Reason)
}

// --- expression tree ---

type node interface {
	eval(ev domain.Event) (float64, error)
}

type literal float64

func (l literal) eval(domain.Event) (float64, error) { return float64(l), nil }

type nparticles struct{}

func (nparticles) eval(ev domain.Event) (float64, error) {
	return float64(len(ev.Particles)), nil
}

// particleField reads one kinematic field of the particle selected by the
// index expression.
type particleField struct {
	src   string
	index node
	field string
}

func (f particleField) eval(ev domain.Event) (float64, error) {
	raw, err := f.index.eval(ev)
	if err != nil {
		return 0, err
	}
	idx := int(math.Trunc(raw))
	if float64(idx) != raw {
		return 0, &EvalError{Src: f.src, Reason: fmt.Sprintf("particle index %v is not an integer", raw)}
	}
	if idx < 0 || idx >= len(ev.Particles) {
		return 0, &EvalError{Src: f.src, Reason: fmt.Sprintf("particle index %d out of range (event has %d particles)", idx, len(ev.Particles))}
	}
	part := ev.Particles[idx]
	switch f.field {
	case "e":
		return part.E, nil
	case "px":
		return part.Px, nil
	case "py":
		return part.Py, nil
	case "pz":
		return part.Pz, nil
	case "pt":
		return part.Pt(), nil
	case "eta":
		return part.Eta(), nil
	case "phi":
		return part.Phi(), nil
	case "m":
		return part.Mass(), nil
	case "p":
		return part.P(), nil
	case "rapidity":
		return part.Rapidity(), nil
	case "theta":
		return part.Theta(), nil
	case "pdgid":
		return float64(part.PDGID), nil
	case "status":
		return float64(part.Status), nil
	}
	// Unknown fields are rejected at compile time; this is unreachable.
	return 0, &EvalError{Src: f.src, Reason: "unknown particle field " + f.field}
}

type unary struct {
	op  byte
	arg node
}

func (u unary) eval(ev domain.Event) (float64, error) {
	v, err := u.arg.eval(ev)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

type binary struct {
	op       byte
	lhs, rhs node
}

func (b binary) eval(ev domain.Event) (float64, error) {
	l, err := b.lhs.eval(ev)
	if err != nil {
		return 0, err
	}
	r, err := b.rhs.eval(ev)
	if err != nil {
		return 0, err
	}
	switch b.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	default:
		return l / r, nil
	}
}

type call struct {
	name string
	args []node
}

func (c call) eval(ev domain.Event) (float64, error) {
	vals := make([]float64, len(c.args))
	for i, arg := range c.args {
		v, err := arg.eval(ev)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	switch c.name {
	case "abs":
		return math.Abs(vals[0]), nil
	case "sqrt":
		return math.Sqrt(vals[0]), nil
	case "log":
		return math.Log(vals[0]), nil
	case "exp":
		return math.Exp(vals[0]), nil
	case "cos":
		return math.Cos(vals[0]), nil
	case "sin":
		return math.Sin(vals[0]), nil
	case "atan2":
		return math.Atan2(vals[0], vals[1]), nil
	case "min":
		return math.Min(vals[0], vals[1]), nil
	case "max":
		return math.Max(vals[0], vals[1]), nil
	}
	// Arity and names are checked at compile time.
	return 0, &EvalError{Src: c.name, Reason: "unknown function"}
}
