// Package domain defines the core value types shared across lhecore: particles,
// events, observable definitions, and the merged dataset produced by a run.
package domain

import "math"

// ParticleStatus mirrors the Les Houches status codes (ISTUP) that matter to
// observable extraction.
type ParticleStatus int

// Les Houches status codes. Beam particles and resonances carry other codes
// and are kept verbatim.
const (
	// StatusIncoming marks an incoming beam-level particle (ISTUP -1).
	StatusIncoming ParticleStatus = -1
	// StatusOutgoing marks a final-state particle (ISTUP +1).
	StatusOutgoing ParticleStatus = 1
	// StatusIntermediate marks an intermediate resonance (ISTUP +2).
	StatusIntermediate ParticleStatus = 2
)

// Particle is one entry of an event record: a four-momentum plus the PDG
// particle code and Les Houches status. Immutable once parsed.
type Particle struct {
	E      float64        `json:"e"`
	Px     float64        `json:"px"`
	Py     float64        `json:"py"`
	Pz     float64        `json:"pz"`
	PDGID  int            `json:"pdgid"`
	Status ParticleStatus `json:"status"`
}

// Pt returns the transverse momentum.
func (p Particle) Pt() float64 { return math.Hypot(p.Px, p.Py) }

// P returns the magnitude of the three-momentum.
func (p Particle) P() float64 { return math.Sqrt(p.Px*p.Px + p.Py*p.Py + p.Pz*p.Pz) }

// Phi returns the azimuthal angle in (-pi, pi].
func (p Particle) Phi() float64 { return math.Atan2(p.Py, p.Px) }

// Theta returns the polar angle measured from the beam axis.
func (p Particle) Theta() float64 { return math.Atan2(p.Pt(), p.Pz) }

// Eta returns the pseudorapidity. A particle exactly along the beam axis has
// no defined pseudorapidity; the result is +/-Inf and formula evaluation
// treats the observable as failed.
func (p Particle) Eta() float64 {
	mom := p.P()
	return 0.5 * math.Log((mom+p.Pz)/(mom-p.Pz))
}

// Rapidity returns the longitudinal rapidity.
func (p Particle) Rapidity() float64 {
	return 0.5 * math.Log((p.E+p.Pz)/(p.E-p.Pz))
}

// Mass returns the invariant mass. Small negative E^2-|p|^2 from rounding in
// the event record is clamped to zero.
func (p Particle) Mass() float64 {
	m2 := p.E*p.E - (p.Px*p.Px + p.Py*p.Py + p.Pz*p.Pz)
	if m2 < 0 {
		return 0
	}
	return math.Sqrt(m2)
}

// Event is one collision record: the ordered particle content and the event
// weight vector. The weight length is constant within one sample file.
type Event struct {
	Particles []Particle `json:"particles"`
	Weights   []float64  `json:"weights"`
}

// ObservableDefinition names one derived quantity and the formula computing
// it from an event. A required observable invalidates the whole event when
// its formula cannot be evaluated; an optional one only blanks its own cell.
type ObservableDefinition struct {
	Name     string `json:"name"`
	Formula  string `json:"formula"`
	Required bool   `json:"required"`
}

// CloneDefinitions returns a defensive copy of a definition slice.
func CloneDefinitions(defs []ObservableDefinition) []ObservableDefinition {
	if len(defs) == 0 {
		return nil
	}
	cloned := make([]ObservableDefinition, len(defs))
	copy(cloned, defs)
	return cloned
}
