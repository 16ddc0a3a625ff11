// Package ledger groups sealed decisions into persona classes and records
// policy-stamped assertions about them in an append-only store.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// #region assertion
// Kind names one of the three assertion shapes.
type Kind string

const (
	KindBoundary  Kind = "decision_boundary"
	KindPrecedent Kind = "precedent"
	KindDensity   Kind = "decision_density"
)

// TraceRef points at one persona x variant trajectory.
type TraceRef struct {
	PersonaID string `json:"persona_id"`
	VariantID string `json:"variant_id"`
}

// Boundary counts accepted and rejected decisions of one coherent class at
// one step. Counterexamples are the decisions against the majority outcome.
type Boundary struct {
	Accepted        int            `json:"accepted"`
	Rejected        int            `json:"rejected"`
	Majority        string         `json:"majority"`
	Counterexamples []TraceRef     `json:"counterexamples"`
	Forces          map[string]int `json:"forces,omitempty"`
}

// Precedent is a drop pattern that recurred within a class at a step.
type Precedent struct {
	Pattern     string `json:"pattern"`
	Occurrences int    `json:"occurrences"`
	Stable      bool   `json:"stable"`
}

// Density summarises rejections at a step over every persona reaching it.
type Density struct {
	Reached            int     `json:"reached"`
	Rejected           int     `json:"rejected"`
	RejectionRate      float64 `json:"rejection_rate"`
	RejectionsObserved bool    `json:"rejections_observed"`
	Terminal           bool    `json:"terminal"`
}

// Assertion is one immutable ledger entry. ID is derived from the rest of
// the content so identical input always yields identical ids.
type Assertion struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	StepIndex       int       `json:"step_index"`
	StepName        string    `json:"step_name"`
	ClassKey        string    `json:"class_key,omitempty"`
	PolicyVersion   string    `json:"policy_version"`
	Supporting      int       `json:"supporting"`
	Counterexamples int       `json:"counterexamples"`
	Coherence       float64   `json:"coherence"`
	FirstObserved   time.Time `json:"first_observed"`
	LastObserved    time.Time `json:"last_observed"`

	Boundary  *Boundary  `json:"boundary,omitempty"`
	Precedent *Precedent `json:"precedent,omitempty"`
	Density   *Density   `json:"density,omitempty"`
}

// #endregion assertion

// #region class
// Bands are the discretised traits and state defining a persona class.
type Bands struct {
	RiskTolerance      string `json:"risk_tolerance"`
	CognitiveCapacity  string `json:"cognitive_capacity"`
	MotivationStrength string `json:"motivation_strength"`
	Energy             string `json:"energy"`
}

// Key renders the bands as a stable class key.
func (b Bands) Key() string {
	return strings.Join([]string{
		"risk=" + b.RiskTolerance,
		"capacity=" + b.CognitiveCapacity,
		"motivation=" + b.MotivationStrength,
		"energy=" + b.Energy,
	}, "|")
}

// PersonaClass is a (step, bands) group of decisions with its coherence.
type PersonaClass struct {
	StepIndex int     `json:"step_index"`
	Key       string  `json:"key"`
	Bands     Bands   `json:"bands"`
	Coherence float64 `json:"coherence"`
	Members   int     `json:"members"`
	Eligible  bool    `json:"eligible"`
}

// Excluded counts decisions left out of assertions at one step because their
// class fell below the coherence threshold.
type Excluded struct {
	StepIndex int    `json:"step_index"`
	StepName  string `json:"step_name"`
	Classes   int    `json:"classes"`
	Decisions int    `json:"decisions"`
}

// Derivation is the full output of one derive pass.
type Derivation struct {
	PolicyVersion string         `json:"policy_version"`
	Assertions    []Assertion    `json:"assertions"`
	Classes       []PersonaClass `json:"classes"`
	Excluded      []Excluded     `json:"excluded"`
}

// #endregion class

// #region errors
// ErrIntegrity reports an append that would alter an existing assertion.
var ErrIntegrity = errors.New("ledger integrity violation")

// IntegrityError lists traces citing policy versions the registry lacks.
type IntegrityError struct {
	Orphans []Orphan
}

// Orphan is one trace citing an unknown policy version.
type Orphan struct {
	Trace         TraceRef
	PolicyVersion string
}

func (e *IntegrityError) Error() string {
	parts := make([]string, 0, len(e.Orphans))
	for _, o := range e.Orphans {
		parts = append(parts, fmt.Sprintf("%s/%s->%q", o.Trace.PersonaID, o.Trace.VariantID, o.PolicyVersion))
	}
	return fmt.Sprintf("%d orphaned policy references: %s", len(e.Orphans), strings.Join(parts, ", "))
}

// Unwrap lets errors.Is match ErrIntegrity.
func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// #endregion errors
