package engine

import (
	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/persona"
	"github.com/danielpatrickdp/funnel-sim/internal/policy"
	"github.com/danielpatrickdp/funnel-sim/internal/state"
)

// #region step-input
// StepInput carries everything one transition reads. None of it is mutated.
type StepInput struct {
	Priors    persona.Priors
	Archetype string
	Before    state.CognitiveState
	Step      funnel.Step
	Progress  float64 // steps already traversed over the run horizon, in [0,1)
}

// #endregion step-input

// #region rand
// Rand is the caller-supplied deterministic random stream used by the
// probabilistic strategy. *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
}

// #endregion rand

// #region costs
// Costs are the five cost/yield terms of one step.
type Costs struct {
	Cognitive        float64 `json:"cognitive"`
	Effort           float64 `json:"effort"`
	Risk             float64 `json:"risk"`
	ValueYield       float64 `json:"value_yield"`
	ReassuranceYield float64 `json:"reassurance_yield"`
}

// Total returns the sum of the three cost terms.
func (c Costs) Total() float64 {
	return c.Cognitive + c.Effort + c.Risk
}

// #endregion costs

// #region decision
// Decision is the continue/drop outcome of one transition.
type Decision struct {
	Continue    bool        `json:"continue"`
	Mode        policy.Mode `json:"mode"`
	Benefit     float64     `json:"benefit"`
	Cost        float64     `json:"cost"`
	Margin      float64     `json:"margin"`      // benefit - cost, before probabilistic modifiers
	Advantage   float64     `json:"advantage"`   // margin after modifiers (probabilistic only)
	Probability float64     `json:"probability"` // continuation probability; 1 or 0 when deterministic
}

// #endregion decision

// #region labels
// Cost labels used for drop attribution.
const (
	LabelCognitiveFatigue = "cognitive_fatigue"
	LabelEffort           = "effort_cost"
	LabelLossAversion     = "loss_aversion"
	LabelMultiFactor      = "multi_factor_failure"
)

// Attribution names the cost responsible for a drop.
type Attribution struct {
	Dominant       string  `json:"dominant"`
	DominantShare  float64 `json:"dominant_share"`
	Secondary      string  `json:"secondary,omitempty"`
	SecondaryShare float64 `json:"secondary_share,omitempty"`
}

// #endregion labels

// #region transition
// Transition is the result of one step.
type Transition struct {
	Before      state.CognitiveState
	After       state.CognitiveState
	Costs       Costs
	Decision    Decision
	Attribution Attribution // zero unless the decision is a drop
}

// #endregion transition
