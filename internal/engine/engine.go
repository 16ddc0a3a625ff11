// Package engine implements the per-step cognitive-state transition: cost and
// yield terms, the bounded state update, and the continue/drop decision.
package engine

import (
	"math"

	"github.com/danielpatrickdp/funnel-sim/internal/policy"
	"github.com/danielpatrickdp/funnel-sim/internal/state"
)

// #region engine
// Engine applies one policy's parameters. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	params policy.Params
}

// New creates an engine bound to a private copy of params.
func New(params policy.Params) *Engine {
	return &Engine{params: params.Clone()}
}

// Params returns a copy of the engine parameters.
func (e *Engine) Params() policy.Params {
	return e.params.Clone()
}

// Step is the pure transition function: costs, clamped next state, decision,
// and on drop the dominant-cost attribution. rng is only consumed in
// probabilistic mode and may be nil in deterministic mode.
func (e *Engine) Step(in StepInput, rng Rand) Transition {
	costs := ComputeCosts(e.params, in)
	after := Apply(in.Before, costs)

	var dec Decision
	switch e.params.Mode {
	case policy.ModeProbabilistic:
		dec = decideProbabilistic(e.params, in, costs, after, rng)
	default:
		dec = decideDeterministic(in, after)
	}

	t := Transition{
		Before:   in.Before,
		After:    after,
		Costs:    costs,
		Decision: dec,
	}
	if !dec.Continue {
		t.Attribution = Attribute(costs, e.params)
	}
	return t
}

// #endregion engine

// #region costs
// ComputeCosts evaluates the five cost/yield terms for one step.
func ComputeCosts(p policy.Params, in StepInput) Costs {
	t, s, b := in.Priors, in.Step, in.Before

	cognitive := p.CognitiveWeight * s.CognitiveDemand *
		(1.2 - t.CognitiveCapacity) * (1 + t.FatigueRate) * (1.5 - b.Energy)
	cognitive += p.MismatchWeight * s.IntentMismatch

	effort := p.EffortWeight * s.EffortDemand * (1.1 - t.EffortTolerance)

	risk := p.RiskWeight * s.RiskSignal * (1 - 0.5*t.RiskTolerance) * t.LossAversion
	if s.Irreversible {
		risk *= p.IrreversibilityMultiplier
	}
	if s.CollectsPersonalData {
		risk *= p.PersonalDataMultiplier
	}

	value := p.ValueWeight * s.ValueSignal * math.Exp(-t.DiscountRate*s.DelayToValue)

	reassurance := p.ReassuranceWeight *
		(s.ReassuranceSignal*(0.5+0.5*t.TrustBaseline) + s.ControlSignal*t.ControlNeed)
	if s.ShowsProgress {
		reassurance *= 1.1
	}

	return Costs{
		Cognitive:        nonNegative(cognitive),
		Effort:           nonNegative(effort),
		Risk:             nonNegative(risk),
		ValueYield:       nonNegative(value),
		ReassuranceYield: nonNegative(reassurance),
	}
}

// Apply adds each cost/yield to its state field and clamps the result.
func Apply(before state.CognitiveState, c Costs) state.CognitiveState {
	return state.CognitiveState{
		Energy:           before.Energy - c.Cognitive,
		PerceivedRisk:    before.PerceivedRisk + c.Risk,
		PerceivedEffort:  before.PerceivedEffort + c.Effort,
		PerceivedValue:   before.PerceivedValue + c.ValueYield,
		PerceivedControl: before.PerceivedControl + c.ReassuranceYield,
	}.Clamp()
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

// #endregion costs
