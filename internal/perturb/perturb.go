// Package perturb applies single, isolated changes to a copy of a step list
// for counterfactual comparison.
package perturb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
)

// #region types
// Type is one of the closed set of perturbation kinds.
type Type string

const (
	ReduceEffort         Type = "reduce_effort"
	DelayStep            Type = "delay_step"
	IncreaseValue        Type = "increase_value"
	RemoveStep           Type = "remove_step"
	ReduceRisk           Type = "reduce_risk"
	IncreaseReassurance  Type = "increase_reassurance"
	ReduceIntentMismatch Type = "reduce_intent_mismatch"
)

// Types lists every perturbation kind in declaration order.
var Types = []Type{
	ReduceEffort,
	DelayStep,
	IncreaseValue,
	RemoveStep,
	ReduceRisk,
	IncreaseReassurance,
	ReduceIntentMismatch,
}

// MaxDelay bounds the delay_step count.
const MaxDelay = 20

// Perturbation targets exactly one attribute of exactly one step.
type Perturbation struct {
	ExperimentID string  `json:"experiment_id"`
	Type         Type    `json:"type"`
	TargetStep   string  `json:"target_step"`
	Magnitude    float64 `json:"magnitude,omitempty"`
	Delay        int     `json:"delay,omitempty"`
}

var (
	ErrUnknownStep         = errors.New("unknown target step")
	ErrMagnitudeOutOfRange = errors.New("magnitude out of range")
	ErrUnknownType         = errors.New("unknown perturbation type")
	ErrNoSteps             = errors.New("perturbation leaves no steps")
)

// #endregion types

// #region validate
// Validate checks the perturbation in isolation: known type, magnitude in
// (0,1] or delay in [1,MaxDelay]. Step existence is checked by Apply.
func Validate(p Perturbation) error {
	switch p.Type {
	case DelayStep:
		if p.Delay < 1 || p.Delay > MaxDelay {
			return fmt.Errorf("%s: delay %d: %w", p.ExperimentID, p.Delay, ErrMagnitudeOutOfRange)
		}
	case RemoveStep:
	case ReduceEffort, IncreaseValue, ReduceRisk, IncreaseReassurance, ReduceIntentMismatch:
		if !(p.Magnitude > 0 && p.Magnitude <= 1) {
			return fmt.Errorf("%s: magnitude %v: %w", p.ExperimentID, p.Magnitude, ErrMagnitudeOutOfRange)
		}
	default:
		return fmt.Errorf("%s: %q: %w", p.ExperimentID, p.Type, ErrUnknownType)
	}
	if p.TargetStep == "" {
		return fmt.Errorf("%s: empty target: %w", p.ExperimentID, ErrUnknownStep)
	}
	return nil
}

// #endregion validate

// #region apply
// Apply returns a perturbed copy of steps. The input is never modified and
// every step other than the target is left identical.
func Apply(steps []funnel.Step, p Perturbation) ([]funnel.Step, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	idx := funnel.Index(steps, p.TargetStep)
	if idx < 0 {
		return nil, fmt.Errorf("%s: %q: %w", p.ExperimentID, p.TargetStep, ErrUnknownStep)
	}

	out := funnel.Clone(steps)
	s := &out[idx]
	switch p.Type {
	case ReduceEffort:
		s.EffortDemand = reduce(s.EffortDemand, p.Magnitude)
	case ReduceRisk:
		s.RiskSignal = reduce(s.RiskSignal, p.Magnitude)
	case ReduceIntentMismatch:
		s.IntentMismatch = reduce(s.IntentMismatch, p.Magnitude)
	case IncreaseValue:
		s.ValueSignal = increase(s.ValueSignal, p.Magnitude)
	case IncreaseReassurance:
		s.ReassuranceSignal = increase(s.ReassuranceSignal, p.Magnitude)
	case DelayStep:
		s.DelayToValue = min(s.DelayToValue+float64(p.Delay), funnel.MaxDelayToValue)
	case RemoveStep:
		out = append(out[:idx], out[idx+1:]...)
		if len(out) == 0 {
			return nil, fmt.Errorf("%s: removing %q: %w", p.ExperimentID, p.TargetStep, ErrNoSteps)
		}
	}
	return out, nil
}

// reduce scales v down by a fraction m.
func reduce(v, m float64) float64 {
	return v * (1 - m)
}

// increase moves v towards 1 by a fraction m of the remaining headroom, so
// a zero signal still responds.
func increase(v, m float64) float64 {
	return min(v+m*(1-v), 1)
}

// #endregion apply

// #region grid
// Grid enumerates one perturbation per (type, step) pair, steps in list
// order within each type. Experiment ids are "<type>:<step>". delay_step
// uses a delay of max(1, round(magnitude*MaxDelay)).
func Grid(steps []funnel.Step, types []Type, magnitude float64) []Perturbation {
	if len(types) == 0 {
		types = Types
	}
	delay := max(1, int(magnitude*MaxDelay+0.5))
	out := make([]Perturbation, 0, len(types)*len(steps))
	for _, t := range types {
		for _, s := range steps {
			p := Perturbation{ExperimentID: string(t) + ":" + s.Name, Type: t, TargetStep: s.Name}
			switch t {
			case DelayStep:
				p.Delay = min(delay, MaxDelay)
			case RemoveStep:
			default:
				p.Magnitude = magnitude
			}
			out = append(out, p)
		}
	}
	return out
}

// Load reads a perturbation list from a JSON file. Entries are not
// validated here; a bad entry fails only its own experiment.
func Load(path string) ([]Perturbation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read perturbations %s: %w", path, err)
	}
	var ps []Perturbation
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parse perturbations %s: %w", path, err)
	}
	return ps, nil
}

// #endregion grid
