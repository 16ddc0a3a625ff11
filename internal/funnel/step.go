// Package funnel holds the validated product-step records a simulation walks.
package funnel

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// #region step
// Step is one product step. Steps are value objects: construct once,
// validate, and never mutate during a simulation.
type Step struct {
	Name string `json:"name"`

	CognitiveDemand   float64 `json:"cognitive_demand"`
	EffortDemand      float64 `json:"effort_demand"`
	RiskSignal        float64 `json:"risk_signal"`
	ValueSignal       float64 `json:"value_signal"`
	ReassuranceSignal float64 `json:"reassurance_signal"`
	IntentMismatch    float64 `json:"intent_mismatch"`
	ControlSignal     float64 `json:"control_signal"`
	DelayToValue      float64 `json:"delay_to_value"` // steps until value is realised

	Irreversible         bool `json:"irreversible"`
	CollectsPersonalData bool `json:"collects_personal_data"`
	ShowsProgress        bool `json:"shows_progress"`
}

// MaxDelayToValue bounds DelayToValue.
const MaxDelayToValue = 20

// #endregion step

// #region validation
// ValidationError reports an invalid step attribute.
type ValidationError struct {
	Step   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("step %q: field %s: %s", e.Step, e.Field, e.Reason)
}

// Validate checks a step list: non-empty, unique non-empty names, every
// attribute inside its declared domain.
func Validate(steps []Step) error {
	if len(steps) == 0 {
		return &ValidationError{Step: "", Field: "steps", Reason: "empty step list"}
	}
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.Name == "" {
			return &ValidationError{Step: s.Name, Field: "name", Reason: "missing"}
		}
		if seen[s.Name] {
			return &ValidationError{Step: s.Name, Field: "name", Reason: "duplicate"}
		}
		seen[s.Name] = true
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single step's attribute domains.
func (s Step) Validate() error {
	unit := []struct {
		name string
		v    float64
	}{
		{"cognitive_demand", s.CognitiveDemand},
		{"effort_demand", s.EffortDemand},
		{"risk_signal", s.RiskSignal},
		{"value_signal", s.ValueSignal},
		{"reassurance_signal", s.ReassuranceSignal},
		{"intent_mismatch", s.IntentMismatch},
		{"control_signal", s.ControlSignal},
	}
	for _, a := range unit {
		if math.IsNaN(a.v) || a.v < 0 || a.v > 1 {
			return &ValidationError{Step: s.Name, Field: a.name, Reason: fmt.Sprintf("value %v outside [0,1]", a.v)}
		}
	}
	if math.IsNaN(s.DelayToValue) || s.DelayToValue < 0 || s.DelayToValue > MaxDelayToValue {
		return &ValidationError{Step: s.Name, Field: "delay_to_value", Reason: fmt.Sprintf("value %v outside [0,%d]", s.DelayToValue, MaxDelayToValue)}
	}
	return nil
}

// #endregion validation

// #region helpers
// Clone returns an independent copy of steps.
func Clone(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// Index returns the position of the named step, or -1.
func Index(steps []Step, name string) int {
	for i, s := range steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// LoadSteps reads and validates a JSON step file.
func LoadSteps(path string) ([]Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read steps %s: %w", path, err)
	}
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse steps %s: %w", path, err)
	}
	if err := Validate(steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// #endregion helpers
