package state

import "math"

// #region cognitive-state
// CognitiveState is a persona's momentary condition inside one trajectory.
// Every field is bounded in [Min, Max]; updates go through Clamp.
type CognitiveState struct {
	Energy           float64 `json:"energy"`
	PerceivedRisk    float64 `json:"perceived_risk"`
	PerceivedEffort  float64 `json:"perceived_effort"`
	PerceivedValue   float64 `json:"perceived_value"`
	PerceivedControl float64 `json:"perceived_control"`
}

// Field bounds, shared by all five fields.
const (
	Min = 0.0
	Max = 1.0
)

// Clamp returns a copy with every field pinned into bounds. NaN clamps to Min.
func (s CognitiveState) Clamp() CognitiveState {
	return CognitiveState{
		Energy:           clamp(s.Energy),
		PerceivedRisk:    clamp(s.PerceivedRisk),
		PerceivedEffort:  clamp(s.PerceivedEffort),
		PerceivedValue:   clamp(s.PerceivedValue),
		PerceivedControl: clamp(s.PerceivedControl),
	}
}

// Within reports whether every field is inside bounds.
func (s CognitiveState) Within() bool {
	for _, v := range s.Fields() {
		if math.IsNaN(v) || v < Min || v > Max {
			return false
		}
	}
	return true
}

// Fields returns the state as a fixed-order array: energy, risk, effort, value, control.
func (s CognitiveState) Fields() [5]float64 {
	return [5]float64{s.Energy, s.PerceivedRisk, s.PerceivedEffort, s.PerceivedValue, s.PerceivedControl}
}

// FieldNames names the entries of Fields.
var FieldNames = [5]string{"energy", "perceived_risk", "perceived_effort", "perceived_value", "perceived_control"}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < Min {
		return Min
	}
	if v > Max {
		return Max
	}
	return v
}

// #endregion cognitive-state

// #region variant
// Variant is a named initial condition. Variants capture arrival-condition
// uncertainty; they never touch persona traits.
type Variant struct {
	ID      string         `json:"id"`
	Label   string         `json:"label"`
	Initial CognitiveState `json:"initial"`
}

// #endregion variant
