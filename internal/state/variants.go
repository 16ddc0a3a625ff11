package state

import "fmt"

// #region default-variants
// DefaultVariants returns the built-in library of initial-state variants.
// The returned slice is a fresh copy.
func DefaultVariants() []Variant {
	return []Variant{
		{
			ID:    "fresh_high_energy",
			Label: "fresh, high energy",
			Initial: CognitiveState{
				Energy: 0.9, PerceivedRisk: 0.1, PerceivedEffort: 0.1, PerceivedValue: 0.5, PerceivedControl: 0.5,
			},
		},
		{
			ID:    "tired_moderate_risk",
			Label: "tired, moderate risk",
			Initial: CognitiveState{
				Energy: 0.4, PerceivedRisk: 0.35, PerceivedEffort: 0.25, PerceivedValue: 0.45, PerceivedControl: 0.4,
			},
		},
		{
			ID:    "distracted_low_value",
			Label: "distracted, low perceived value",
			Initial: CognitiveState{
				Energy: 0.6, PerceivedRisk: 0.2, PerceivedEffort: 0.2, PerceivedValue: 0.25, PerceivedControl: 0.45,
			},
		},
		{
			ID:    "skeptical_low_control",
			Label: "skeptical, low sense of control",
			Initial: CognitiveState{
				Energy: 0.7, PerceivedRisk: 0.4, PerceivedEffort: 0.15, PerceivedValue: 0.4, PerceivedControl: 0.2,
			},
		},
		{
			ID:    "rushed_high_effort",
			Label: "rushed, effort already high",
			Initial: CognitiveState{
				Energy: 0.55, PerceivedRisk: 0.2, PerceivedEffort: 0.4, PerceivedValue: 0.55, PerceivedControl: 0.35,
			},
		},
	}
}

// LookupVariant returns the built-in variant with the given ID.
func LookupVariant(id string) (Variant, error) {
	for _, v := range DefaultVariants() {
		if v.ID == id {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("variant %s not found", id)
}

// #endregion default-variants
