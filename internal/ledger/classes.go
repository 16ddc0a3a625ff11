package ledger

import (
	"sort"

	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/persona"
	"github.com/danielpatrickdp/funnel-sim/internal/state"
	"github.com/danielpatrickdp/funnel-sim/internal/trajectory"
)

// #region forces
const (
	ForceIntentMismatch   = "intent_mismatch"
	ForceCognitiveFatigue = "cognitive_fatigue"
	ForceRiskSpike        = "risk_spike"
	ForceEffortOverload   = "effort_overload"
)

// Force thresholds.
const (
	intentMismatchMin = 0.5
	fatigueEnergyMax  = 0.3
	riskSpikeMin      = 0.2
	effortOverloadMin = 0.7
)

// Forces lists the forces present at one decision, sorted.
func Forces(rec trajectory.StepRecord, step funnel.Step) []string {
	var out []string
	if step.IntentMismatch >= intentMismatchMin {
		out = append(out, ForceIntentMismatch)
	}
	if rec.After.Energy < fatigueEnergyMax {
		out = append(out, ForceCognitiveFatigue)
	}
	if rec.After.PerceivedRisk-rec.Before.PerceivedRisk >= riskSpikeMin {
		out = append(out, ForceRiskSpike)
	}
	if rec.After.PerceivedEffort >= effortOverloadMin {
		out = append(out, ForceEffortOverload)
	}
	sort.Strings(out)
	return out
}

// #endregion forces

// #region bands
const (
	BandLow  = "low"
	BandMid  = "mid"
	BandHigh = "high"
)

// band splits a [0,1] value into terciles.
func band(v float64) string {
	switch {
	case v < 1.0/3:
		return BandLow
	case v < 2.0/3:
		return BandMid
	default:
		return BandHigh
	}
}

// ClassOf discretises a decision's persona traits and entering state. Traits
// are normalised over their declared range first.
func ClassOf(p persona.Priors, before state.CognitiveState) Bands {
	return Bands{
		RiskTolerance:      band(persona.RiskToleranceRange.Normalize(p.RiskTolerance)),
		CognitiveCapacity:  band(persona.CognitiveCapacityRange.Normalize(p.CognitiveCapacity)),
		MotivationStrength: band(persona.MotivationStrengthRange.Normalize(p.MotivationStrength)),
		Energy:             band(before.Energy),
	}
}

// #endregion bands

// #region coherence
// marginVarianceScale maps margin variance onto [0,1].
const marginVarianceScale = 0.25

// Coherence is 1 for a class whose decisions agree and share one dominant
// cost. Margin variance and counterexamples pull it towards 0.
func Coherence(margins []float64, dominants []string, accepted, rejected int) float64 {
	n := accepted + rejected
	if n == 0 {
		return 0
	}
	varScore := clamp01(variance(margins) / marginVarianceScale)

	dominantVar := 0.0
	if len(dominants) > 0 {
		counts := map[string]int{}
		top := 0
		for _, d := range dominants {
			counts[d]++
			top = max(top, counts[d])
		}
		dominantVar = 1 - float64(top)/float64(len(dominants))
	}

	counterRate := float64(min(accepted, rejected)) / float64(n)
	return clamp01(1 - (0.25*varScore + 0.25*dominantVar + 0.5*2*counterRate))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	v := 0.0
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return v / float64(len(xs))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion coherence
