package engine

import (
	"math"
	"sort"

	"github.com/danielpatrickdp/funnel-sim/internal/policy"
	"github.com/danielpatrickdp/funnel-sim/internal/state"
)

// #region deterministic
// decideDeterministic continues iff value weighted by motivation plus control
// outweighs risk plus effort.
func decideDeterministic(in StepInput, after state.CognitiveState) Decision {
	benefit, cost := balance(in, after)
	margin := benefit - cost
	dec := Decision{
		Continue:  margin > 0,
		Mode:      policy.ModeDeterministic,
		Benefit:   benefit,
		Cost:      cost,
		Margin:    margin,
		Advantage: margin,
	}
	if dec.Continue {
		dec.Probability = 1
	}
	return dec
}

func balance(in StepInput, after state.CognitiveState) (benefit, cost float64) {
	benefit = after.PerceivedValue*in.Priors.MotivationStrength + after.PerceivedControl
	cost = after.PerceivedRisk + after.PerceivedEffort
	return benefit, cost
}

// #endregion deterministic

// #region probabilistic
// decideProbabilistic squashes the modified advantage through a logistic
// curve, floors it at MinContinueProb and draws the outcome. Exactly two
// values are drawn from rng per call, noise first, so a stream stays aligned
// across steps regardless of outcome.
func decideProbabilistic(p policy.Params, in StepInput, c Costs, after state.CognitiveState, rng Rand) Decision {
	benefit, cost := balance(in, after)
	margin := benefit - cost

	advantage := margin
	advantage += p.PersistenceWeight * in.Progress
	if c.ValueYield >= p.HighValueThreshold {
		advantage += p.HighValueBonus
	}
	advantage += p.ArchetypeBias[in.Archetype]

	u1, u2 := 0.5, 0.5
	if rng != nil {
		u1, u2 = rng.Float64(), rng.Float64()
	}
	advantage += p.NoiseScale * (2*u1 - 1)

	prob := ContinueProbability(p, advantage)
	return Decision{
		Continue:    u2 < prob,
		Mode:        policy.ModeProbabilistic,
		Benefit:     benefit,
		Cost:        cost,
		Margin:      margin,
		Advantage:   advantage,
		Probability: prob,
	}
}

// ContinueProbability maps an advantage to a continuation probability:
// logistic with the policy steepness, floored at MinContinueProb.
func ContinueProbability(p policy.Params, advantage float64) float64 {
	prob := 1 / (1 + math.Exp(-p.Steepness*advantage))
	if prob < p.MinContinueProb {
		prob = p.MinContinueProb
	}
	return prob
}

// #endregion probabilistic

// #region attribution
// Attribute labels the dominant cost of a step. A cost whose share of the
// total reaches DominanceThreshold is dominant, otherwise the drop is a
// multi-factor failure. The next-highest share at or above
// SecondaryThreshold is reported as secondary; for a multi-factor failure
// that is the largest share.
func Attribute(c Costs, p policy.Params) Attribution {
	total := c.Total()
	if total <= 0 {
		return Attribution{Dominant: LabelMultiFactor}
	}
	shares := []struct {
		label string
		share float64
	}{
		{LabelCognitiveFatigue, c.Cognitive / total},
		{LabelEffort, c.Effort / total},
		{LabelLossAversion, c.Risk / total},
	}
	// Stable on ties: declaration order breaks them.
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].share > shares[j].share })

	var a Attribution
	rest := shares
	if shares[0].share >= p.DominanceThreshold {
		a.Dominant = shares[0].label
		a.DominantShare = shares[0].share
		rest = shares[1:]
	} else {
		a.Dominant = LabelMultiFactor
	}
	if rest[0].share >= p.SecondaryThreshold {
		a.Secondary = rest[0].label
		a.SecondaryShare = rest[0].share
	}
	return a
}

// #endregion attribution
