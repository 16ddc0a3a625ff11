package trajectory

import (
	"math"
	"sort"

	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
)

// #region step-summary
// StepSummary aggregates all traces at one step index.
type StepSummary struct {
	Index          int     `json:"index"`
	Name           string  `json:"name"`
	Reached        int     `json:"reached"`
	Dropped        int     `json:"dropped"`
	FailureRate    float64 `json:"failure_rate"`
	CILow          float64 `json:"ci_low"`
	CIHigh         float64 `json:"ci_high"`
	DominantCost   string  `json:"dominant_cost,omitempty"`
	DominantShare  float64 `json:"dominant_share"`
	SecondaryCost  string  `json:"secondary_cost,omitempty"`
	SecondaryShare float64 `json:"secondary_share"`
}

// RunSummary provides aggregate stats over a set of traces.
type RunSummary struct {
	Trajectories int           `json:"trajectories"`
	Completed    int           `json:"completed"`
	Dropped      int           `json:"dropped"`
	Steps        []StepSummary `json:"steps"`
}

// wilsonZ is the 95% normal quantile.
const wilsonZ = 1.96

// #endregion step-summary

// #region summarize
// Summarize computes per-step failure rates with Wilson confidence bands and
// the most common dominant and secondary cost among drops at each step.
// Counting is order-independent; label ties break lexicographically.
func Summarize(traces []Trace, steps []funnel.Step) RunSummary {
	out := RunSummary{Trajectories: len(traces), Steps: make([]StepSummary, len(steps))}
	dominant := make([]map[string]int, len(steps))
	secondary := make([]map[string]int, len(steps))
	for i, s := range steps {
		out.Steps[i] = StepSummary{Index: i, Name: s.Name}
		dominant[i] = map[string]int{}
		secondary[i] = map[string]int{}
	}

	for _, tr := range traces {
		if tr.Outcome.Completed {
			out.Completed++
		} else {
			out.Dropped++
		}
		for _, rec := range tr.Records {
			if rec.Index >= len(steps) {
				continue
			}
			out.Steps[rec.Index].Reached++
			if !rec.Decision.Continue {
				out.Steps[rec.Index].Dropped++
				dominant[rec.Index][rec.Attribution.Dominant]++
				if rec.Attribution.Secondary != "" {
					secondary[rec.Index][rec.Attribution.Secondary]++
				}
			}
		}
	}

	for i := range out.Steps {
		s := &out.Steps[i]
		if s.Reached > 0 {
			s.FailureRate = float64(s.Dropped) / float64(s.Reached)
			s.CILow, s.CIHigh = Wilson(s.Dropped, s.Reached)
		}
		if s.Dropped > 0 {
			label, n := mode(dominant[i])
			s.DominantCost, s.DominantShare = label, float64(n)/float64(s.Dropped)
			if label, n := mode(secondary[i]); n > 0 {
				s.SecondaryCost, s.SecondaryShare = label, float64(n)/float64(s.Dropped)
			}
		}
	}
	return out
}

// Wilson returns the 95% Wilson score interval for k successes in n trials.
func Wilson(k, n int) (lo, hi float64) {
	if n == 0 {
		return 0, 0
	}
	p := float64(k) / float64(n)
	nf := float64(n)
	z2 := wilsonZ * wilsonZ
	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	half := wilsonZ * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom
	return math.Max(0, center-half), math.Min(1, center+half)
}

func mode(counts map[string]int) (string, int) {
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	best, bestN := "", 0
	for _, l := range labels {
		if counts[l] > bestN {
			best, bestN = l, counts[l]
		}
	}
	return best, bestN
}

// #endregion summarize
