// Package trajectory drives personas through an ordered step list, one
// initial-state variant at a time, and seals each run into a Trace.
package trajectory

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/danielpatrickdp/funnel-sim/internal/engine"
	"github.com/danielpatrickdp/funnel-sim/internal/eval"
	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/persona"
	"github.com/danielpatrickdp/funnel-sim/internal/state"
)

// #region input
// Input is everything one trajectory needs.
type Input struct {
	PersonaID     string
	Archetype     string
	Priors        persona.Priors
	Variant       state.Variant
	Steps         []funnel.Step
	Engine        *engine.Engine
	PolicyVersion string
	Seed          uint64
	ObservedAt    time.Time

	// Horizon is the step count progress is measured against. Zero, or
	// anything below len(Steps), uses len(Steps). Sweeps pin it to the
	// baseline length so removing a later step cannot move earlier decisions.
	Horizon int
}

// #endregion input

// #region run
// Run walks the steps in order, stopping at the first drop. The result is
// sealed and passes the eval invariants; a violation is returned as an error
// and no trace is produced. Given the same input the output is bit-identical.
func Run(in Input) (Trace, error) {
	if in.Engine == nil {
		return Trace{}, fmt.Errorf("trajectory %s/%s: nil engine", in.PersonaID, in.Variant.ID)
	}
	if !in.Priors.Within() {
		return Trace{}, fmt.Errorf("trajectory %s/%s: priors out of range", in.PersonaID, in.Variant.ID)
	}
	if !in.Variant.Initial.Within() {
		return Trace{}, fmt.Errorf("trajectory %s/%s: initial state out of bounds", in.PersonaID, in.Variant.ID)
	}
	if len(in.Steps) == 0 {
		return Trace{}, fmt.Errorf("trajectory %s/%s: empty step list", in.PersonaID, in.Variant.ID)
	}

	horizon := max(in.Horizon, len(in.Steps))
	rng := NewStream(in.Seed, in.PersonaID, in.Variant.ID)
	current := in.Variant.Initial
	trace := Trace{
		PersonaID:     in.PersonaID,
		Archetype:     in.Archetype,
		VariantID:     in.Variant.ID,
		Priors:        in.Priors,
		PolicyVersion: in.PolicyVersion,
		Seed:          in.Seed,
		ObservedAt:    in.ObservedAt.UTC(),
		StepCount:     len(in.Steps),
		Records:       make([]StepRecord, 0, len(in.Steps)),
		Outcome:       Outcome{DroppedAt: -1},
	}
	if horizon != len(in.Steps) {
		trace.Horizon = horizon
	}

	for i, step := range in.Steps {
		tr := in.Engine.Step(engine.StepInput{
			Priors:    in.Priors,
			Archetype: in.Archetype,
			Before:    current,
			Step:      step,
			Progress:  float64(i) / float64(horizon),
		}, rng)

		trace.Records = append(trace.Records, StepRecord{
			Index:       i,
			StepName:    step.Name,
			Before:      tr.Before,
			Costs:       tr.Costs,
			Decision:    tr.Decision,
			After:       tr.After,
			Attribution: tr.Attribution,
		})
		if !tr.Decision.Continue {
			trace.Outcome.DroppedAt = i
			break
		}
		current = tr.After
	}
	trace.Outcome.Completed = trace.Outcome.DroppedAt < 0

	if res := eval.NewEvalHarness(eval.DefaultEvalConfig()).Run(trace.View()); !res.Passed {
		return Trace{}, fmt.Errorf("trajectory %s: %s", trace.Key(), res.Reason)
	}
	return Seal(trace)
}

// #endregion run

// #region stream
// NewStream returns the random stream of one persona x variant pair. The
// stream depends only on the seed and the pair identity, never on scheduling.
func NewStream(seed uint64, personaID, variantID string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(personaID))
	h.Write([]byte{0})
	h.Write([]byte(variantID))
	return rand.New(rand.NewPCG(seed, h.Sum64()))
}

// #endregion stream
