// Package replay re-simulates sealed traces from their own recorded inputs
// and reports whether the simulator still reproduces them bit for bit.
package replay

import (
	"fmt"
	"reflect"

	"github.com/danielpatrickdp/funnel-sim/internal/engine"
	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/policy"
	"github.com/danielpatrickdp/funnel-sim/internal/state"
	"github.com/danielpatrickdp/funnel-sim/internal/trajectory"
)

// #region types
// PolicyLookup resolves a policy version id to its registered record.
type PolicyLookup interface {
	Get(id string) (policy.Record, error)
}

// Action is the replay verdict for one trace.
type Action string

const (
	ActionMatch    Action = "match"
	ActionMismatch Action = "mismatch"
	ActionError    Action = "error"
)

// ReplayResult captures the outcome of replaying one trace.
type ReplayResult struct {
	PersonaID string `json:"persona_id"`
	VariantID string `json:"variant_id"`
	Action    Action `json:"action"`
	Reason    string `json:"reason,omitempty"`

	WantDigest string `json:"want_digest"`
	GotDigest  string `json:"got_digest,omitempty"`

	// DivergedAt is the first step record that differs, -1 when none does.
	DivergedAt int `json:"diverged_at"`
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Total      int `json:"total"`
	Matches    int `json:"matches"`
	Mismatches int `json:"mismatches"`
	Errors     int `json:"errors"`
}

// #endregion types

// #region replay
// Replay re-runs every trace with its recorded priors, seed, observation time
// and policy version over steps. Variants are looked up by id. A trace that
// cannot be replayed is reported as an error result; only invalid steps
// fail the whole call.
func Replay(traces []trajectory.Trace, steps []funnel.Step, variants []state.Variant, policies PolicyLookup) ([]ReplayResult, error) {
	if err := funnel.Validate(steps); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	byID := make(map[string]state.Variant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}
	engines := map[string]*engine.Engine{}

	results := make([]ReplayResult, 0, len(traces))
	for _, tr := range traces {
		res := ReplayResult{
			PersonaID:  tr.PersonaID,
			VariantID:  tr.VariantID,
			WantDigest: tr.Digest,
			DivergedAt: -1,
		}

		// 1. Resolve inputs
		variant, ok := byID[tr.VariantID]
		if !ok {
			res.Action, res.Reason = ActionError, fmt.Sprintf("unknown variant %s", tr.VariantID)
			results = append(results, res)
			continue
		}
		eng, ok := engines[tr.PolicyVersion]
		if !ok {
			rec, err := policies.Get(tr.PolicyVersion)
			if err != nil {
				res.Action, res.Reason = ActionError, err.Error()
				results = append(results, res)
				continue
			}
			eng = engine.New(rec.Definition.Params)
			engines[tr.PolicyVersion] = eng
		}

		// 2. Re-run
		got, err := trajectory.Run(trajectory.Input{
			PersonaID:     tr.PersonaID,
			Archetype:     tr.Archetype,
			Priors:        tr.Priors,
			Variant:       variant,
			Steps:         steps,
			Engine:        eng,
			PolicyVersion: tr.PolicyVersion,
			Seed:          tr.Seed,
			ObservedAt:    tr.ObservedAt,
			Horizon:       tr.Horizon,
		})
		if err != nil {
			res.Action, res.Reason = ActionError, err.Error()
			results = append(results, res)
			continue
		}

		// 3. Compare
		res.GotDigest = got.Digest
		if got.Digest == tr.Digest {
			res.Action = ActionMatch
		} else {
			res.Action = ActionMismatch
			res.DivergedAt = divergence(tr.Records, got.Records)
			res.Reason = fmt.Sprintf("digest mismatch, first differing step %d", res.DivergedAt)
		}
		results = append(results, res)
	}
	return results, nil
}

// divergence returns the first record index where want and got differ. When
// every shared record matches, the shorter length is returned.
func divergence(want, got []trajectory.StepRecord) int {
	n := min(len(want), len(got))
	for i := 0; i < n; i++ {
		if !reflect.DeepEqual(want[i], got[i]) {
			return i
		}
	}
	return n
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{Total: len(results)}
	for _, r := range results {
		switch r.Action {
		case ActionMatch:
			s.Matches++
		case ActionMismatch:
			s.Mismatches++
		case ActionError:
			s.Errors++
		}
	}
	return s
}

// #endregion replay
