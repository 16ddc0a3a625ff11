package trajectory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/funnel-sim/internal/engine"
	"github.com/danielpatrickdp/funnel-sim/internal/eval"
	"github.com/danielpatrickdp/funnel-sim/internal/persona"
	"github.com/danielpatrickdp/funnel-sim/internal/state"
)

// #region step-record
// StepRecord is one step of a trajectory.
type StepRecord struct {
	Index       int                  `json:"index"`
	StepName    string               `json:"step_name"`
	Before      state.CognitiveState `json:"state_before"`
	Costs       engine.Costs         `json:"costs"`
	Decision    engine.Decision      `json:"decision"`
	After       state.CognitiveState `json:"state_after"`
	Attribution engine.Attribution   `json:"attribution"`
}

// #endregion step-record

// #region trace
// Outcome is the single exit of a trajectory: Completed, or DroppedAt >= 0.
type Outcome struct {
	Completed bool `json:"completed"`
	DroppedAt int  `json:"dropped_at"`
}

// Trace is the sealed record of one persona x variant run. Once sealed it is
// never mutated; Verify detects tampering.
type Trace struct {
	PersonaID     string         `json:"persona_id"`
	Archetype     string         `json:"archetype"`
	VariantID     string         `json:"variant_id"`
	Priors        persona.Priors `json:"priors"`
	PolicyVersion string         `json:"policy_version"`
	Seed          uint64         `json:"seed"`
	ObservedAt    time.Time      `json:"observed_at"`
	StepCount     int            `json:"step_count"`
	Horizon       int            `json:"horizon,omitempty"` // set only when it differs from StepCount
	Records       []StepRecord   `json:"records"`
	Outcome       Outcome        `json:"outcome"`
	Digest        string         `json:"digest"`
}

// ErrTampered reports a trace whose content no longer matches its digest.
var ErrTampered = errors.New("trace digest mismatch")

// Key returns the stable sort key of the trace.
func (t Trace) Key() string {
	return t.PersonaID + persona.IDSeparator + t.VariantID
}

// Dropped reports whether the trajectory ended in a drop.
func (t Trace) Dropped() bool {
	return !t.Outcome.Completed
}

// Reached reports whether the trajectory reached step i.
func (t Trace) Reached(i int) bool {
	return i < len(t.Records)
}

// Sealed reports whether a digest has been computed.
func (t Trace) Sealed() bool {
	return t.Digest != ""
}

// #endregion trace

// #region seal
// Seal computes the digest over the canonical JSON body. Run seals its
// output; Seal is for traces assembled elsewhere.
func Seal(t Trace) (Trace, error) {
	d, err := digest(t)
	if err != nil {
		return Trace{}, err
	}
	t.Digest = d
	return t, nil
}

// Verify recomputes the digest and compares it with the stored one.
func (t Trace) Verify() error {
	if t.Digest == "" {
		return fmt.Errorf("trace %s: not sealed", t.Key())
	}
	d, err := digest(t)
	if err != nil {
		return err
	}
	if d != t.Digest {
		return fmt.Errorf("trace %s: %w", t.Key(), ErrTampered)
	}
	return nil
}

func digest(t Trace) (string, error) {
	t.Digest = ""
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal trace: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// #endregion seal

// #region view
// View projects the trace for invariant checks.
func (t Trace) View() eval.TraceView {
	tv := eval.TraceView{
		StepCount: t.StepCount,
		Completed: t.Outcome.Completed,
		DroppedAt: t.Outcome.DroppedAt,
		Steps:     make([]eval.StepView, len(t.Records)),
	}
	for i, r := range t.Records {
		tv.Steps[i] = eval.StepView{Before: r.Before, After: r.After, Continue: r.Decision.Continue}
	}
	return tv
}

// #endregion view
