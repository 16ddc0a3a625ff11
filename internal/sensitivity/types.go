package sensitivity

import (
	"errors"

	"github.com/danielpatrickdp/funnel-sim/internal/perturb"
	"github.com/danielpatrickdp/funnel-sim/internal/trajectory"
)

// #region report
// StepSensitivity is the effect of one experiment at one baseline step index.
type StepSensitivity struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	ChangeRate float64 `json:"change_rate"`
	Fragility  float64 `json:"fragility"`
}

// Score combines change rate and fragility.
func (s StepSensitivity) Score() float64 {
	return s.ChangeRate * s.Fragility
}

// ExperimentResult is the outcome of one perturbation. Err is set when the
// experiment failed; its siblings are unaffected.
type ExperimentResult struct {
	ExperimentID string               `json:"experiment_id"`
	Perturbation perturb.Perturbation `json:"perturbation"`
	Err          string               `json:"error,omitempty"`
	Flipped      int                  `json:"flipped"`
	ChangeRate   float64              `json:"change_rate"`
	Steps        []StepSensitivity    `json:"steps,omitempty"`

	pairFlips []bool // indexed like the panel pairs
}

// Failed reports whether the experiment produced no comparison.
func (r ExperimentResult) Failed() bool { return r.Err != "" }

// Leverage ranks a target step by mean sensitivity over the experiments
// perturbing it.
type Leverage struct {
	Step        string  `json:"step"`
	Index       int     `json:"index"`
	Score       float64 `json:"score"`
	Experiments int     `json:"experiments"`
}

// ForceImpact ranks a perturbation type by mean overall change rate.
type ForceImpact struct {
	Type        perturb.Type `json:"type"`
	Impact      float64      `json:"impact"`
	Experiments int          `json:"experiments"`
}

// Segment reports how often pairs in an initial-energy band flipped.
type Segment struct {
	Label    string  `json:"label"`
	Pairs    int     `json:"pairs"`
	Flips    int     `json:"flips"`
	FlipRate float64 `json:"flip_rate"`
}

// Report is the full result of a sweep.
type Report struct {
	RunID         string                `json:"run_id"`
	PolicyVersion string                `json:"policy_version"`
	Seed          uint64                `json:"seed"`
	Pairs         int                   `json:"pairs"`
	Baseline      trajectory.RunSummary `json:"baseline"`
	Experiments   []ExperimentResult    `json:"experiments"`
	Failed        int                   `json:"failed"`
	TopLeverage   []Leverage            `json:"top_leverage"`
	ForceImpact   []ForceImpact         `json:"force_impact"`
	Segments      []Segment             `json:"segments"`
}

// Segment labels by initial-energy tercile.
const (
	SegmentLowEnergy  = "low_energy"
	SegmentMidEnergy  = "mid_energy"
	SegmentHighEnergy = "high_energy"
)

// DefaultMarginScale weights baseline margins in the fragility score.
const DefaultMarginScale = 10.0

// ErrSweepTooLarge is returned before any run when a sweep exceeds the bound.
var ErrSweepTooLarge = errors.New("sweep exceeds max experiments")

// #endregion report
