// Package sensitivity reruns a fixed panel under one-variable perturbations
// and ranks steps, forces and segments by how much the decisions move.
package sensitivity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/logging"
	"github.com/danielpatrickdp/funnel-sim/internal/perturb"
	"github.com/danielpatrickdp/funnel-sim/internal/policy"
	"github.com/danielpatrickdp/funnel-sim/internal/trajectory"
)

// sweepNamespace scopes the name-based run ids.
var sweepNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("funnel-sim/sensitivity"))

// #region comparator
// Comparator holds the fixed inputs of a sweep. The panel and steps are
// never modified; each experiment works on its own perturbed copy.
type Comparator struct {
	Panel          trajectory.Panel
	Steps          []funnel.Step
	Params         policy.Params
	PolicyVersion  string
	Seed           uint64
	ObservedAt     time.Time
	Workers        int     // 0 = GOMAXPROCS
	MaxExperiments int     // 0 = unbounded
	MarginScale    float64 // 0 = DefaultMarginScale
	Logger         *slog.Logger
}

type baseline struct {
	pairs  []trajectory.Pair
	traces []trajectory.Trace
}

// Sweep runs the baseline once and every perturbation against it. A bad
// perturbation fails only its own experiment. Cancelling ctx abandons the
// whole sweep and no report is returned.
func (c Comparator) Sweep(ctx context.Context, perts []perturb.Perturbation) (Report, error) {
	if c.MaxExperiments > 0 && len(perts) > c.MaxExperiments {
		return Report{}, fmt.Errorf("sweep of %d experiments (max %d): %w", len(perts), c.MaxExperiments, ErrSweepTooLarge)
	}
	id, err := runID(c.PolicyVersion, c.Seed, perts)
	if err != nil {
		return Report{}, err
	}
	logger := logging.OrDiscard(c.Logger)
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	base, summary, err := c.runBaseline(ctx, workers)
	if err != nil {
		return Report{}, err
	}

	results := make([]ExperimentResult, len(perts))
	seen := make(map[string]bool, len(perts))
	dup := make([]bool, len(perts))
	for i, p := range perts {
		dup[i] = seen[p.ExperimentID]
		seen[p.ExperimentID] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range perts {
		g.Go(func() error {
			if dup[i] {
				results[i] = ExperimentResult{ExperimentID: p.ExperimentID, Perturbation: p, Err: "duplicate experiment id"}
				return nil
			}
			res, err := c.experiment(gctx, base, p)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			if err != nil {
				res = ExperimentResult{ExperimentID: p.ExperimentID, Perturbation: p, Err: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("sweep: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("sweep: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].ExperimentID < results[j].ExperimentID })

	rep := Report{
		RunID:         id,
		PolicyVersion: c.PolicyVersion,
		Seed:          c.Seed,
		Pairs:         len(base.pairs),
		Baseline:      summary,
		Experiments:   results,
	}
	for _, r := range results {
		if r.Failed() {
			rep.Failed++
			logger.Warn("experiment failed", "experiment", r.ExperimentID, "err", r.Err)
		}
	}
	rep.TopLeverage = rankLeverage(c.Steps, results)
	rep.ForceImpact = rankForces(results)
	rep.Segments = segments(base, results)
	logger.Info("sweep complete",
		"run_id", rep.RunID, "experiments", len(results), "failed", rep.Failed, "pairs", rep.Pairs)
	return rep, nil
}

func (c Comparator) options(workers int) trajectory.Options {
	return trajectory.Options{
		Workers:       workers,
		Seed:          c.Seed,
		PolicyVersion: c.PolicyVersion,
		ObservedAt:    c.ObservedAt,
		Horizon:       len(c.Steps),
		Logger:        c.Logger,
	}
}

func (c Comparator) runBaseline(ctx context.Context, workers int) (baseline, trajectory.RunSummary, error) {
	results, err := trajectory.RunPanel(ctx, c.Panel, c.Steps, c.Params, c.options(workers))
	if err != nil {
		return baseline{}, trajectory.RunSummary{}, fmt.Errorf("baseline: %w", err)
	}
	b := baseline{pairs: c.Panel.Pairs(), traces: make([]trajectory.Trace, len(results))}
	for i, r := range results {
		if r.Err != nil {
			return baseline{}, trajectory.RunSummary{}, fmt.Errorf("baseline: %w", r.Err)
		}
		b.traces[i] = r.Trace
	}
	return b, trajectory.Summarize(b.traces, c.Steps), nil
}

// #endregion comparator

// #region experiment
func (c Comparator) experiment(ctx context.Context, base baseline, p perturb.Perturbation) (ExperimentResult, error) {
	steps, err := perturb.Apply(c.Steps, p)
	if err != nil {
		return ExperimentResult{}, err
	}
	results, err := trajectory.RunPanel(ctx, c.Panel, steps, c.Params, c.options(1))
	if err != nil {
		return ExperimentResult{}, err
	}
	if len(results) != len(base.traces) {
		return ExperimentResult{}, fmt.Errorf("experiment produced %d traces for %d pairs", len(results), len(base.traces))
	}

	scale := c.MarginScale
	if scale <= 0 {
		scale = DefaultMarginScale
	}
	n := len(c.Steps)
	changed := make([]float64, n)
	fragile := make([]float64, n)
	flipped := 0
	flips := make([]bool, len(results))
	for i, r := range results {
		if r.Err != nil {
			return ExperimentResult{}, fmt.Errorf("%s: %w", r.Trace.Key(), r.Err)
		}
		at := FirstDivergence(c.Steps, steps, base.traces[i], r.Trace)
		if at < 0 {
			continue
		}
		flipped++
		flips[i] = true
		w := 1 / (1 + math.Abs(baselineMargin(base.traces[i], at))*scale)
		changed[at]++
		fragile[at] += w
	}

	res := ExperimentResult{
		ExperimentID: p.ExperimentID,
		Perturbation: p,
		Flipped:      flipped,
		Steps:        make([]StepSensitivity, n),
		pairFlips:    flips,
	}
	total := float64(len(results))
	cumChanged, cumFragile := 0.0, 0.0
	for i := range n {
		cumChanged += changed[i]
		cumFragile += fragile[i]
		res.Steps[i] = StepSensitivity{Index: i, Name: c.Steps[i].Name}
		if total > 0 {
			res.Steps[i].ChangeRate = cumChanged / total
			res.Steps[i].Fragility = cumFragile / total
		}
	}
	if n > 0 {
		res.ChangeRate = res.Steps[n-1].ChangeRate
	}
	return res, nil
}

type status int

const (
	unreached status = iota
	continued
	dropped
)

// FirstDivergence returns the baseline step index at which the perturbed
// trace first makes a different decision, or -1 if the decisions agree at
// every step. Steps are matched by name; a baseline step missing from the
// perturbed list counts as passed while the perturbed run is still alive.
func FirstDivergence(baseSteps, pertSteps []funnel.Step, base, pert trajectory.Trace) int {
	pertByName := make(map[string]trajectory.StepRecord, len(pert.Records))
	for _, r := range pert.Records {
		pertByName[r.StepName] = r
	}
	ended := false
	for i, s := range baseSteps {
		b := unreached
		if i < len(base.Records) {
			b = decisionStatus(base.Records[i])
		}
		p := unreached
		if !ended {
			if r, ok := pertByName[s.Name]; ok {
				p = decisionStatus(r)
			} else if funnel.Index(pertSteps, s.Name) < 0 {
				p = continued
			}
		}
		if b != p {
			return i
		}
		if p != continued {
			ended = true
		}
	}
	return -1
}

func decisionStatus(r trajectory.StepRecord) status {
	if r.Decision.Continue {
		return continued
	}
	return dropped
}

func baselineMargin(t trajectory.Trace, at int) float64 {
	if at < len(t.Records) {
		return t.Records[at].Decision.Advantage
	}
	return 0
}

// #endregion experiment

// #region ranking
func rankLeverage(steps []funnel.Step, results []ExperimentResult) []Leverage {
	acc := map[string]*Leverage{}
	for _, r := range results {
		if r.Failed() || len(r.Steps) == 0 {
			continue
		}
		name := r.Perturbation.TargetStep
		l, ok := acc[name]
		if !ok {
			l = &Leverage{Step: name, Index: funnel.Index(steps, name)}
			acc[name] = l
		}
		l.Score += r.Steps[len(r.Steps)-1].Score()
		l.Experiments++
	}
	out := make([]Leverage, 0, len(acc))
	for _, l := range acc {
		l.Score /= float64(l.Experiments)
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func rankForces(results []ExperimentResult) []ForceImpact {
	acc := map[perturb.Type]*ForceImpact{}
	for _, r := range results {
		if r.Failed() {
			continue
		}
		f, ok := acc[r.Perturbation.Type]
		if !ok {
			f = &ForceImpact{Type: r.Perturbation.Type}
			acc[r.Perturbation.Type] = f
		}
		f.Impact += r.ChangeRate
		f.Experiments++
	}
	out := make([]ForceImpact, 0, len(acc))
	for _, f := range acc {
		f.Impact /= float64(f.Experiments)
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Impact != out[j].Impact {
			return out[i].Impact > out[j].Impact
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// EnergySegment buckets an initial energy into terciles.
func EnergySegment(energy float64) string {
	switch {
	case energy < 1.0/3:
		return SegmentLowEnergy
	case energy < 2.0/3:
		return SegmentMidEnergy
	default:
		return SegmentHighEnergy
	}
}

// segments counts, per energy band, how many (pair, experiment) cells flipped.
func segments(base baseline, results []ExperimentResult) []Segment {
	acc := map[string]*Segment{}
	for _, label := range []string{SegmentLowEnergy, SegmentMidEnergy, SegmentHighEnergy} {
		acc[label] = &Segment{Label: label}
	}
	for _, r := range results {
		if r.Failed() {
			continue
		}
		for i, pair := range base.pairs {
			seg := acc[EnergySegment(pair.Variant.Initial.Energy)]
			seg.Pairs++
			if i < len(r.pairFlips) && r.pairFlips[i] {
				seg.Flips++
			}
		}
	}
	out := make([]Segment, 0, len(acc))
	for _, s := range acc {
		if s.Pairs > 0 {
			s.FlipRate = float64(s.Flips) / float64(s.Pairs)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FlipRate != out[j].FlipRate {
			return out[i].FlipRate > out[j].FlipRate
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// #endregion ranking

// runID derives a stable id from the sweep inputs.
// Inputs that cannot be encoded, such as a NaN magnitude, have no id.
func runID(version string, seed uint64, perts []perturb.Perturbation) (string, error) {
	body, err := json.Marshal(struct {
		Version string                 `json:"v"`
		Seed    uint64                 `json:"s"`
		Perts   []perturb.Perturbation `json:"p"`
	}{version, seed, perts})
	if err != nil {
		return "", fmt.Errorf("sweep id: %w", err)
	}
	return uuid.NewSHA1(sweepNamespace, body).String(), nil
}
