package trajectory

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/funnel-sim/internal/engine"
	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/logging"
	"github.com/danielpatrickdp/funnel-sim/internal/policy"
)

// #region options
// Options configures a panel run.
type Options struct {
	Workers       int // 0 = GOMAXPROCS
	Seed          uint64
	PolicyVersion string
	ObservedAt    time.Time
	Horizon       int // see Input.Horizon
	Logger        *slog.Logger
}

// Result is the outcome for one persona x variant pair. Exactly one of Trace
// (sealed) or Err is meaningful.
type Result struct {
	PersonaID string
	VariantID string
	Trace     Trace
	Err       error
}

// #endregion options

// #region run-panel
// RunPanel simulates every pair of the panel over steps. Pairs are
// independent and run on a bounded worker pool; results are returned in
// (persona id, variant id) order regardless of completion order. A failing
// pair is reported in its Result and never aborts the batch. Invalid steps
// are rejected before any simulation. Cancelling ctx abandons the whole run.
func RunPanel(ctx context.Context, panel Panel, steps []funnel.Step, params policy.Params, opts Options) ([]Result, error) {
	if err := funnel.Validate(steps); err != nil {
		return nil, fmt.Errorf("run panel: %w", err)
	}
	if err := panel.Validate(); err != nil {
		return nil, fmt.Errorf("run panel: %w", err)
	}
	logger := logging.OrDiscard(opts.Logger)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	eng := engine.New(params)
	own := funnel.Clone(steps)
	pairs := panel.Pairs()
	results := make([]Result, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tr, err := Run(Input{
				PersonaID:     pair.Persona.ID,
				Archetype:     pair.Persona.Archetype,
				Priors:        pair.Persona.Priors,
				Variant:       pair.Variant,
				Steps:         own,
				Engine:        eng,
				PolicyVersion: opts.PolicyVersion,
				Seed:          opts.Seed,
				ObservedAt:    opts.ObservedAt,
				Horizon:       opts.Horizon,
			})
			results[i] = Result{PersonaID: pair.Persona.ID, VariantID: pair.Variant.ID, Trace: tr, Err: err}
			if err == nil {
				logger.Log(gctx, logging.LevelTrace, "trajectory",
					"pair", pair.Key(), "steps", len(tr.Records), "dropped_at", tr.Outcome.DroppedAt)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run panel: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run panel: %w", err)
	}

	failed, dropped := 0, 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			logger.Warn("trajectory failed", "persona", r.PersonaID, "variant", r.VariantID, "err", r.Err)
		case r.Trace.Dropped():
			dropped++
		}
	}
	logger.Debug("panel run complete",
		"pairs", len(results), "dropped", dropped, "failed", failed,
		"policy_version", opts.PolicyVersion, "workers", workers)
	return results, nil
}

// Traces returns the sealed traces of the successful results, in result order.
func Traces(results []Result) []Trace {
	out := make([]Trace, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Trace)
		}
	}
	return out
}

// #endregion run-panel
