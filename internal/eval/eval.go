package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/funnel-sim/internal/state"
)

// #region eval-harness
// EvalHarness validates sealed traces against the trajectory invariants.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks state bounds, the single-exit rule, that the trace stops at the
// first drop, and that each step starts from the previous step's state.
func (h *EvalHarness) Run(tv TraceView) EvalResult {
	var metrics []EvalMetric
	var failReasons []string

	// 1. State bounds after every update
	worst := 0.0
	for _, s := range tv.Steps {
		worst = math.Max(worst, excursion(s.After))
	}
	boundsPass := worst <= h.config.BoundTolerance
	metrics = append(metrics, EvalMetric{Name: "state_bounds", Value: worst, Pass: boundsPass})
	if !boundsPass {
		failReasons = append(failReasons, fmt.Sprintf("state excursion %.6f exceeds tolerance %.6f", worst, h.config.BoundTolerance))
	}

	// 2. Exactly one exit
	exitPass, exitReason := h.checkExit(tv)
	metrics = append(metrics, EvalMetric{Name: "single_exit", Value: boolValue(exitPass), Pass: exitPass})
	if !exitPass {
		failReasons = append(failReasons, exitReason)
	}

	// 3. Continuity: step i+1 starts where step i ended
	breaks := 0
	for i := 1; i < len(tv.Steps); i++ {
		if tv.Steps[i].Before != tv.Steps[i-1].After {
			breaks++
		}
	}
	continuityPass := breaks == 0
	metrics = append(metrics, EvalMetric{Name: "state_continuity", Value: float64(breaks), Pass: continuityPass})
	if !continuityPass {
		failReasons = append(failReasons, fmt.Sprintf("%d state discontinuities", breaks))
	}

	// 4. Length
	if h.config.MaxSteps > 0 {
		lenPass := len(tv.Steps) <= h.config.MaxSteps
		metrics = append(metrics, EvalMetric{Name: "trace_length", Value: float64(len(tv.Steps)), Pass: lenPass})
		if !lenPass {
			failReasons = append(failReasons, fmt.Sprintf("trace length %d exceeds %d", len(tv.Steps), h.config.MaxSteps))
		}
	}

	passed := len(failReasons) == 0
	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  passed,
		Metrics: metrics,
		Reason:  reason,
	}
}

// checkExit enforces completed XOR dropped-at-i, and that a drop is the last record.
func (h *EvalHarness) checkExit(tv TraceView) (bool, string) {
	dropped := tv.DroppedAt >= 0
	if tv.Completed == dropped {
		return false, fmt.Sprintf("completed=%v dropped_at=%d: need exactly one exit", tv.Completed, tv.DroppedAt)
	}
	if tv.Completed {
		if len(tv.Steps) != tv.StepCount {
			return false, fmt.Sprintf("completed after %d of %d steps", len(tv.Steps), tv.StepCount)
		}
		for i, s := range tv.Steps {
			if !s.Continue {
				return false, fmt.Sprintf("completed trace records a drop at step %d", i)
			}
		}
		return true, ""
	}
	if tv.DroppedAt != len(tv.Steps)-1 {
		return false, fmt.Sprintf("dropped at %d but trace has %d records", tv.DroppedAt, len(tv.Steps))
	}
	for i, s := range tv.Steps {
		if s.Continue == (i == tv.DroppedAt) {
			return false, fmt.Sprintf("decision at step %d inconsistent with drop at %d", i, tv.DroppedAt)
		}
	}
	return true, ""
}

// #endregion eval-harness

// #region helpers
// excursion returns how far the furthest field lies outside bounds.
func excursion(s state.CognitiveState) float64 {
	worst := 0.0
	for _, v := range s.Fields() {
		switch {
		case math.IsNaN(v):
			return math.Inf(1)
		case v < state.Min:
			worst = math.Max(worst, state.Min-v)
		case v > state.Max:
			worst = math.Max(worst, v-state.Max)
		}
	}
	return worst
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
