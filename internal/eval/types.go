package eval

import "github.com/danielpatrickdp/funnel-sim/internal/state"

// #region eval-config
// EvalConfig holds tolerances for trace validation.
type EvalConfig struct {
	BoundTolerance float64 // allowed excursion outside state bounds (0 = strict)
	MaxSteps       int     // reject traces longer than the step list (0 = unchecked)
}

// DefaultEvalConfig returns strict checking.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		BoundTolerance: 0,
	}
}

// #endregion eval-config

// #region trace-view
// StepView is the slice of a step record the checks read.
type StepView struct {
	Before   state.CognitiveState
	After    state.CognitiveState
	Continue bool
}

// TraceView is a read-only projection of a sealed trace.
type TraceView struct {
	StepCount int // length of the step list the trace walked
	Steps     []StepView
	Completed bool
	DroppedAt int // -1 when completed
}

// #endregion trace-view

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of trace validation.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
