package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/funnel-sim/internal/eval"
	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
)

// #region check

// checkFailure is one trace that broke a trajectory invariant.
type checkFailure struct {
	Trace  string `json:"trace"`
	Reason string `json:"reason"`
}

func newCheckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify trace files against the trajectory invariants",
		Long: `Check every trace in a JSON-lines file: digest, state bounds, the
single-exit rule, no records after a drop, and state continuity between
steps. Exits non-zero when any trace fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := requireFlag(cmd, "traces")
			if err != nil {
				return err
			}
			traces, err := readTraceFile(path)
			if err != nil {
				return err
			}
			cfg := eval.DefaultEvalConfig()
			cfg.BoundTolerance, _ = cmd.Flags().GetFloat64("tolerance")
			if stepsPath, _ := cmd.Flags().GetString("steps"); stepsPath != "" {
				steps, err := funnel.LoadSteps(stepsPath)
				if err != nil {
					return err
				}
				cfg.MaxSteps = len(steps)
			}
			harness := eval.NewEvalHarness(cfg)

			failures := []checkFailure{}
			for _, t := range traces {
				if res := harness.Run(t.View()); !res.Passed {
					failures = append(failures, checkFailure{Trace: t.Key(), Reason: res.Reason})
				}
			}
			a.logger.Info("check complete", "traces", len(traces), "failed", len(failures))
			if err := writeJSON(cmd.OutOrStdout(), map[string]any{
				"traces":   len(traces),
				"failures": failures,
			}); err != nil {
				return err
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d of %d traces failed", len(failures), len(traces))
			}
			return nil
		},
	}
	cmd.Flags().String("traces", "", "Trace file (JSON lines, required)")
	cmd.Flags().String("steps", "", "Steps JSON file; bounds the trace length when set")
	cmd.Flags().Float64("tolerance", 0, "Allowed state excursion outside bounds")
	return cmd
}

// #endregion check
