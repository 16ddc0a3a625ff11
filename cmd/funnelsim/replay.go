package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/policy"
	"github.com/danielpatrickdp/funnel-sim/internal/replay"
	"github.com/danielpatrickdp/funnel-sim/internal/state"
	"github.com/danielpatrickdp/funnel-sim/internal/trajectory"
)

// #region replay

func newReplayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-simulate traces and confirm they reproduce exactly",
		Long: `Re-run every trace from its recorded priors, seed, observation time
and policy version, and compare digests. Exits non-zero when any trace
fails to reproduce.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tracesPath, err := requireFlag(cmd, "traces")
			if err != nil {
				return err
			}
			stepsPath, err := requireFlag(cmd, "steps")
			if err != nil {
				return err
			}
			traces, err := readTraceFile(tracesPath)
			if err != nil {
				return err
			}
			steps, err := funnel.LoadSteps(stepsPath)
			if err != nil {
				return err
			}
			variants := state.DefaultVariants()
			if panelPath, _ := cmd.Flags().GetString("panel"); panelPath != "" {
				panel, err := trajectory.LoadPanel(panelPath)
				if err != nil {
					return err
				}
				variants = panel.Variants
			}
			reg, err := policy.OpenRegistry(a.cfg.Simulation.PolicyDir)
			if err != nil {
				return err
			}

			results, err := replay.Replay(traces, steps, variants, reg)
			if err != nil {
				return err
			}
			summary := replay.Summarize(results)
			for _, r := range results {
				if r.Action != replay.ActionMatch {
					a.logger.Warn("trace did not reproduce", "persona", r.PersonaID,
						"variant", r.VariantID, "action", r.Action, "reason", r.Reason)
				}
			}
			if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if summary.Matches != summary.Total {
				return fmt.Errorf("%d of %d traces did not reproduce", summary.Total-summary.Matches, summary.Total)
			}
			return nil
		},
	}
	cmd.Flags().String("traces", "", "Trace file (JSON lines, required)")
	cmd.Flags().String("steps", "", "Funnel steps JSON file the traces were run on (required)")
	cmd.Flags().String("panel", "", "Panel file supplying the variants (default: built-in variants)")
	return cmd
}

// #endregion replay
