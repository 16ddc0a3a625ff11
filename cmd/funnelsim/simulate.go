package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/trajectory"
)

// #region simulate

func newSimulateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run every persona x variant pair through the funnel",
		Long: `Simulate the panel over the step list and write one sealed trace per
pair as JSON lines. A per-step failure summary is printed to stdout.

Pairs that fail are logged and left out of the trace file; they never
abort the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stepsPath, err := requireFlag(cmd, "steps")
			if err != nil {
				return err
			}
			steps, err := funnel.LoadSteps(stepsPath)
			if err != nil {
				return err
			}
			panel, err := a.loadPanel(cmd)
			if err != nil {
				return err
			}
			policyPath, _ := cmd.Flags().GetString("policy")
			version, params, err := a.resolvePolicy(policyPath)
			if err != nil {
				return err
			}
			opts, err := a.runOptions(cmd, version.ID)
			if err != nil {
				return err
			}

			results, err := trajectory.RunPanel(cmd.Context(), panel, steps, params, opts)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					a.logger.Warn("pair failed", "persona", r.PersonaID, "variant", r.VariantID, "err", r.Err)
				}
			}
			traces := trajectory.Traces(results)

			outPath, _ := cmd.Flags().GetString("out")
			if err := writeTraceFile(outPath, traces); err != nil {
				return err
			}
			summary := trajectory.Summarize(traces, steps)
			a.logger.Info("simulation complete", "policy_version", version.ID,
				"trajectories", summary.Trajectories, "dropped", summary.Dropped,
				"failed", len(results)-len(traces), "traces", outPath)

			summaryPath, _ := cmd.Flags().GetString("summary")
			w, closeFn, err := createOutput(cmd, summaryPath)
			if err != nil {
				return err
			}
			if err := writeJSON(w, summary); err != nil {
				closeFn()
				return fmt.Errorf("write summary: %w", err)
			}
			return closeFn()
		},
	}
	addPanelFlags(cmd)
	cmd.Flags().String("out", "traces.jsonl", "Trace output file (JSON lines)")
	cmd.Flags().String("summary", "", "Summary output file (default: stdout)")
	cmd.Flags().String("policy", "", "Policy definition YAML (default: engine defaults)")
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64("seed", 0, "Random seed (default: from config)")
	cmd.Flags().String("observed-at", "", "RFC3339 timestamp stamped on traces (default: now)")
}

// runOptions merges the run flags over the loaded configuration.
func (a *app) runOptions(cmd *cobra.Command, policyVersion string) (trajectory.Options, error) {
	opts := trajectory.Options{
		Workers:       a.cfg.Simulation.Workers,
		Seed:          a.cfg.Simulation.Seed,
		PolicyVersion: policyVersion,
		ObservedAt:    time.Now().UTC().Truncate(time.Second),
		Logger:        a.logger,
	}
	if cmd.Flags().Changed("seed") {
		opts.Seed, _ = cmd.Flags().GetUint64("seed")
	}
	if s, _ := cmd.Flags().GetString("observed-at"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return trajectory.Options{}, fmt.Errorf("parse --observed-at: %w", err)
		}
		opts.ObservedAt = ts.UTC()
	}
	return opts, nil
}

func writeTraceFile(path string, traces []trajectory.Trace) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create traces %s: %w", path, err)
	}
	if err := trajectory.WriteTraces(f, traces); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readTraceFile(path string) ([]trajectory.Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open traces %s: %w", path, err)
	}
	defer f.Close()
	return trajectory.ReadTraces(f)
}

// #endregion simulate
