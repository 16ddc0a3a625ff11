package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/perturb"
	"github.com/danielpatrickdp/funnel-sim/internal/sensitivity"
)

// #region sweep

func newSweepCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Rank steps and forces by how perturbations change outcomes",
		Long: `Run the baseline panel once, then each perturbation against it, and
report per-step change rates and fragility, the highest-leverage steps,
the most influential forces and flip rates per energy segment.

Perturbations come from --perturbations, or are generated as one per
(type, step) pair at the configured magnitude.`,
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
			perts, err := a.perturbations(cmd, steps)
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

			cmp := sensitivity.Comparator{
				Panel:          panel,
				Steps:          steps,
				Params:         params,
				PolicyVersion:  version.ID,
				Seed:           opts.Seed,
				ObservedAt:     opts.ObservedAt,
				Workers:        a.cfg.Simulation.Workers,
				MaxExperiments: a.cfg.Sweep.MaxExperiments,
				MarginScale:    a.cfg.Sweep.MarginScale,
				Logger:         a.logger,
			}
			report, err := cmp.Sweep(cmd.Context(), perts)
			if err != nil {
				return err
			}
			a.logger.Info("sweep complete", "run_id", report.RunID,
				"experiments", len(report.Experiments), "failed", report.Failed)

			outPath, _ := cmd.Flags().GetString("out")
			w, closeFn, err := createOutput(cmd, outPath)
			if err != nil {
				return err
			}
			if err := writeJSON(w, report); err != nil {
				closeFn()
				return fmt.Errorf("write report: %w", err)
			}
			return closeFn()
		},
	}
	addPanelFlags(cmd)
	cmd.Flags().String("perturbations", "", "Perturbation list JSON file")
	cmd.Flags().String("types", "", "Comma-separated perturbation types for the generated grid (default: all)")
	cmd.Flags().Float64("magnitude", 0, "Grid magnitude in (0,1] (default: from config)")
	cmd.Flags().String("policy", "", "Policy definition YAML (default: engine defaults)")
	cmd.Flags().String("out", "", "Report output file (default: stdout)")
	addRunFlags(cmd)
	return cmd
}

func (a *app) perturbations(cmd *cobra.Command, steps []funnel.Step) ([]perturb.Perturbation, error) {
	if path, _ := cmd.Flags().GetString("perturbations"); path != "" {
		return perturb.Load(path)
	}
	magnitude := a.cfg.Sweep.Magnitude
	if cmd.Flags().Changed("magnitude") {
		magnitude, _ = cmd.Flags().GetFloat64("magnitude")
		if !(magnitude > 0 && magnitude <= 1) {
			return nil, fmt.Errorf("--magnitude must be in (0,1], got %v", magnitude)
		}
	}
	var types []perturb.Type
	if list, _ := cmd.Flags().GetString("types"); strings.TrimSpace(list) != "" {
		for _, s := range strings.Split(list, ",") {
			t := perturb.Type(strings.TrimSpace(s))
			if !validType(t) {
				return nil, fmt.Errorf("%w: %s", perturb.ErrUnknownType, t)
			}
			types = append(types, t)
		}
	}
	return perturb.Grid(steps, types, magnitude), nil
}

func validType(t perturb.Type) bool {
	for _, known := range perturb.Types {
		if t == known {
			return true
		}
	}
	return false
}

// #endregion sweep
