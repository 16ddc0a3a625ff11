package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/ledger"
	"github.com/danielpatrickdp/funnel-sim/internal/policy"
	"github.com/danielpatrickdp/funnel-sim/internal/trajectory"
)

// #region ledger

func newLedgerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Derive and inspect versioned decision assertions",
	}
	cmd.AddCommand(
		newLedgerDeriveCmd(a),
		newLedgerValidateCmd(a),
		newLedgerListCmd(a),
	)
	return cmd
}

// deriveResult is the per-version outcome of a derive pass.
type deriveResult struct {
	PolicyVersion string            `json:"policy_version"`
	Traces        int               `json:"traces"`
	Assertions    int               `json:"assertions"`
	Classes       int               `json:"classes"`
	Excluded      []ledger.Excluded `json:"excluded"`
}

func newLedgerDeriveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive assertions from traces and append them to the ledger",
		Long: `Validate that every trace cites a registered policy version, derive
boundary, precedent and density assertions per version, and append them to
the ledger in one transaction. Re-deriving the same traces adds nothing.`,
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
			reg, err := policy.OpenRegistry(a.cfg.Simulation.PolicyDir)
			if err != nil {
				return err
			}
			if err := ledger.ValidateTraces(traces, reg); err != nil {
				return err
			}

			var all []ledger.Assertion
			results := []deriveResult{}
			for _, version := range versionsOf(traces) {
				rec, err := reg.Get(version)
				if err != nil {
					return err
				}
				in := ledger.DeriveInput{
					Traces:        tracesFor(traces, version),
					Steps:         steps,
					Params:        rec.Definition.Params,
					PolicyVersion: version,
				}
				d, err := ledger.Derive(in)
				if err != nil {
					return err
				}
				all = append(all, d.Assertions...)
				results = append(results, deriveResult{
					PolicyVersion: version,
					Traces:        len(in.Traces),
					Assertions:    len(d.Assertions),
					Classes:       len(d.Classes),
					Excluded:      d.Excluded,
				})
			}

			store, err := ledger.OpenStore(a.cfg.Ledger.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			added, err := store.Append(cmd.Context(), all)
			if err != nil {
				return err
			}
			a.logger.Info("ledger updated", "path", a.cfg.Ledger.Path,
				"derived", len(all), "appended", added)
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"versions": results,
				"appended": added,
			})
		},
	}
	cmd.Flags().String("traces", "", "Trace file (JSON lines, required)")
	cmd.Flags().String("steps", "", "Funnel steps JSON file the traces were run on (required)")
	return cmd
}

func newLedgerValidateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that every trace cites a registered policy version",
		RunE: func(cmd *cobra.Command, args []string) error {
			tracesPath, err := requireFlag(cmd, "traces")
			if err != nil {
				return err
			}
			traces, err := readTraceFile(tracesPath)
			if err != nil {
				return err
			}
			reg, err := policy.OpenRegistry(a.cfg.Simulation.PolicyDir)
			if err != nil {
				return err
			}
			err = ledger.ValidateTraces(traces, reg)
			var ie *ledger.IntegrityError
			if errors.As(err, &ie) {
				for _, o := range ie.Orphans {
					a.logger.Warn("orphan trace", "persona", o.Trace.PersonaID,
						"variant", o.Trace.VariantID, "policy_version", o.PolicyVersion)
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d traces ok\n", len(traces))
			return nil
		},
	}
	cmd.Flags().String("traces", "", "Trace file (JSON lines, required)")
	return cmd
}

func newLedgerListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored assertions in append order",
		RunE: func(cmd *cobra.Command, args []string) error {
			version, _ := cmd.Flags().GetString("policy-version")
			store, err := ledger.OpenStore(a.cfg.Ledger.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			as, err := store.List(cmd.Context(), version)
			if err != nil {
				return err
			}
			if as == nil {
				as = []ledger.Assertion{}
			}
			return writeJSON(cmd.OutOrStdout(), as)
		},
	}
	cmd.Flags().String("policy-version", "", "Only list assertions derived under this version")
	return cmd
}

// versionsOf returns the distinct policy versions cited by traces, sorted.
func versionsOf(traces []trajectory.Trace) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range traces {
		if !seen[t.PolicyVersion] {
			seen[t.PolicyVersion] = true
			out = append(out, t.PolicyVersion)
		}
	}
	sort.Strings(out)
	return out
}

func tracesFor(traces []trajectory.Trace, version string) []trajectory.Trace {
	var out []trajectory.Trace
	for _, t := range traces {
		if t.PolicyVersion == version {
			out = append(out, t)
		}
	}
	return out
}

// #endregion ledger
