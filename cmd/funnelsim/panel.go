package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/funnel-sim/internal/state"
	"github.com/danielpatrickdp/funnel-sim/internal/trajectory"
)

// #region panel

func newPanelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Build persona panels",
	}
	cmd.AddCommand(newPanelBuildCmd(a))
	return cmd
}

func newPanelBuildCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile persona records into a panel file",
		Long: `Compile raw persona records into priors and pair them with the
chosen entry variants. Invalid or duplicate records are reported and left
off the panel.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := requireFlag(cmd, "personas")
			if err != nil {
				return err
			}
			out, err := requireFlag(cmd, "out")
			if err != nil {
				return err
			}
			variants, _ := cmd.Flags().GetString("variants")
			panel, err := a.buildPanel(in, variants)
			if err != nil {
				return err
			}
			if err := trajectory.SavePanel(out, panel); err != nil {
				return err
			}
			a.logger.Info("panel written", "path", out,
				"personas", len(panel.Personas), "variants", len(panel.Variants))
			return nil
		},
	}
	cmd.Flags().String("personas", "", "Persona records JSON file (required)")
	cmd.Flags().String("out", "", "Panel output file (required)")
	cmd.Flags().String("variants", "", "Comma-separated entry variant ids (default: all)")
	return cmd
}

// buildPanel compiles records from path. Rejected records are logged and
// skipped; a panel left with no personas is an error.
func (a *app) buildPanel(path, variantList string) (trajectory.Panel, error) {
	records, err := trajectory.LoadPersonas(path)
	if err != nil {
		return trajectory.Panel{}, err
	}
	variants, err := parseVariants(variantList)
	if err != nil {
		return trajectory.Panel{}, err
	}
	panel, rejected := trajectory.BuildPanel(records, variants)
	for _, ue := range rejected {
		a.logger.Warn("persona rejected", "persona", ue.PersonaID, "err", ue.Err)
	}
	if len(panel.Personas) == 0 {
		return trajectory.Panel{}, fmt.Errorf("no valid personas in %s (%d rejected)", path, len(rejected))
	}
	return panel, nil
}

func parseVariants(list string) ([]state.Variant, error) {
	if strings.TrimSpace(list) == "" {
		return state.DefaultVariants(), nil
	}
	var out []state.Variant
	for _, id := range strings.Split(list, ",") {
		v, err := state.LookupVariant(strings.TrimSpace(id))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// loadPanel reads --panel, or builds one from --personas when no panel is given.
func (a *app) loadPanel(cmd *cobra.Command) (trajectory.Panel, error) {
	if path, _ := cmd.Flags().GetString("panel"); path != "" {
		return trajectory.LoadPanel(path)
	}
	if path, _ := cmd.Flags().GetString("personas"); path != "" {
		variants, _ := cmd.Flags().GetString("variants")
		return a.buildPanel(path, variants)
	}
	return trajectory.Panel{}, fmt.Errorf("one of --panel or --personas is required")
}

func addPanelFlags(cmd *cobra.Command) {
	cmd.Flags().String("panel", "", "Panel file built by 'panel build'")
	cmd.Flags().String("personas", "", "Persona records JSON file, compiled on the fly")
	cmd.Flags().String("variants", "", "Comma-separated entry variant ids, with --personas")
	cmd.Flags().String("steps", "", "Funnel steps JSON file (required)")
}

// #endregion panel
