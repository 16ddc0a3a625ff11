package main

import (
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/funnel-sim/internal/policy"
)

// #region policy

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage content-addressed policy versions",
	}
	cmd.AddCommand(newPolicyRegisterCmd(a), newPolicyListCmd(a), newPolicyShowCmd(a))
	return cmd
}

func newPolicyRegisterCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a policy definition, reusing an identical version",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			v, _, err := a.resolvePolicy(path)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().String("file", "", "Policy definition YAML (default: engine defaults)")
	return cmd
}

func newPolicyListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := policy.OpenRegistry(a.cfg.Simulation.PolicyDir)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), reg.List())
		},
	}
}

func newPolicyShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <version>",
		Short: "Print the definition of a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := policy.OpenRegistry(a.cfg.Simulation.PolicyDir)
			if err != nil {
				return err
			}
			rec, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec.Definition)
		},
	}
}

// #endregion policy
