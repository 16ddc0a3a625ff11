package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/funnel-sim/internal/config"
	"github.com/danielpatrickdp/funnel-sim/internal/logging"
	"github.com/danielpatrickdp/funnel-sim/internal/policy"
)

var version = "0.1.0-dev"

// #region main

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion main

// #region app
// app carries the loaded configuration and logger into every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "funnelsim",
		Short: "Persona funnel simulator",
		Long: `funnelsim walks synthetic personas through a product funnel and
records why each one continues or drops at every step.

It builds persona panels, runs deterministic trajectories, sweeps step
perturbations for sensitivity, and derives versioned decision assertions
into an append-only ledger.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
				cfg.Logging.Level = lvl
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			a.cfg = cfg
			a.logger = logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace")

	rootCmd.AddCommand(
		newVersionCmd(),
		newPanelCmd(a),
		newSimulateCmd(a),
		newCheckCmd(a),
		newReplayCmd(a),
		newSweepCmd(a),
		newLedgerCmd(a),
		newPolicyCmd(a),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "funnelsim version %s\n", version)
		},
	}
}

// #endregion app

// #region helpers

// resolvePolicy registers (or finds) the definition in the configured
// registry. An empty defPath uses the defaults with the configured mode.
func (a *app) resolvePolicy(defPath string) (policy.Version, policy.Params, error) {
	reg, err := policy.OpenRegistry(a.cfg.Simulation.PolicyDir)
	if err != nil {
		return policy.Version{}, policy.Params{}, err
	}
	def := policy.DefaultDefinition()
	def.Params = a.cfg.Params()
	if defPath != "" {
		if def, err = policy.LoadDefinition(defPath); err != nil {
			return policy.Version{}, policy.Params{}, err
		}
		if def.Meta.Source == "defaults" {
			def.Meta.Source = "calibration"
		}
	}
	def.Meta.CreatedBy = "funnelsim"
	def.Meta.CreatedAt = time.Now().UTC()

	v, created, err := reg.Resolve(def)
	if err != nil {
		return policy.Version{}, policy.Params{}, err
	}
	if created {
		a.logger.Info("registered policy version", "version", v.ID, "hash", v.Hash)
	} else {
		a.logger.Debug("reusing policy version", "version", v.ID)
	}
	return v, def.Params, nil
}

// createOutput opens path for writing, or stdout for "" and "-".
func createOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, f.Close, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireFlag(cmd *cobra.Command, name string) (string, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}

// #endregion helpers
