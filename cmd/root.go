// Package cmd is the specmem command-line surface. It wires the engines
// together at startup; the engines themselves take no global state.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/specmem/specmem/internal/config"
)

var (
	flagConfig  string
	flagTenant  string
	flagVerbose bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specmem",
		Short: "Memory retrieval and spatial caching engine",
		Long: `specmem stores vector-embedded memories in Postgres/pgvector and
retrieves them through a hybrid semantic/keyword pipeline with spatial
organization, access-pattern prediction, and a compressed overflow tier.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flagVerbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default ~/.specmem/config.yaml)")
	cmd.PersistentFlags().StringVar(&flagTenant, "tenant", "", "tenant path override")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(searchCmd())
	cmd.AddCommand(memoryCmd())
	cmd.AddCommand(spatialCmd())
	cmd.AddCommand(hotpathCmd())
	cmd.AddCommand(overflowCmd())
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(doctorCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if v := os.Getenv("SPECMEM_CONFIG"); v != "" {
		return v
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if flagTenant != "" {
		cfg.Tenant = flagTenant
	}
	return cfg, nil
}
