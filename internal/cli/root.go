package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/merklerun/internal/config"
)

// Exit codes.
const (
	exitFailure  = 1
	exitMismatch = 2
	exitConfig   = 78 // EX_CONFIG
)

var (
	configPath string
	verbose    bool

	cfg        = config.DefaultConfig()
	configHash string
	logger     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.merklerun/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

var rootCmd = &cobra.Command{
	Use:           "merklerun",
	Short:         "Deterministic, tamper-evident runner",
	Long:          "Runs a target with its file, network and process operations recorded in a hash-chained\nmanifest, then verifies re-runs against it or diffs two manifests.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, hash, err := config.LoadConfigWithHash(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(exitConfig)
		}
		cfg, configHash = loaded, hash

		level := cfg.Level()
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailure)
	}
}

// seedFlag returns the --seed flag value when set, else the configured seed.
func seedFlag(cmd *cobra.Command, v int64) int64 {
	if cmd.Flags().Changed("seed") {
		return v
	}
	return cfg.Seed
}

// allowNetFlag returns the --allow-net flag value when set, else the
// configured policy.
func allowNetFlag(cmd *cobra.Command, v bool) bool {
	if cmd.Flags().Changed("allow-net") {
		return v
	}
	return cfg.AllowNet
}
