package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/merklerun/internal/runner"
	"github.com/ppiankov/merklerun/internal/store"
	"github.com/ppiankov/merklerun/internal/target"
	"github.com/ppiankov/merklerun/internal/verify"
)

var (
	verifySeed     int64
	verifyAllowNet bool
	verifyFormat   string
	verifyObserved string
)

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().Int64Var(&verifySeed, "seed", 1337, "Seed for every pseudo-random source")
	verifyCmd.Flags().BoolVar(&verifyAllowNet, "allow-net", false, "Permit network operations")
	verifyCmd.Flags().StringVarP(&verifyFormat, "format", "f", "json", "Output format (json|text)")
	verifyCmd.Flags().StringVar(&verifyObserved, "observed", "", "Also write the replayed run's manifest to this path")
}

var verifyCmd = &cobra.Command{
	Use:   "verify <target> <reference.json>",
	Short: "Re-run a target and compare it against a reference manifest",
	Long: `Re-runs the target with the arguments recorded in the reference manifest's
begin event and compares the two event sequences field by field.

Exits 0 when they agree, 2 on any divergence.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	ref, err := store.Load(args[1])
	if err != nil {
		return fmt.Errorf("load reference: %w", err)
	}
	prog, targetPath, err := target.Resolve(args[0])
	if err != nil {
		return err
	}

	res, observed, err := verify.Verify(context.Background(), prog, targetPath, ref, verify.Options{
		Seed:     seedFlag(cmd, verifySeed),
		AllowNet: allowNetFlag(cmd, verifyAllowNet),
		Run: runner.Options{
			Stdout: os.Stderr,
			Stderr: os.Stderr,
			Logger: logger,
			Env:    map[string]any{"config_hash": configHash},
		},
	})
	if err != nil {
		return err
	}

	if verifyObserved != "" {
		if err := store.Save(verifyObserved, observed); err != nil {
			return err
		}
	}

	switch verifyFormat {
	case "text":
		fmt.Print(verify.FormatText(res))
	default:
		out, err := verify.FormatJSON(res)
		if err != nil {
			return err
		}
		fmt.Println(out)
	}

	if !res.OK {
		os.Exit(exitMismatch)
	}
	return nil
}
