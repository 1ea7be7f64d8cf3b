package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/runner"
	"github.com/ppiankov/merklerun/internal/store"
	"github.com/ppiankov/merklerun/internal/target"
)

var (
	runArgs     string
	runSeed     int64
	runAllowNet bool
	runOut      string
	runHistory  string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runArgs, "args", "", "Argument string passed to the target, split on whitespace")
	runCmd.Flags().Int64Var(&runSeed, "seed", 1337, "Seed for every pseudo-random source")
	runCmd.Flags().BoolVar(&runAllowNet, "allow-net", false, "Permit network operations")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "Manifest output path (default from config: manifest.json)")
	runCmd.Flags().StringVar(&runHistory, "history", "", "Record the run in this history database (default from config)")
}

var runCmd = &cobra.Command{
	Use:   "run <target>",
	Short: "Run a target and write its manifest",
	Long: `Runs a built-in program or YAML step script with every file, network and
subprocess operation recorded in a hash-chained manifest.

The manifest is written even when the target fails; the exit status is then 1.

Built-in programs: ` + listTargets(),
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	prog, targetPath, err := target.Resolve(args[0])
	if err != nil {
		return err
	}

	out := runOut
	if out == "" {
		out = cfg.Out
	}

	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(*runner.PanicError); ok && pe.Manifest != nil {
				if err := store.Save(out, pe.Manifest); err != nil {
					logger.Error("save manifest after panic", "path", out, "error", err)
				} else {
					fmt.Fprintf(os.Stderr, "wrote %s with root_hash %s\n", out, pe.Manifest.RootHash)
				}
			}
			panic(r)
		}
	}()

	m, runErr := runner.Run(context.Background(), prog, targetPath, runner.Options{
		Args:     runArgs,
		Seed:     seedFlag(cmd, runSeed),
		AllowNet: allowNetFlag(cmd, runAllowNet),
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Logger:   logger,
		Env:      map[string]any{"config_hash": configHash},
	})
	var te *runner.TargetError
	if runErr != nil && !errors.As(runErr, &te) {
		return runErr
	}

	if err := store.Save(out, m); err != nil {
		return err
	}
	recordHistory(m, out)
	fmt.Printf("wrote %s with root_hash %s\n", out, m.RootHash)

	if te != nil {
		return te
	}
	return nil
}

// recordHistory indexes a finished run when a history database is
// configured. Failures are logged, never fatal.
func recordHistory(m *audit.Manifest, manifestPath string) {
	path := runHistory
	if path == "" {
		path = cfg.HistoryDB
	}
	if path == "" {
		return
	}

	h, err := store.OpenHistory(path)
	if err != nil {
		logger.Warn("history unavailable", "path", path, "error", err)
		return
	}
	defer h.Close()

	id, err := h.Record(context.Background(), store.RecordFor(m, manifestPath))
	if err != nil {
		logger.Warn("history record failed", "error", err)
		return
	}
	logger.Debug("run recorded", "id", id, "db", path)
}

func listTargets() string {
	names := target.Names()
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
