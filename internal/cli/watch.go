package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/merklerun/internal/runner"
	"github.com/ppiankov/merklerun/internal/store"
	"github.com/ppiankov/merklerun/internal/target"
	"github.com/ppiankov/merklerun/internal/verify"
	"github.com/ppiankov/merklerun/internal/watch"
)

var (
	watchSeed     int64
	watchAllowNet bool
	watchDebounce time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Int64Var(&watchSeed, "seed", 1337, "Seed for every pseudo-random source")
	watchCmd.Flags().BoolVar(&watchAllowNet, "allow-net", false, "Permit network operations")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DebounceDefault, "Quiet period after a change before re-verifying")
}

var watchCmd = &cobra.Command{
	Use:   "watch <script.yaml> <reference.json>",
	Short: "Re-verify a step script against a reference on every change",
	Long:  "Watches a step script and re-runs verify each time it is saved.\nStops on SIGINT or SIGTERM.",
	Args:  cobra.ExactArgs(2),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	scriptPath, refPath := args[0], args[1]
	ref, err := store.Load(refPath)
	if err != nil {
		return fmt.Errorf("load reference: %w", err)
	}
	if _, _, err := target.Resolve(scriptPath); err != nil {
		return err
	}

	seed := seedFlag(cmd, watchSeed)
	allowNet := allowNetFlag(cmd, watchAllowNet)

	check := func(ctx context.Context, path string) {
		prog, targetPath, err := target.Resolve(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", time.Now().Format(time.TimeOnly), err)
			return
		}
		res, _, err := verify.Verify(ctx, prog, targetPath, ref, verify.Options{
			Seed:     seed,
			AllowNet: allowNet,
			Run:      runner.Options{Stdout: os.Stderr, Stderr: os.Stderr, Logger: logger},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", time.Now().Format(time.TimeOnly), err)
			return
		}
		fmt.Printf("%s ", time.Now().Format(time.TimeOnly))
		fmt.Print(verify.FormatText(res))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	check(ctx, scriptPath)
	fmt.Fprintf(os.Stderr, "watching %s (Ctrl-C to stop)\n", scriptPath)

	w := watch.New(scriptPath, check).WithDebounce(watchDebounce).WithLogger(logger)
	return w.Run(ctx)
}
