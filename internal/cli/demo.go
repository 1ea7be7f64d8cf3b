package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/runner"
	"github.com/ppiankov/merklerun/internal/target"
	"github.com/ppiankov/merklerun/internal/verify"
)

func init() {
	rootCmd.AddCommand(demoCmd)
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Demonstrate determinism, verification, tamper detection and network denial",
	RunE:  runDemo,
}

// demoNet tries to reach the network; under the default policy the connect
// is recorded as net_block and fails.
var demoNet = target.ProgramFunc(func(ctx context.Context, p *target.Process) error {
	s := p.Socket()
	defer s.Close()
	if err := s.Connect(ctx, "example.com", 443); err != nil {
		return err
	}
	_, err := s.Send([]byte("GET / HTTP/1.0\r\n\r\n"))
	return err
})

func runDemo(cmd *cobra.Command, args []string) error {
	fmt.Println("=== merklerun demo ===")
	fmt.Println()

	tmpDir, err := os.MkdirTemp("", "merklerun-demo-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := os.Chdir(tmpDir); err != nil {
		return err
	}
	defer os.Chdir(wd)

	ctx := context.Background()
	prog, targetPath, err := target.Resolve("example")
	if err != nil {
		return err
	}
	opts := runner.Options{Seed: 1337, Stdout: io.Discard, Logger: logger}

	// 1. Two runs, same seed.
	first, err := runner.Run(ctx, prog, targetPath, opts)
	if err != nil {
		return err
	}
	second, err := runner.Run(ctx, prog, targetPath, opts)
	if err != nil {
		return err
	}
	fmt.Println("1. Same seed, two runs")
	fmt.Printf("   run 1 root: %s\n", first.RootHash)
	fmt.Printf("   run 2 root: %s\n", second.RootHash)
	fmt.Printf("   identical:  %t\n\n", first.RootHash == second.RootHash)

	// 2. Verify a re-run against the first.
	res, _, err := verify.Verify(ctx, prog, targetPath, first, verify.Options{Seed: 1337, Run: opts})
	if err != nil {
		return err
	}
	fmt.Println("2. Verify re-run against run 1")
	fmt.Printf("   ok: %t, divergences: %d\n\n", res.OK, len(res.Divergences))

	// 3. Different seed.
	res, _, err = verify.Verify(ctx, prog, targetPath, first, verify.Options{Seed: 42, Run: opts})
	if err != nil {
		return err
	}
	fmt.Println("3. Verify with seed 42 against run 1")
	fmt.Printf("   ok: %t\n", res.OK)
	for _, d := range res.Divergences {
		fmt.Printf("   @%d %s differs\n", d.Index, d.Field)
	}
	fmt.Println()

	// 4. Tamper with a recorded event.
	forged := *first
	forged.Events = append([]audit.Event(nil), first.Events...)
	idx := len(forged.Events) - 2
	fields := audit.Fields{}
	for k, v := range forged.Events[idx].Fields {
		fields[k] = v
	}
	fields["bytes"] = 1
	forged.Events[idx].Fields = fields
	chain := audit.VerifyChain(&forged)
	fmt.Println("4. Edit one recorded event")
	fmt.Printf("   chain valid: %t\n   %s\n\n", chain.Valid, chain.Error)

	// 5. Network under the default deny policy.
	m, err := runner.Run(ctx, demoNet, target.BuiltinPrefix+"demo-net", opts)
	var te *runner.TargetError
	if err != nil && !errors.As(err, &te) {
		return err
	}
	sum := audit.Summarize(m)
	fmt.Println("5. Network connect with allow_net=false")
	fmt.Printf("   blocked events: %d\n", sum.Blocked)
	if te != nil {
		fmt.Printf("   target saw:     %s\n", te.Recorded)
	}
	fmt.Println()

	fmt.Println("=== demo complete ===")
	return nil
}
