package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/merklerun/internal/target"
)

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().Int64Var(&runSeed, "seed", 1337, "Seed for every pseudo-random source")
	execCmd.Flags().BoolVar(&runAllowNet, "allow-net", false, "Permit network operations")
	execCmd.Flags().StringVarP(&runOut, "out", "o", "", "Manifest output path (default from config: manifest.json)")
	execCmd.Flags().StringVar(&runHistory, "history", "", "Record the run in this history database (default from config)")
}

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <command> [args...]",
	Short: "Run one command as a recorded subprocess",
	Long: `Shorthand for "merklerun run exec --args '<command> [args...]'": the command is
spawned through the process capability and recorded as subprocess_spawn.
Arguments are re-split on whitespace when the run is verified.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runArgs = strings.Join(args, " ")
		return runRun(cmd, []string{target.BuiltinPrefix + "exec"})
	},
}
