package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/merklerun/internal/store"
	"github.com/ppiankov/merklerun/internal/verify"
)

var diffFormat string

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text|json)")
}

var diffCmd = &cobra.Command{
	Use:   "diff <a.json> <b.json>",
	Short: "Compare two manifests",
	Long:  "Loads two manifests and shows both root hashes, both event counts and every\nposition where the event kinds differ. Nothing is re-run.",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	a, err := store.Load(args[0])
	if err != nil {
		return fmt.Errorf("load manifest a: %w", err)
	}
	b, err := store.Load(args[1])
	if err != nil {
		return fmt.Errorf("load manifest b: %w", err)
	}

	result := verify.Diff(a, b)
	result.PathA = args[0]
	result.PathB = args[1]

	switch diffFormat {
	case "json":
		out, err := verify.FormatDiffJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(verify.FormatDiffText(result))
	}

	return nil
}
