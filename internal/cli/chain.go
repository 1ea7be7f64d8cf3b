package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/store"
)

var showFormat string

func init() {
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "text", "Output format (text|json)")
}

var chainCmd = &cobra.Command{
	Use:   "chain <manifest.json>",
	Short: "Verify hash chain integrity of a manifest",
	Long:  "Recomputes every event's chain hash from the genesis hash and the root hash\nover the event list. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runChain,
}

var showCmd = &cobra.Command{
	Use:   "show <manifest.json>",
	Short: "Show a manifest as an event timeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runChain(cmd *cobra.Command, args []string) error {
	m, err := store.Load(args[0])
	if err != nil {
		return err
	}
	result := audit.VerifyChain(m)
	if result.Valid {
		fmt.Printf("OK: %d events verified, root %s\n", result.Events, result.RootHash)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED: %s\n", result.Error)
	os.Exit(exitFailure)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	m, err := store.Load(args[0])
	if err != nil {
		return err
	}

	switch showFormat {
	case "json":
		out, err := audit.FormatJSON(m)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(audit.FormatTimeline(m))
	}
	return nil
}
