package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/merklerun/internal/store"
)

var (
	historyDB     string
	historyLimit  int
	historyRoot   string
	historyFormat string
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyDB, "db", "", "History database (default from config)")
	historyCmd.Flags().IntVarP(&historyLimit, "lines", "n", 20, "Number of recent runs to show (0 for all)")
	historyCmd.Flags().StringVar(&historyRoot, "root", "", "Only show runs that produced this root hash")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "text", "Output format (text|json)")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long:  "Lists runs recorded in the history database, newest first.\nRuns are recorded by `merklerun run --history <db>` or the history_db config key.",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	path := historyDB
	if path == "" {
		path = cfg.HistoryDB
	}
	if path == "" {
		return fmt.Errorf("no history database: set --db or history_db in config")
	}

	h, err := store.OpenHistory(path)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx := context.Background()
	var rows []store.RunRecord
	if historyRoot != "" {
		rows, err = h.ByRoot(ctx, historyRoot)
	} else {
		rows, err = h.List(ctx, historyLimit)
	}
	if err != nil {
		return err
	}

	if historyFormat == "json" {
		if rows == nil {
			rows = []store.RunRecord{}
		}
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(rows) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, r := range rows {
		net := "deny-net"
		if r.AllowNet {
			net = "allow-net"
		}
		fmt.Printf("%s  %-9s %-9s seed=%-6d events=%-4d %s  %s\n",
			r.StartedAt, r.Status, net, r.Seed, r.Events, shortHash(r.RootHash), r.Target)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 19 {
		return h[:19]
	}
	return h
}
