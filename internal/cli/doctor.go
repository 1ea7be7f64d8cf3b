package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/merklerun/internal/config"
	"github.com/ppiankov/merklerun/internal/seed"
	"github.com/ppiankov/merklerun/internal/store"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check system readiness and diagnose configuration issues",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	checks := doctorChecks()

	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-24s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Println(line)
	}

	if hasFailures {
		fmt.Println()
		fmt.Println("Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Println()
	fmt.Println("All checks passed.")
	return nil
}

func doctorChecks() []checkResult {
	var checks []checkResult

	// 1. Binary location and version.
	execPath, _ := os.Executable()
	if execPath != "" {
		checks = append(checks, checkResult{
			label:  "merklerun binary",
			ok:     true,
			detail: fmt.Sprintf("%s (v%s)", execPath, version),
		})
	} else {
		checks = append(checks, checkResult{
			label:  "merklerun binary",
			ok:     false,
			detail: "cannot determine executable path",
		})
	}

	// 2. config.yaml.
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	switch _, err := os.Stat(path); {
	case path == "":
		checks = append(checks, checkResult{label: "config.yaml", ok: false, detail: "cannot determine home directory"})
	case errors.Is(err, os.ErrNotExist):
		checks = append(checks, checkResult{label: "config.yaml", ok: true, detail: "not present, using defaults", fix: "merklerun init"})
	default:
		if _, err := config.LoadConfig(path); err != nil {
			checks = append(checks, checkResult{label: "config.yaml", ok: false, detail: err.Error(), fix: "merklerun init --force"})
		} else {
			checks = append(checks, checkResult{label: "config.yaml", ok: true, detail: path})
		}
	}

	// 3. History database.
	if cfg.HistoryDB != "" {
		h, err := store.OpenHistory(cfg.HistoryDB)
		if err != nil {
			checks = append(checks, checkResult{label: "history database", ok: false, detail: err.Error()})
		} else {
			h.Close()
			checks = append(checks, checkResult{label: "history database", ok: true, detail: cfg.HistoryDB})
		}
	} else {
		checks = append(checks, checkResult{label: "history database", ok: true, detail: "disabled"})
	}

	// 4. Seed sources. An unavailable source is reported, never a failure.
	reg, _ := seed.Defaults()
	for _, o := range reg.SeedAll(cfg.Seed) {
		detail := "seeded"
		if !o.Seeded {
			detail = fmt.Sprintf("skipped (%v)", o.Err)
		}
		checks = append(checks, checkResult{label: "seed " + o.Lib, ok: true, detail: detail})
	}

	// 5. Shell for spawn steps.
	if sh, err := exec.LookPath("sh"); err == nil {
		checks = append(checks, checkResult{label: "shell", ok: true, detail: sh})
	} else {
		checks = append(checks, checkResult{label: "shell", ok: false, detail: "sh not found; spawn {shell: ...} steps will fail"})
	}

	// 6. Built-in programs.
	checks = append(checks, checkResult{label: "built-in programs", ok: true, detail: listTargets()})

	// 7. Working directory writable for the default manifest.
	out := cfg.Out
	dir := filepath.Dir(out)
	if f, err := os.CreateTemp(dir, ".merklerun-doctor-*"); err == nil {
		f.Close()
		os.Remove(f.Name())
		checks = append(checks, checkResult{label: "manifest directory", ok: true, detail: dir})
	} else {
		checks = append(checks, checkResult{label: "manifest directory", ok: false, detail: err.Error()})
	}

	return checks
}
