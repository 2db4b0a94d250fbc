// Package main is the entry point for the kpilot CLI
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloud-shuttle/kpilot/internal/config"
	"github.com/cloud-shuttle/kpilot/internal/db"
	"github.com/spf13/cobra"
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "kpilot",
		Short: "Track project KPIs with an AI copilot",
		Long: `Kpilot is a project KPI tracker with a natural-language copilot.
It keeps tasks, phase breakdowns, and earned-value metrics in a local
SQLite database, recalculates derived fields on every change, and lets
you drive updates in plain English.`,
		Version: "0.1.0",
	}

	rootCmd.AddCommand(
		initCmd(),
		taskCmd(),
		chatCmd(),
		resolveCmd(),
		changelogCmd(),
		summaryCmd(),
		resourcesCmd(),
		importJSONLCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// findProjectDir locates the kpilot project root by searching upward
func findProjectDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".kpilot")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a kpilot project (or any parent up to root)")
		}
		dir = parent
	}
}

// requireProject ensures we're in a kpilot project directory
func requireProject() (string, *db.Store, error) {
	dir, err := findProjectDir()
	if err != nil {
		return "", nil, err
	}

	store, err := db.Open(filepath.Join(dir, cfg.DatabasePath))
	if err != nil {
		return "", nil, fmt.Errorf("opening database: %w", err)
	}
	store.SetHoursPerDay(cfg.HoursPerDay)

	return dir, store, nil
}
