package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"companion/internal/config"
	"companion/internal/store"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the config file and database schema",
	Long: `Writes a default config file (when none exists) and initializes the
SQLite database so the server can start cleanly.`,
	RunE: runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Printf("Wrote default config to %s\n", configPath)
	} else {
		fmt.Printf("Config %s already exists, leaving it alone\n", configPath)
	}

	if dir := filepath.Dir(cfg.Memory.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	st, err := store.Open(cfg.Memory.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer st.Close()

	fmt.Printf("Database ready at %s\n", cfg.Memory.DatabasePath)
	return nil
}
