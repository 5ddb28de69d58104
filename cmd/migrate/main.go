package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/dashwise/dashboard-qa/internal/config"
	"github.com/dashwise/dashboard-qa/internal/repository/sqlite"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Migrating context store at %s...\n", cfg.Store.Path)

	if err := sqlite.RunMigrations(cfg.Store.Path); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migrations applied")
}
