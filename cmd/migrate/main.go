// migrate runs DB migrations from embedded SQL; use with go run ./cmd/migrate.
package main

import (
	"flag"
	"fmt"
	"os"

	"command-center/backend/internal/config"
	"command-center/backend/internal/db/migrate"
	"command-center/backend/internal/logs"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 0, "Number of versions to move; 0 applies all")
	version := flag.Bool("version", false, "Print the current schema version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := logs.Init(logs.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile}); err != nil {
		fmt.Fprintln(os.Stderr, "logs:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logs.Logger.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	if *version {
		v, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			logs.Logger.Fatalf("migrate: %v", err)
		}
		fmt.Printf("version %d dirty=%v\n", v, dirty)
		return
	}

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		logs.Logger.Fatalf("migrate: %v", err)
	}
	if err := migrate.Run(cfg.DatabaseURL, dir, *steps); err != nil {
		logs.Logger.Fatalf("migrate: %v", err)
	}
	logs.Logger.WithField("direction", dir).Info("migrations applied")
}
