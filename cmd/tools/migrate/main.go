// Command migrate applies the embedded invoice schema migrations.
//
//	migrate up|down|version [-steps n]
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-invoice/internal/db"
	"github.com/noah-isme/backend-invoice/internal/obs"
)

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger(obs.LogConfig{Format: os.Getenv("OBS_LOG_FORMAT"), Level: os.Getenv("OBS_LOG_LEVEL"), Service: "invoice-migrate"})

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	steps := fs.Int("steps", 0, "number of migrations to roll back with down (0 means all)")
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate up|down|version [-steps n]")
		os.Exit(2)
	}
	cmd := os.Args[1]
	_ = fs.Parse(os.Args[2:])

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}
	m, err := db.New(url)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrations")
	}
	defer m.Close()

	switch cmd {
	case "up":
		err = db.RunMigrations(m)
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
		if errors.Is(err, migrate.ErrNoChange) {
			err = nil
		}
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			logger.Info().Msg("no migrations applied")
			return
		}
		err = verr
		if err == nil {
			logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema version")
		}
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}
	logger.Info().Str("command", cmd).Msg("migration complete")
}
