package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/rs/zerolog/log"
	"seatkeeper/internal/pkg/logger"
	"seatkeeper/internal/platform/config"
	"seatkeeper/internal/platform/database"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up, down or version")
	target := flag.Int64("target", 0, "Version to roll back to with -direction=down (0 rolls back one)")
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logg := logger.Init(cfg.Logging, "migrate")

	db, err := database.Open(cfg.Database)
	if err != nil {
		logg.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	migrator := database.NewMigrator(db, cfg.Database.Driver, logg)
	ctx := context.Background()

	switch *direction {
	case "up":
		err = migrator.Up(ctx)
	case "down":
		err = migrator.Down(ctx, *target)
	case "version":
		var version int64
		version, err = migrator.Version(ctx)
		if err == nil {
			fmt.Println(version)
		}
	default:
		logg.Fatal().Str("direction", *direction).Msg("Unknown migration direction")
	}

	if err != nil {
		logg.Fatal().Err(err).Msg("Migration failed")
	}
}
