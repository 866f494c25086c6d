package main

import (
	"context"
	"flag"
	"log"

	"github.com/iliyamo/escape-reception/internal/config"
	"github.com/iliyamo/escape-reception/internal/database"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of applying")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()
	if cfg.Storage != config.StorageMySQL {
		log.Fatalf("nothing to migrate with STORAGE=%s", cfg.Storage)
	}

	db, err := database.Open(context.Background(), cfg.DSN())
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if *down > 0 {
		if err := database.Rollback(db, *down); err != nil {
			log.Fatalf("rollback failed: %v", err)
		}
		log.Printf("rolled back %d migration(s)", *down)
		return
	}
	v, err := database.Migrate(db)
	if err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	log.Printf("database migrations applied (version %d)", v)
}
