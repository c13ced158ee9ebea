// migrate applies the embedded SQL migrations to DATABASE_URL.
//
//	go run ./cmd/migrate            # migrate up
//	go run ./cmd/migrate -direction down
package main

import (
	"errors"
	"flag"
	"log"

	"session-control-plane/internal/config"
	"session-control-plane/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	switch err := migrate.Run(cfg.DatabaseURL, *direction); {
	case err == nil:
		log.Printf("migrations applied (%s)", *direction)
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("database already at target version")
	default:
		log.Fatalf("migrate: %v", err)
	}
}
