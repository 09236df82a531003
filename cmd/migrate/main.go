package main

import (
	"context"
	"log"
	"time"

	"staysync/config"
	"staysync/internal/repository"
	"staysync/pkg/database"
)

// Applies the schema and exits. The api and worker binaries run the
// same statements at startup; this exists for pipelines that migrate
// before deploying.
func main() {
	cfg := config.LoadConfig()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := repository.InitSchema(ctx, db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations completed successfully")
}
