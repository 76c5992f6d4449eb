package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ijg0341/vibe-review-sub000/internal/auth"
	"github.com/ijg0341/vibe-review-sub000/internal/db"
	"github.com/ijg0341/vibe-review-sub000/internal/logger"
)

func connectForAdmin(ctx context.Context) *db.DB {
	databaseURL, err := loadDatabaseURL(os.Getenv)
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	database, err := db.ConnectWithRetry(ctx, databaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	return database
}

// runMigrate applies pending migrations and exits.
func runMigrate() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	database := connectForAdmin(ctx)
	defer database.Close()

	if err := db.RunMigrations(database.Conn()); err != nil {
		logger.Fatal("migration failed", "error", err)
	}
	v, dirty, err := db.MigrationVersion(database.Conn())
	if err != nil {
		logger.Fatal("failed to read migration version", "error", err)
	}
	logger.Info("migrations applied", "version", v, "dirty", dirty)
}

// runCreateKey stores a new API key for owner and prints the raw key, which
// is not recoverable afterwards.
func runCreateKey(name, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	database := connectForAdmin(ctx)
	defer database.Close()

	rawKey, keyHash, err := auth.GenerateAPIKey()
	if err != nil {
		logger.Fatal("failed to generate API key", "error", err)
	}
	key, err := database.CreateAPIKey(ctx, keyHash, name, owner)
	if err != nil {
		logger.Fatal("failed to create API key", "name", name, "owner", owner, "error", err)
	}

	logger.Info("created API key", "key_id", key.ID, "name", key.Name, "owner", key.Owner)
	fmt.Println(rawKey)
}
