package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"quill/internal/config"
	"quill/internal/lib/migrator"
	"quill/internal/storage/mongodb"
	"quill/migrations"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		log.Fatal("config path is empty")
	}

	cfg := config.LoadConfig(configPath)

	applied, err := migrate(cfg.Storage)
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	if !applied {
		fmt.Println("no migrations to apply")
		return
	}

	fmt.Println("migrations applied")
}

func migrate(cfg config.StorageConfig) (bool, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return false, err
			}
		}
		return migrator.Up(migrations.FS, migrations.SQLiteDir, migrator.SQLiteURL(cfg.SQLitePath))
	case config.DriverPostgres:
		return migrator.Up(migrations.FS, migrations.PostgresDir, migrator.PostgresURL(cfg.PostgresDSN))
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		log.Println("connecting to MongoDB...")

		// indexes are created on connect
		storage, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return false, err
		}
		defer storage.Close()

		return true, nil
	default:
		return false, errors.New("unknown storage driver " + cfg.Driver)
	}
}
