// cmd/seeder/main.go loads demo tenants, customers and offers for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/unclebandit/padaria-campaigns/internal/config"
	"github.com/unclebandit/padaria-campaigns/internal/db"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
)

func main() {
	dir := flag.String("dir", "seed", "directory holding the seed SQL files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg.Database.Postgres, log)
	if err != nil {
		log.Error("database unavailable", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	defer conn.Close()

	// Order matters: customers and offers reference tenants.
	seedFiles := []string{"tenants.sql", "customers.sql", "offers.sql"}

	for _, file := range seedFiles {
		path := filepath.Join(*dir, file)
		content, err := os.ReadFile(path)
		if err != nil {
			log.Error("failed to read seed file", map[string]interface{}{"file": path, "error": err})
			os.Exit(1)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Error("failed to execute seed file", map[string]interface{}{"file": path, "error": err})
			os.Exit(1)
		}
		log.Info("seeded", map[string]interface{}{"file": path})
	}
	log.Info("database seeding completed", nil)
}
