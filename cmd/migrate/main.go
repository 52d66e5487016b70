// cmd/migrate/main.go applies the embedded schema migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/unclebandit/padaria-campaigns/internal/config"
	"github.com/unclebandit/padaria-campaigns/internal/db"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg.Database.Postgres, log)
	if err != nil {
		log.Error("database unavailable", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	defer conn.Close()

	applied, err := db.Migrate(ctx, conn, log)
	if err != nil {
		log.Error("migration failed", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	log.Info("migrations complete", map[string]interface{}{"applied": applied})
}
