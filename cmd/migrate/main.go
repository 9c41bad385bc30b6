package main

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"fleetsync/internal/database"
)

// Prepares an agent's local store ahead of first start and prints what it
// holds. RESET_PENDING=true drops the offline push queue.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	dsn := os.Getenv("STORE_DSN")
	if dsn == "" {
		log.Fatal("STORE_DSN environment variable not set")
	}
	prefix := os.Getenv("STORE_PREFIX")
	if prefix == "" {
		prefix = "fleetsync"
	}

	db, err := database.Connect(dsn)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to local store")
	}
	defer db.Close()
	log.WithField("driver", database.DriverFor(dsn)).Info("Connected to local store successfully")

	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("Migration failed")
	}
	log.Info("Migration completed successfully!")

	ctx := context.Background()
	records := database.NewRecords(db)

	if strings.EqualFold(os.Getenv("RESET_PENDING"), "true") {
		if err := records.Delete(ctx, prefix+":pendingSync"); err != nil {
			log.WithError(err).Fatal("Failed to drop pending pushes")
		}
		log.Warn("🗑️ Pending push queue dropped")
	}

	stored, err := records.LoadPrefix(ctx, prefix+":")
	if err != nil {
		log.WithError(err).Fatal("Failed to read records")
	}
	keys := make([]string, 0, len(stored))
	for k := range stored {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	log.Info("=== Local Store Summary ===")
	for _, k := range keys {
		log.WithField("bytes", len(stored[k])).Info(k)
	}
	log.Infof("%d records under %q", len(keys), prefix)
}
