package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"passvault.dev/passvault/internal/client/config"
	"passvault.dev/passvault/internal/client/items"
	"passvault.dev/passvault/internal/client/keys"
	"passvault.dev/passvault/internal/client/migrations"
	"passvault.dev/passvault/internal/client/shares"
	"passvault.dev/passvault/internal/filex"
	"passvault.dev/passvault/internal/logging"
)

// Offline vault viewer: opens the local cache and lists the vaults and item
// counts of the unlocked user. Online operation needs the API transport layer
// wired in by the hosting application.
func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := newLogger(cfg.LogLevel)

	userID := os.Getenv("PASSVAULT_USER")
	secret := os.Getenv("PASSVAULT_SECRET")
	salt := os.Getenv("PASSVAULT_SALT")
	if userID == "" || secret == "" || salt == "" {
		log.Fatal("PASSVAULT_USER, PASSVAULT_SECRET and PASSVAULT_SALT must be set")
	}

	dbPath, err := filex.EnsureParentDir(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	db, err := migrations.Open(ctx, dbPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer db.Close()

	symProvider := keys.NewSessionKeyProvider([]byte(secret), []byte(salt))
	symKey, err := symProvider.SymmetricKey(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}

	sharesLocal := shares.NewLocalDatasource(db)
	itemsLocal := items.NewLocalDatasource(db)

	cached, err := sharesLocal.GetAllShares(ctx, userID)
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger.Info(ctx, "opened local cache", "path", dbPath, "shares", len(cached))

	for i := range cached {
		vault, err := cached[i].ToVault(symKey)
		if err != nil {
			logger.Error(ctx, "failed to decrypt vault", "shareId", cached[i].Share.ShareID, "error", err)
			continue
		}
		if vault == nil {
			continue
		}
		shareItems, err := itemsLocal.GetItems(ctx, userID, vault.ShareID)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Printf("%s\t%d items\n", vault.Name, len(shareItems))
	}
}

func newLogger(level string) logging.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return logging.NewSlogLogger(slog.New(h))
}
