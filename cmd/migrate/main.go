package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/offlinepay/settlement/internal/config"
	"github.com/offlinepay/settlement/internal/db"
	"github.com/offlinepay/settlement/internal/repository/postgres"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force, seed")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
		users   = flag.String("users", "", "Comma-separated user ids to give wallets (for seed command)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	switch *command {
	case "up":
		if err := db.Migrate(cfg.DatabaseURL, true, *steps); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		fmt.Println("✓ Migrations applied successfully")
	case "down":
		if err := db.Migrate(cfg.DatabaseURL, false, *steps); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		fmt.Println("✓ Migrations rolled back successfully")
	case "version":
		v, dirty, err := db.Version(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		if dirty {
			fmt.Printf("⚠ Database is in a dirty state (version %d)\n", v)
			os.Exit(1)
		}
		fmt.Printf("Current migration version: %d\n", v)
	case "force":
		if *version == 0 {
			log.Fatal("Version required for force command (use -version flag)")
		}
		if err := db.Force(cfg.DatabaseURL, int(*version)); err != nil {
			log.Fatalf("Force migration failed: %v", err)
		}
		fmt.Printf("✓ Forced database to version %d\n", *version)
	case "seed":
		if err := seed(cfg, *users); err != nil {
			log.Fatalf("Seed failed: %v", err)
		}
	default:
		log.Fatalf("Unknown command: %s (supported: up, down, version, force, seed)", *command)
	}
}

// seed creates the issuance reserve and one wallet per listed user. Accounts
// that already exist are left alone.
func seed(cfg config.Config, users string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, 2)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := postgres.NewStore(pool, cfg.RedeemLockTimeout)

	reserve, err := store.EnsureAccount(ctx, "", cfg.Currency)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	fmt.Printf("✓ Reserve %s (%s)\n", reserve.ID, cfg.Currency)

	for _, u := range strings.Split(users, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		w, err := store.EnsureAccount(ctx, u, cfg.Currency)
		if err != nil {
			return fmt.Errorf("wallet of %s: %w", u, err)
		}
		fmt.Printf("✓ Wallet %s for %s\n", w.ID, u)
	}
	return nil
}
