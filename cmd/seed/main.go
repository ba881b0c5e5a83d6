package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/xtrntr/papertrade/internal/auth"
	"github.com/xtrntr/papertrade/internal/config"
	"github.com/xtrntr/papertrade/internal/db"
	"github.com/xtrntr/papertrade/internal/models"
)

var assets = []models.Asset{
	{Symbol: "BTCUSDT", Name: "Bitcoin", Active: true},
	{Symbol: "ETHUSDT", Name: "Ethereum", Active: true},
	{Symbol: "SOLUSDT", Name: "Solana", Active: true},
	{Symbol: "BNBUSDT", Name: "BNB", Active: true},
	{Symbol: "DOGEUSDT", Name: "Dogecoin", Active: false},
}

const (
	demoUsername = "demo"
	demoPassword = "demo-password"
)

// Seed the database with tracked assets and a demo user
func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	for _, a := range assets {
		if err := database.UpsertAsset(ctx, a); err != nil {
			log.Fatalf("Failed to seed asset: %v", err)
		}
	}

	active, err := database.ActiveSymbols(ctx)
	if err != nil {
		log.Fatalf("Failed to read active symbols: %v", err)
	}
	fmt.Printf("Seeded %d assets, %d active: %v\n", len(assets), len(active), active)

	// Create demo user if it doesn't exist
	_, err = database.GetUserByUsername(ctx, demoUsername)
	switch {
	case err == nil:
		fmt.Printf("User %q already exists. No need to seed.\n", demoUsername)
	case errors.Is(err, db.ErrUserNotFound):
		authService := auth.NewAuthService(database, cfg.Auth)
		user, err := authService.Register(ctx, demoUsername, demoPassword)
		if err != nil {
			log.Fatalf("Failed to create demo user: %v", err)
		}
		fmt.Printf("Created user %q (id %d) with balance %s\n", user.Username, user.ID, user.Balance)
	default:
		log.Fatalf("Failed to check demo user: %v", err)
	}

	fmt.Println("Successfully seeded the database!")
}
