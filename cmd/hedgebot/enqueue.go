package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/adapters/storage"
	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// enqueueCmd deja una orden ya decidida en la cola; el engine en marcha la
// recoge en su siguiente drenado.
func enqueueCmd(args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	market := fs.String("market", "", "market slug, e.g. btc-updown-15m-1760000000")
	outcome := fs.String("outcome", "", "UP or DOWN")
	price := fs.Float64("price", 0, "limit price (0-1)")
	shares := fs.Float64("shares", 0, "number of shares")
	intent := fs.String("intent", "ENTRY", "ENTRY | HEDGE | ACCUMULATE")
	reason := fs.String("reason", "manual", "free-form reasoning stored with the order")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	o, err := domain.ParseOutcome(*outcome)
	if err != nil {
		return err
	}
	in, err := domain.ParseIntent(*intent)
	if err != nil {
		return err
	}
	if *market == "" {
		return fmt.Errorf("-market is required")
	}
	if *price <= 0 || *price >= 1 {
		return fmt.Errorf("-price must be in (0,1), got %.4f", *price)
	}
	if *shares <= 0 {
		return fmt.Errorf("-shares must be positive, got %.4f", *shares)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := store.Enqueue(ctx, domain.PendingOrder{
		Slug:      *market,
		Outcome:   o,
		Price:     *price,
		Shares:    *shares,
		Intent:    in,
		Reasoning: *reason,
	})
	if err != nil {
		return err
	}
	depth, _ := store.Depth(ctx)
	slog.Info("order queued", "id", id, "market", *market, "outcome", o, "price", *price, "shares", *shares, "intent", in, "queue_depth", depth)
	return nil
}
