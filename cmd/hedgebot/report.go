package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/adapters/notify"
	"github.com/alejandrodnm/polyhedge/internal/adapters/storage"
)

func reportCmd(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	since := fs.Duration("since", 24*time.Hour, "report window")
	events := fs.Int("events", 20, "recent events to list")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	from := time.Now().Add(-*since)
	r, err := store.Report(ctx, from)
	if err != nil {
		return err
	}
	evs, err := store.RecentEvents(ctx, from, *events)
	if err != nil {
		return err
	}
	notify.NewConsole(true).PrintReport(r, evs)
	return nil
}
