package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/soaringjerry/Gatepass/internal/app"
	"github.com/soaringjerry/Gatepass/internal/services"
)

// SeedIfEmpty ingests the participant list at path on first run, when the
// store holds no participants yet. Tickets are issued but not emailed.
func SeedIfEmpty(ctx context.Context, a *app.App, path string) error {
	if path == "" {
		return nil
	}
	keys, err := a.Store.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("check store: %w", err)
	}
	if len(keys) > 0 {
		return nil // already seeded
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Msg("seed file not found, skipping")
			return nil
		}
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	log.Info().Str("path", path).Msg("first run detected, seeding participants")
	report, err := a.Ingest.IngestReader(ctx, f, services.IngestOptions{SkipNotify: true})
	if err != nil {
		return err
	}
	log.Info().
		Int("inserted", len(report.Inserted)).
		Int("skipped", len(report.Skipped)).
		Int("rejected", len(report.Rejected)).
		Int("ticket_failed", len(report.TicketFailed)).
		Msg("seed completed")
	return nil
}
