// Package app assembles stores, transports and services from Config. Both
// commands build on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/soaringjerry/Gatepass/internal/api"
	"github.com/soaringjerry/Gatepass/internal/blob"
	"github.com/soaringjerry/Gatepass/internal/config"
	dbstore "github.com/soaringjerry/Gatepass/internal/db"
	"github.com/soaringjerry/Gatepass/internal/mail"
	"github.com/soaringjerry/Gatepass/internal/middleware"
	"github.com/soaringjerry/Gatepass/internal/render"
	"github.com/soaringjerry/Gatepass/internal/services"
)

type App struct {
	Config       config.Config
	Store        api.Store
	Blobs        services.BlobStore
	Gate         *middleware.Gate
	Tickets      *services.TicketService
	Notifier     *services.Notifier
	Ingest       *services.IngestService
	Participants *services.ParticipantService
	Checkpoints  *services.CheckpointService
	Auth         *services.AuthService
	Analytics    *services.AnalyticsService
	Export       *services.ExportService

	closers []func() error
}

// Open builds the SQLite-backed application.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := dbstore.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := dbstore.RunMigrations(db, cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	store, err := dbstore.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite store: %w", err)
	}
	blobs, closeBlobs, err := OpenBlobs(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	a, err := New(cfg, store, blobs, mail.New(mailConfig(cfg)))
	if err != nil {
		store.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeBlobs, store.Close)
	return a, nil
}

// New wires services over the given store, blob store and mailer.
func New(cfg config.Config, store api.Store, blobs services.BlobStore, mailer services.Mailer) (*App, error) {
	docs, err := render.ForFormat(cfg.Tickets.Format)
	if err != nil {
		return nil, err
	}
	event := services.EventInfo{
		Code:       cfg.Event.Code,
		Name:       cfg.Event.Name,
		Date:       cfg.Event.Date,
		Domain:     cfg.Event.Domain,
		SenderName: cfg.Event.SenderName,
	}
	retry := services.DefaultRetryPolicy()
	retry.Attempts = cfg.Retry.Attempts
	retry.Timeout = cfg.Retry.Timeout

	gate := middleware.NewGate(cfg.JWTSecret)
	tickets := services.NewTicketService(render.NewQRRenderer(), docs, blobs, store, event, retry)
	notifier := services.NewNotifier(mailer, event, retry)
	ingest := services.NewIngestService(store, tickets, notifier, services.IngestConfig{Event: event, StrictRoles: cfg.StrictRoles}, retry)

	return &App{
		Config:       cfg,
		Store:        store,
		Blobs:        blobs,
		Gate:         gate,
		Tickets:      tickets,
		Notifier:     notifier,
		Ingest:       ingest,
		Participants: services.NewParticipantService(store, ingest, tickets, notifier, event.Domain),
		Checkpoints:  services.NewCheckpointService(store, retry),
		Auth:         services.NewAuthService(store, gate.Sign, cfg.TokenTTL),
		Analytics:    services.NewAnalyticsService(store),
		Export:       services.NewExportService(store),
	}, nil
}

// OpenBlobs returns the configured blob backend and its close func.
func OpenBlobs(ctx context.Context, cfg config.Config) (services.BlobStore, func() error, error) {
	switch cfg.Blob.Backend {
	case "gcs":
		g, err := blob.NewGCS(ctx, cfg.Blob.Bucket, cfg.Blob.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	case "", "local":
		l, err := blob.NewLocal(cfg.Tickets.Dir, cfg.Tickets.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		return l, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
}

func mailConfig(cfg config.Config) mail.Config {
	mc := mail.Config{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Username:   cfg.SMTP.Username,
		Password:   cfg.SMTP.Password,
		From:       cfg.SMTP.From,
		SenderName: cfg.Event.SenderName,
	}
	if !mc.Configured() {
		log.Warn().Msg("smtp not configured, tickets will not be emailed")
	}
	return mc
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
