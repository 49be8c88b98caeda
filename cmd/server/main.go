package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/soaringjerry/Gatepass/internal/api"
	"github.com/soaringjerry/Gatepass/internal/app"
	"github.com/soaringjerry/Gatepass/internal/blob"
	"github.com/soaringjerry/Gatepass/internal/config"
	"github.com/soaringjerry/Gatepass/internal/middleware"
)

func main() {
	var (
		configPath = pflag.String("config", "", "YAML config file (default $GATEPASS_CONFIG)")
		addr       = pflag.String("addr", "", "listen address, overrides config")
		seedPath   = pflag.String("seed", config.SafeEnv("GATEPASS_SEED_FILE", ""), "participant list to ingest when the store is empty")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	logger := config.SetupLogging(cfg.Log)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.UsingDevSecret() {
		log.Warn().Msg("using the built-in development JWT secret, set GATEPASS_JWT_SECRET in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open application")
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("close application")
		}
	}()
	if err := SeedIfEmpty(ctx, a, *seedPath); err != nil {
		log.Fatal().Err(err).Msg("seed participants")
	}

	mux := http.NewServeMux()
	api.NewRouter(api.Deps{
		Participants: a.Participants,
		Ingest:       a.Ingest,
		Checkpoints:  a.Checkpoints,
		Auth:         a.Auth,
		Analytics:    a.Analytics,
		Export:       a.Export,
		DevRoutes:    cfg.DevRoutes,
	}).Register(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "Gatepass API",
			"event":      cfg.Event.Code,
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})
	if local, ok := a.Blobs.(*blob.Local); ok {
		mux.Handle("/files/", local.Handler())
	}

	// Frontend: static files first, else proxy to a dev server.
	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	} else if devURL := config.SafeEnv("GATEPASS_DEV_FRONTEND_URL", ""); devURL != "" {
		if u, err := url.Parse(devURL); err == nil {
			rp := httputil.NewSingleHostReverseProxy(u)
			rp.ModifyResponse = func(res *http.Response) error {
				res.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
				return nil
			}
			mux.Handle("/", rp)
		} else {
			log.Warn().Err(err).Str("url", devURL).Msg("invalid GATEPASS_DEV_FRONTEND_URL")
		}
	}

	// RequestLog sits inside WithAuth so it can log the actor.
	handler := middleware.CORS(cfg.CORSOrigins)(
		middleware.SecureHeaders(
			middleware.NoStore(
				a.Gate.WithAuth(middleware.RequestLog(logger)(mux)))))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()

	log.Info().Str("addr", cfg.Addr).Str("event", cfg.Event.Code).Msg("gatepass server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}
