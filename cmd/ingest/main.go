// Command ingest loads a participant list into the store, issues tickets
// and emails them. It can also repair doubled institutional domains.
package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/soaringjerry/Gatepass/internal/app"
	"github.com/soaringjerry/Gatepass/internal/config"
	"github.com/soaringjerry/Gatepass/internal/services"
)

func main() {
	var (
		configPath   = pflag.String("config", "", "YAML config file (default $GATEPASS_CONFIG)")
		file         = pflag.StringP("file", "f", "data/participants.txt", "participant list, - for stdin")
		dryRun       = pflag.Bool("dry-run", false, "validate and dedup without writing or sending")
		noEmail      = pflag.Bool("no-email", false, "issue tickets without emailing them")
		strictRoles  = pflag.Bool("strict-roles", false, "reject rows with an unknown role")
		repairEmails = pflag.Bool("repair-emails", false, "fix doubled institutional domains instead of ingesting")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	config.SetupLogging(cfg.Log)
	if *strictRoles {
		cfg.StrictRoles = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open application")
	}
	code := run(ctx, a, *file, *repairEmails, services.IngestOptions{DryRun: *dryRun, SkipNotify: *noEmail}, os.Stdout)
	if err := a.Close(); err != nil {
		log.Warn().Err(err).Msg("close application")
	}
	os.Exit(code)
}

func run(ctx context.Context, a *app.App, file string, repair bool, opts services.IngestOptions, out io.Writer) int {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if repair {
		fixes, err := a.Participants.RepairEmails(ctx, opts.DryRun)
		if err != nil {
			log.Error().Err(err).Msg("repair emails")
			return 1
		}
		_ = enc.Encode(map[string]any{"dry_run": opts.DryRun, "repaired": fixes})
		return 0
	}

	var in io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("open participant list")
			return 1
		}
		defer f.Close()
		in = f
	}
	report, err := a.Ingest.IngestReader(ctx, in, opts)
	if err != nil {
		log.Error().Err(err).Msg("ingest")
		return 1
	}
	_ = enc.Encode(report)
	log.Info().
		Int("inserted", len(report.Inserted)).
		Int("skipped", len(report.Skipped)).
		Int("rejected", len(report.Rejected)).
		Int("notified", report.Notified).
		Msg("ingest finished")
	return 0
}
