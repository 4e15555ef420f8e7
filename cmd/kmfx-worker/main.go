package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kmfx/internal/config"
	"kmfx/internal/db"
	"kmfx/internal/ledger"
	"kmfx/internal/logger"
	"kmfx/internal/notify"
	"kmfx/internal/portal"
	"kmfx/internal/scheduler"
	"kmfx/internal/store/postgres"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type worker struct {
	cfg      config.WorkerConfig
	log      zerolog.Logger
	relay    *notify.Relay
	portal   *portal.Service
	discord  *notify.Discord
	whatsapp *notify.WhatsApp
}

func main() {
	pair := flag.Bool("pair", false, "link a WhatsApp device by scanning a QR code, then exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("load config file")
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	lg := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger.SetGlobal(lg)

	w := &worker{cfg: cfg, log: lg}

	if cfg.WhatsAppDSN != "" {
		w.whatsapp, err = notify.NewWhatsApp(ctx, cfg.WhatsAppDialect, cfg.WhatsAppDSN, lg)
		if err != nil {
			lg.Fatal().Err(err).Msg("whatsapp init failed")
		}
		defer w.whatsapp.Close()
	}
	if *pair {
		if w.whatsapp == nil {
			lg.Fatal().Msg("KMFX_WHATSAPP_DSN is required to pair")
		}
		if err := w.whatsapp.Pair(ctx, os.Stdout); err != nil {
			lg.Fatal().Err(err).Msg("pairing failed")
		}
		lg.Info().Msg("whatsapp device paired")
		return
	}

	pool, err := db.Connect(ctx, db.PoolConfig{URL: cfg.DatabaseURL, ApplicationName: "kmfx-worker", MaxConns: 4})
	if err != nil {
		lg.Fatal().Err(err).Msg("db connect failed")
	}
	defer pool.Close()

	var senders []notify.Sender
	if cfg.DiscordWebhookURL != "" {
		w.discord, err = notify.NewDiscord(cfg.DiscordWebhookURL)
		if err != nil {
			lg.Fatal().Err(err).Msg("discord init failed")
		}
		senders = append(senders, w.discord)
	}
	if w.whatsapp != nil {
		if err := w.whatsapp.Connect(); err != nil {
			lg.Warn().Err(err).Msg("whatsapp unavailable, relaying without it")
			w.whatsapp = nil
		} else {
			senders = append(senders, w.whatsapp)
		}
	}

	hub := notify.NewHub(pool, lg)
	audit := portal.NewAuditLog(pool, lg)
	w.relay = notify.NewRelay(hub, lg, senders...)
	w.portal = portal.NewService(pool, portal.Deps{
		Ledger:   ledger.NewService(postgres.New(pool), hub, audit, lg),
		Notifier: hub,
		Audit:    audit,
	}, lg)

	sched := scheduler.New(lg)
	relayJob := scheduler.Func{JobName: "notification_relay", Fn: func() error { return w.runRelay(ctx) }}
	licenseJob := scheduler.Func{JobName: "license_reminders", Fn: func() error { return w.runLicenseReminders(ctx) }}
	digestJob := scheduler.Func{JobName: "owner_digest", Fn: func() error { return w.runDigest(ctx) }}

	if cfg.RunOnce {
		if err := sched.RunAll(relayJob, licenseJob, digestJob); err != nil {
			lg.Fatal().Err(err).Msg("worker run-once failed")
		}
		lg.Info().Msg("worker run-once completed")
		return
	}

	for _, j := range []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.RelaySchedule, relayJob},
		{cfg.LicenseSchedule, licenseJob},
		{cfg.DigestSchedule, digestJob},
	} {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			lg.Fatal().Err(err).Str("job", j.job.Name()).Msg("bad schedule")
		}
	}
	sched.Start()
	lg.Info().Int("senders", len(senders)).Msg("worker started")
	<-ctx.Done()
	sched.Stop()
	lg.Info().Msg("worker shutdown")
}

func (w *worker) runRelay(ctx context.Context) error {
	stats, err := w.relay.RunOnce(ctx, w.cfg.RelayBatch)
	if err != nil {
		return err
	}
	if stats.Sent > 0 || stats.Failed > 0 {
		w.log.Info().Int("sent", stats.Sent).Int("failed", stats.Failed).Msg("relay pass")
	}
	return nil
}

func (w *worker) runLicenseReminders(ctx context.Context) error {
	n, err := w.portal.RemindExpiring(ctx, w.cfg.LicenseWindow)
	if err != nil {
		return err
	}
	w.log.Info().Int("reminded", n).Msg("license reminders sent")
	return nil
}

func (w *worker) runDigest(ctx context.Context) error {
	sum, err := w.portal.Summary(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	month, err := w.portal.MonthlyRevenue(ctx, portal.DateRange{From: &monthStart})
	if err != nil {
		return err
	}
	text := portal.Digest(sum, month)
	if w.discord != nil {
		if err := w.discord.Post(ctx, text); err != nil {
			w.log.Error().Err(err).Msg("digest to discord failed")
		}
	}
	if w.whatsapp != nil && w.cfg.OwnerPhone != "" {
		if err := w.whatsapp.SendText(ctx, w.cfg.OwnerPhone, text); err != nil {
			w.log.Error().Err(err).Msg("digest to whatsapp failed")
		}
	}
	return nil
}
