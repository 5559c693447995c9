package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jmhodges/clock"

	"stembot/internal/bot"
	"stembot/internal/config"
	"stembot/internal/logging"
	"stembot/internal/repository"
	"stembot/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	baseLogger, err := logging.New("stembot", cfg.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer baseLogger.Sync()
	logger := baseLogger.Sugar()

	if cfg.TelegramToken == "" {
		logger.Fatal("TELEGRAM_TOKEN is required")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Debug: cfg.Debug}); err != nil {
			logger.Fatalw("sentry init", "err", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalw("display time zone", "err", err)
	}

	db, err := repository.NewDB(cfg.DatabaseURL, baseLogger)
	if err != nil {
		logger.Fatalw("db", "err", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	clk := clock.New()
	taskRepo := repository.NewTaskRepository(db)
	linkRepo := repository.NewLinkRepository(db)

	linkSvc := service.NewLinkService(linkRepo, clk, service.LinkConfig{
		TokenDigits:     cfg.TokenDigits,
		AllowRelink:     cfg.AllowRelink,
		DefaultLocation: loc,
	}, logger.Named("link"))
	overdue := service.NewOverdueEvaluator(taskRepo, clk)
	taskSvc := service.NewTaskService(taskRepo, overdue, clk, cfg.OverdueGrace)

	api, err := bot.NewAPI(cfg.TelegramToken)
	if err != nil {
		logger.Fatalw("bot", "err", err)
	}
	sender := bot.NewTelegramSender(api)

	notifier := service.NewNotifier(taskRepo, linkSvc, sender, clk, service.NotifierConfig{
		PollInterval: cfg.PollInterval,
		Pause:        cfg.DeliveryPause,
	}, logger.Named("notifier"))
	go func() {
		if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("notifier stopped", "err", err)
		}
	}()

	if cfg.DigestAt != "" {
		digest := service.NewDigestService(taskSvc, linkSvc, sender, clk, logger.Named("digest"))
		scheduler := service.NewSchedulerService(loc, baseLogger)
		id, err := scheduler.ScheduleDaily(cfg.DigestAt, func() {
			jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()
			if err := digest.SendAll(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("digest", "err", err)
				sentry.CaptureException(err)
			}
		})
		if err != nil {
			logger.Fatalw("schedule digest", "err", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Infow("daily digest scheduled", "at", cfg.DigestAt, "next", scheduler.Next(id))
	}

	telegramBot := bot.New(api, linkSvc, taskSvc, logger.Named("bot"))
	logger.Info("stem bot started")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalw("bot stopped with error", "err", err)
	}
	logger.Info("shutdown complete")
}
