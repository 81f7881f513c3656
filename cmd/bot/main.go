// Package main contains the entrypoint for the birthday bot application.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"birthdaybot/internal/bot"
	"birthdaybot/internal/config"
	"birthdaybot/internal/engine"
	"birthdaybot/internal/greeting"
	"birthdaybot/internal/history"
	"birthdaybot/internal/kandinsky"
	"birthdaybot/internal/ledger"
	"birthdaybot/internal/logger"
	"birthdaybot/internal/roster"
	"birthdaybot/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components, handles graceful
// shutdown, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "", "Path to configuration file (default: ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := history.NewDB(cfg.Paths.HistoryDB)
	if err != nil {
		log.Error("Failed to open history database", "path", cfg.Paths.HistoryDB, "error", err)
		return 1
	}
	defer history.CloseDB(db)
	historyStore := history.NewStore(db, log)

	renderer, err := greeting.NewClient(ctx, greeting.Config{
		APIKey:            cfg.AI.APIKey,
		ModelName:         cfg.AI.Model,
		Temperature:       cfg.AI.Temperature,
		MaxRetries:        cfg.AI.MaxRetries,
		RetryDelaySeconds: cfg.AI.RetryDelaySeconds,
		PromptPath:        cfg.AI.PromptPath,
		BelatedPromptPath: cfg.AI.BelatedPromptPath,
	}, log)
	if err != nil {
		log.Error("Failed to initialize greeting client", "error", err)
		return 1
	}

	var images engine.ImageGenerator
	var imageClient *kandinsky.Client
	if cfg.Kandinsky.Enabled() {
		imageClient, err = kandinsky.NewClient(kandinsky.Config{
			BaseURL:         cfg.Kandinsky.BaseURL,
			APIKey:          cfg.Kandinsky.APIKey,
			SecretKey:       cfg.Kandinsky.SecretKey,
			ImagesDir:       cfg.Kandinsky.ImagesDir,
			PromptPath:      cfg.Kandinsky.PromptPath,
			Width:           cfg.Kandinsky.Width,
			Height:          cfg.Kandinsky.Height,
			PollInterval:    cfg.Kandinsky.PollInterval,
			MaxPollAttempts: cfg.Kandinsky.MaxPollAttempts,
			JobTimeout:      cfg.Kandinsky.JobTimeout,
		}, log)
		if err != nil {
			log.Error("Failed to initialize image generation client", "error", err)
			return 1
		}
		images = imageClient
	} else {
		log.Info("Image generation disabled, no Fusion Brain keys configured")
	}

	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}
	dispatcher := telegram.NewDispatcher(tg, log)

	rosterLoader := roster.NewLoader(cfg.Paths.UsersFile, log)
	ledgerStore := ledger.NewStore(cfg.Paths.LedgerFile, log)

	eng := engine.New(
		log,
		engine.Config{
			RetryWindowDays: cfg.Engine.RetryWindowDays,
			MessageDelay:    cfg.Engine.MessageDelay,
			DefaultChatID:   cfg.Telegram.DefaultChatID,
			Fallback: engine.FallbackMessages{
				Normal:  cfg.Engine.FallbackMessage,
				Belated: cfg.Engine.FallbackBelatedMessage,
			},
		},
		ledgerStore,
		rosterLoader,
		renderer,
		images,
		dispatcher,
		bot.NewHistoryAuditor(historyStore),
	)

	greetingTime := rosterLoader.Load().GreetingTime
	tick := func(tickCtx context.Context) error {
		_, err := eng.RunTick(tickCtx)
		return err
	}
	sched, err := bot.NewScheduler(log, greetingTime, tick)
	if err != nil {
		log.Error("Failed to create scheduler", "greeting_time", greetingTime, "error", err)
		return 1
	}

	app := bot.NewBot(log, eng, sched, rosterLoader)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if imageClient != nil && cfg.Kandinsky.ImageMaxAge > 0 {
		imageClient.CleanupOldImages(cfg.Kandinsky.ImageMaxAge)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
