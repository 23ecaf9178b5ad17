/**
 * @description
 * This is the main entry point for the VPN subscription service. It wires the
 * subscription ledger, the Marzban provisioning client, the YooKassa payment
 * pipeline, the reconciliation sweeper and the Telegram chat layer, then serves
 * the inbound webhooks over HTTP.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: purchase message store.
 * - github.com/go-telegram-bot-api/telegram-bot-api/v5: Bot API client.
 * - github.com/joho/godotenv: For loading .env files during local development.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/finik/vpn-subscription-service/internal/api"
	"github.com/finik/vpn-subscription-service/internal/app"
	"github.com/finik/vpn-subscription-service/internal/bot"
	"github.com/finik/vpn-subscription-service/internal/config"
	"github.com/finik/vpn-subscription-service/internal/store"
	"github.com/finik/vpn-subscription-service/pkg/marzban"
	"github.com/finik/vpn-subscription-service/pkg/rabbitmq"
	"github.com/finik/vpn-subscription-service/pkg/telegram"
	"github.com/finik/vpn-subscription-service/pkg/yookassa"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("starting vpn subscription service", "port", cfg.ServerPort, "store", cfg.StoreDriver)

	ctx := context.Background()

	var repository store.Repository
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; state is lost on restart")
		repository = store.NewMemoryRepository()
	default:
		dbpool, err := connectDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("unable to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbpool.Close()
		logger.Info("database connection established")

		if err := store.RunMigrations(dbpool, logger); err != nil {
			logger.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		repository = store.NewPostgresRepository(dbpool)
	}

	var messages app.MessageStore = store.NewMemoryMessageStore(store.DefaultMessageTTL)
	if redisClient := connectRedis(cfg.RedisURL, logger); redisClient != nil {
		defer redisClient.Close()
		messages = store.NewRedisMessageStore(redisClient, "vpnbot:messages", store.DefaultMessageTTL)
	}

	var events rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if cfg.RabbitMQURL == "" {
		logger.Warn("rabbitmq url missing; domain events disabled", "env", "RABBITMQ_URL")
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
	} else {
		events = producer
		logger.Info("rabbitmq producer connected")
	}
	defer events.Close()

	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		logger.Error("failed to authorize telegram bot", "error", err)
		os.Exit(1)
	}
	logger.Info("telegram bot authorized", "username", botAPI.Self.UserName)
	notifier := telegram.NewNotifier(botAPI, cfg.TelegramRateLimit)

	vpn := marzban.NewClient(marzban.Config{
		BaseURL:         cfg.MarzbanURL,
		Username:        cfg.MarzbanUsername,
		Password:        cfg.MarzbanPassword,
		InboundProtocol: cfg.MarzbanInboundProtocol,
		TokenTTL:        cfg.MarzbanTokenTTL(),
		InsecureTLS:     cfg.MarzbanInsecureTLS,
	})
	payments := yookassa.NewClient("", cfg.YooKassaShopID, cfg.YooKassaSecretKey)
	location := cfg.DisplayLocation()

	ledger := app.NewLedger(repository, cfg.TelegramBotUsername, logger)
	referrals := app.NewReferralGraph(repository, ledger, cfg.ReferralBonusDays, logger)
	processor := app.NewPaymentProcessor(repository, ledger, referrals, vpn, notifier, messages, events, location, logger)
	checkout := app.NewCheckout(payments, cfg.YooKassaReturnURL, cfg.YooKassaReceiptEmail, logger)
	installer := app.NewInstaller(ledger, vpn, logger)
	sweeper := app.NewSweeper(repository, ledger, vpn, notifier, events, logger, *cfg)

	scheduler := app.NewScheduler(sweeper, logger, *cfg)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	chat := bot.NewHandler(ledger, referrals, checkout, installer, notifier, messages, location, cfg.SupportURL, logger)

	yookassaHandler := api.NewYooKassaWebhookHandler(processor, payments, logger, api.DefaultProcessingTimeout)
	var telegramHandler *api.TelegramWebhookHandler
	var updateRoute http.Handler
	if cfg.TelegramPolling {
		go pollUpdates(botAPI, chat, logger)
		logger.Info("telegram long polling started")
	} else {
		telegramHandler = api.NewTelegramWebhookHandler(chat, cfg.TelegramWebhookSecret, logger, api.DefaultProcessingTimeout)
		updateRoute = telegramHandler
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: api.Routes(yookassaHandler, updateRoute),
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown logic.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received, stopping service")

	if cfg.TelegramPolling {
		botAPI.StopReceivingUpdates()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	<-scheduler.Stop().Done()
	yookassaHandler.Wait()
	if telegramHandler != nil {
		telegramHandler.Wait()
	}
	logger.Info("service stopped gracefully")
}

func connectDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	return pgxpool.NewWithConfig(ctx, poolConfig)
}

// connectRedis returns nil when redis is not configured or unreachable; callers
// fall back to the in-process message store.
func connectRedis(redisURL string, logger *slog.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Warn("redis url missing; using in-memory message store", "env", "REDIS_URL")
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; using in-memory message store", "error", err)
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; using in-memory message store", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}

func pollUpdates(botAPI *tgbotapi.BotAPI, chat *bot.Handler, logger *slog.Logger) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	for update := range botAPI.GetUpdatesChan(u) {
		ctx, cancel := context.WithTimeout(context.Background(), api.DefaultProcessingTimeout)
		if err := chat.HandleUpdate(ctx, update); err != nil {
			logger.Error("failed to handle telegram update", "update_id", update.UpdateID, "error", err)
		}
		cancel()
	}
}
