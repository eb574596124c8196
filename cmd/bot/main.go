// cmd/bot/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"astro-bot/internal/bot"
	"astro-bot/internal/config"
	"astro-bot/internal/db"
	"astro-bot/internal/delivery"
	"astro-bot/internal/gpt"
	"astro-bot/internal/ledger"
	"astro-bot/internal/lock"
	"astro-bot/internal/payment"
	"astro-bot/internal/queue"
	"astro-bot/internal/render"
	"astro-bot/internal/server"
	"astro-bot/internal/storage"
	"astro-bot/internal/webhook"
	"astro-bot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDevelopment().Fatalw("Failed to load config", "error", err)
	}

	l := logger.New(cfg.Log.Development)
	defer func() { _ = l.Sync() }()

	l.Infow("Starting astrology bot...")

	if err := run(cfg, l); err != nil {
		l.Fatalw("Bot stopped with error", "error", err)
	}
	l.Infow("Bot stopped successfully")
}

func run(cfg *config.Config, l *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openLedger(cfg.DB, l)
	if err != nil {
		return err
	}
	defer closeStore()

	timeouts := delivery.Timeouts{
		Generate: cfg.Delivery.GenerateTimeout,
		Render:   cfg.Delivery.RenderTimeout,
		Upload:   cfg.Delivery.UploadTimeout,
		Send:     cfg.Delivery.SendTimeout,
		LockWait: cfg.Delivery.LockWait,
	}

	locker, closeLocker, err := newLocker(ctx, cfg.Redis, timeouts.RunBudget(gpt.MaxParts), l)
	if err != nil {
		return err
	}
	defer closeLocker()

	blobs, err := storage.NewS3Store(ctx, cfg.S3)
	if err != nil {
		return err
	}

	stripeClient := payment.NewStripeClient(cfg.Stripe)

	gptClient := gpt.NewClient(cfg.GPT.APIKey).
		WithModel(cfg.GPT.Model).
		WithMaxTokens(cfg.GPT.MaxTokens).
		WithTemperature(cfg.GPT.Temperature).
		WithRetries(cfg.GPT.Retries)

	api, err := bot.NewAPI(cfg.Telegram.Token, "", nil)
	if err != nil {
		return err
	}
	api.Debug = cfg.Telegram.Debug

	worker := delivery.NewWorker(
		store,
		gptClient,
		render.NewPDFRenderer(cfg.PDF),
		blobs,
		bot.NewSender(api, l.Named("sender")),
		l.Named("delivery"),
		delivery.WithLocker(locker),
		delivery.WithMaxTokens(cfg.GPT.MaxTokens),
		delivery.WithTimeouts(timeouts),
	)

	g, gctx := errgroup.WithContext(ctx)

	var jobs queue.Queue
	switch cfg.Queue.Driver {
	case "amqp":
		broker, err := queue.DialAMQP(cfg.Queue.AMQPURL, cfg.Queue.QueueName, l.Named("queue"))
		if err != nil {
			return err
		}
		defer broker.Close()

		g.Go(func() error {
			if err := broker.Consume(gctx, cfg.Queue.Workers, worker.Handle); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("delivery consumer: %w", err)
			}
			return nil
		})
		jobs = broker

	default:
		pool := queue.NewPool(cfg.Queue.Workers, cfg.Queue.Buffer, worker.Handle, l.Named("queue"))
		pool.Start(context.Background())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := pool.Stop(shutdownCtx); err != nil {
				l.Errorw("Delivery jobs were cut short by shutdown", "error", err)
			}
		}()
		jobs = pool
	}

	httpServer := server.NewServer(
		cfg.Server.Port,
		webhook.NewHandler(stripeClient, store, jobs, l.Named("webhook")),
		l.Named("http"),
	)
	telegramBot := bot.NewTelegramBot(api, store, stripeClient, jobs, l.Named("bot"))

	g.Go(func() error {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Infow("Shutting down bot...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Stop(shutdownCtx)
	})
	g.Go(func() error {
		return telegramBot.Run(gctx)
	})

	return g.Wait()
}

// openLedger connects to PostgreSQL, retrying while the database starts up.
func openLedger(cfg config.DB, l *logger.Logger) (ledger.Ledger, func(), error) {
	if cfg.Driver == "memory" {
		l.Warnw("Using in-memory ledger, payments are lost on restart")
		return ledger.NewMemory(), func() {}, nil
	}

	const maxRetries = 5

	var (
		database *db.PostgresDB
		err      error
	)
	for i := 0; i < maxRetries; i++ {
		database, err = db.NewPostgresDB(cfg)
		if err == nil {
			return database, database.Close, nil
		}
		l.Errorw("Failed to connect to database, retrying...", "attempt", i+1, "error", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return nil, nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
}

// newLocker returns a Redis lock when Redis is configured, so several bot
// instances never generate the same report twice. The lock TTL is raised to
// runBudget so it cannot expire under a run that is still within its
// timeouts.
func newLocker(ctx context.Context, cfg config.Redis, runBudget time.Duration, l *logger.Logger) (delivery.Locker, func(), error) {
	if cfg.Addr == "" {
		return lock.NewLocal(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := lockTTL(cfg.LockTTL, runBudget)
	l.Infow("Using Redis delivery lock", "addr", cfg.Addr, "ttl", ttl)
	return lock.NewRedis(client, ttl), func() { _ = client.Close() }, nil
}

func lockTTL(configured, runBudget time.Duration) time.Duration {
	const margin = 30 * time.Second
	if floor := runBudget + margin; configured < floor {
		return floor
	}
	return configured
}
