package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Spok95/shipment-recon/internal/bot"
	"github.com/Spok95/shipment-recon/internal/config"
	"github.com/Spok95/shipment-recon/internal/dialog"
	"github.com/Spok95/shipment-recon/internal/domain/catalog"
	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/inventory"
	"github.com/Spok95/shipment-recon/internal/domain/orders"
	"github.com/Spok95/shipment-recon/internal/domain/users"
	"github.com/Spok95/shipment-recon/internal/infra/db"
	"github.com/Spok95/shipment-recon/internal/infra/events"
	httpx "github.com/Spok95/shipment-recon/internal/infra/http"
	"github.com/Spok95/shipment-recon/internal/infra/logger"
	"github.com/Spok95/shipment-recon/internal/infra/memstore"
	"github.com/Spok95/shipment-recon/internal/infra/metrics"
	"github.com/Spok95/shipment-recon/internal/infra/pgstore"
	"github.com/Spok95/shipment-recon/internal/recon"
	"github.com/Spok95/shipment-recon/migrations"
)

func runMigrations(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	goose.SetBaseFS(migrations.FS)
	return goose.Up(sqlDB, ".")
}

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/example.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogFormat)
	if err := run(cfg, log); err != nil {
		log.Error("service stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("graceful shutdown complete")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	var pub events.Publisher = events.NewLogPublisher(log)
	if len(cfg.Events.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		defer func() { _ = kp.Close() }()
		pub = kp
		log.Info("publishing shipment events to kafka", "topic", cfg.Events.Topic)
	}

	classifier := codes.Classifier{
		MasterPrefix:     cfg.Codes.MasterPrefix,
		UniquePrefix:     cfg.Codes.UniquePrefix,
		TrackingSegments: cfg.Codes.TrackingSegments,
	}
	engineCfg := recon.Config{
		BatchTimeout:      cfg.Engine.BatchTimeout,
		CommitTimeout:     cfg.Engine.CommitTimeout,
		KeepAliveInterval: cfg.Engine.KeepAliveInterval,
		MaxBatchSize:      cfg.Engine.MaxBatchSize,
		ReversalAttempts:  cfg.Engine.ReversalAttempts,
		ReversalBackoff:   cfg.Engine.ReversalBackoff,
		EventTimeout:      cfg.Engine.EventTimeout,
	}

	var (
		engine *recon.Engine
		stock  httpx.Stock
		tgBot  *bot.Bot
	)
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		st := memstore.New()
		if cfg.Storage.SeedFile != "" {
			if err := st.LoadSeedFile(cfg.Storage.SeedFile); err != nil {
				return err
			}
			log.Info("in-memory storage seeded", "file", cfg.Storage.SeedFile)
		} else {
			log.Warn("in-memory storage has no seed file, every code scan will be rejected as not found")
		}
		engine = recon.New(engineCfg, classifier, recon.Deps{
			UoW: st, Orders: st, Ledger: st, Catalog: st,
			Events: pub, Metrics: m, Log: log,
		})
		stock = st
		if cfg.Telegram.Token != "" {
			log.Warn("telegram bot needs postgres storage, bot disabled")
		}

	default:
		if err := runMigrations(cfg.Postgres.DSN); err != nil {
			return err
		}
		log.Info("migrations applied")

		pool, err := db.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		log.Info("db connected")

		ledgerRepo := inventory.NewRepo(pool)
		catalogRepo := catalog.NewRepo(pool)
		ledger := inventory.NewBreaker(ledgerRepo, inventory.BreakerSettings{
			MaxRequests:      cfg.LedgerBreaker.MaxRequests,
			Interval:         cfg.LedgerBreaker.Interval,
			Timeout:          cfg.LedgerBreaker.Timeout,
			FailureThreshold: cfg.LedgerBreaker.FailureThreshold,
		}, log)

		engine = recon.New(engineCfg, classifier, recon.Deps{
			UoW:     pgstore.NewUnitOfWork(pool),
			Orders:  orders.NewRepo(pool),
			Ledger:  ledger,
			Catalog: catalogRepo,
			Events:  pub,
			Metrics: m,
			Log:     log,
		})
		stock = ledgerRepo

		if cfg.Telegram.Token != "" {
			api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
			if err != nil {
				return err
			}
			tgBot = bot.New(api, log, users.NewRepo(pool), dialog.NewRepo(pool), catalogRepo,
				engine, ledger, cfg.Telegram.AdminChatID)
			log.Info("telegram bot authorized", "username", api.Self.UserName)
		}
	}

	srv := httpx.New(cfg.HTTP.Addr, httpx.Deps{
		Engine:        engine,
		Stock:         stock,
		Log:           log,
		ExposeMetrics: cfg.Metrics.Enabled,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server started", "addr", cfg.HTTP.Addr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if tgBot != nil {
		g.Go(func() error {
			err := tgBot.Run(gctx, cfg.Telegram.TimeoutSec)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
